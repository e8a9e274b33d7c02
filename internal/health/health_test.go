package health

import (
	"context"
	"errors"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr error
	calls   int
}

func (m *mockPinger) PingContext(context.Context) error {
	m.calls++
	return m.pingErr
}

func status(t *testing.T, c *Checker, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestChecker_NotServingUntilReady(t *testing.T) {
	c := NewChecker(nil)
	if got := status(t, c, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := status(t, c, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status before ready = %v, want NOT_SERVING", got)
	}
}

func TestChecker_ServingWhenPingersSucceed(t *testing.T) {
	c := NewChecker(nil)
	db := &mockPinger{}
	c.Add("db", db)
	c.Add("nil", nil)
	if err := c.MarkReady(context.Background()); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if got := status(t, c, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", got)
	}
	if db.calls != 1 {
		t.Errorf("ping calls = %d, want 1", db.calls)
	}
}

func TestChecker_PingFailureFlipsStatus(t *testing.T) {
	c := NewChecker(nil)
	db := &mockPinger{}
	c.Add("db", db)
	_ = c.MarkReady(context.Background())

	db.pingErr = errors.New("connection refused")
	if err := c.Check(context.Background()); err == nil {
		t.Fatal("Check must return the ping error")
	}
	if got := status(t, c, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}

	db.pingErr = nil
	_ = c.Check(context.Background())
	if got := status(t, c, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status after recovery = %v, want SERVING", got)
	}
}

func TestPingFunc(t *testing.T) {
	want := errors.New("down")
	if err := PingFunc(func(context.Context) error { return want }).PingContext(context.Background()); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}
