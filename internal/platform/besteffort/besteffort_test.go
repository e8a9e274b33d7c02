package besteffort

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestDo_RecordsSuccessAndFailure(t *testing.T) {
	c := &Collector{}
	ctx := context.Background()

	ok := Do(ctx, c, "credential.put", "94771234567", func(context.Context) error { return nil })
	if !ok.OK() {
		t.Fatalf("expected success, got %v", ok.Err)
	}
	boom := errors.New("db down")
	bad := Do(ctx, c, "directory.add", "94771234567", func(context.Context) error { return boom })
	if !errors.Is(bad.Err, boom) {
		t.Fatalf("Err = %v, want %v", bad.Err, boom)
	}

	if got := len(c.Results()); got != 2 {
		t.Fatalf("results = %d, want 2", got)
	}
	f := c.Failures()
	if len(f) != 1 || f[0].Op != "directory.add" {
		t.Errorf("failures = %+v", f)
	}
}

func TestDo_NilRecorder(t *testing.T) {
	r := Do(context.Background(), nil, "op", "k", func(context.Context) error { return errors.New("x") })
	if r.OK() {
		t.Error("expected failure result")
	}
}

func TestLogRecorder_NilCounter(t *testing.T) {
	rec := NewLogRecorder(zaptest.NewLogger(t), nil)
	rec.Record(context.Background(), Result{Op: "activity.increment", Key: "a", Err: errors.New("x")})
	rec.Record(context.Background(), Result{Op: "activity.increment", Key: "a"})
}
