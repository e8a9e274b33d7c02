package interceptors

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestRequestIDUnary_UsesIncomingID(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDHeader, "abc"))
	var seen string
	_, err := RequestIDUnary()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/M"}, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen, _ = GetRequestID(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if seen != "abc" {
		t.Errorf("request id = %q, want abc", seen)
	}
}

func TestRequestIDUnary_GeneratesID(t *testing.T) {
	var seen string
	_, _ = RequestIDUnary()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/M"}, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen, _ = GetRequestID(ctx)
		return nil, nil
	})
	if len(seen) != 36 {
		t.Errorf("generated request id = %q, want a uuid", seen)
	}
}

func TestTelemetryUnary_LogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	intercept := TelemetryUnary(zap.New(core), nil, map[string]bool{"/svc/Skip": true})
	fail := func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "down")
	}

	_, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/M"}, fail)
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("err = %v, want the handler error", err)
	}
	_, _ = intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Skip"}, fail)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["method"] != "/svc/M" || fields["code"] != "Unavailable" {
		t.Errorf("fields = %v", fields)
	}
}

func TestTelemetryUnary_NilLogger(t *testing.T) {
	want := errors.New("boom")
	_, err := TelemetryUnary(nil, nil, nil)(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/M"}, func(context.Context, interface{}) (interface{}, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}
