// Package server builds the gRPC server: otelgrpc instrumentation, request interceptors and
// the standard health service.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"session-hub/internal/server/interceptors"
)

// Deps holds service dependencies for the gRPC server.
type Deps struct {
	// Health is the health service. If nil, a server that always reports SERVING is registered.
	Health *grpchealth.Server
	// Logger receives per-RPC logs. If nil, RPCs are not logged.
	Logger *zap.Logger
	// Requests counts RPCs by method and status code. Optional.
	Requests metric.Int64Counter
}

// skipLogging lists methods polled often enough that logging each call is noise.
var skipLogging = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// New returns a gRPC server with tracing/metrics stats handler, request id and telemetry
// interceptors, and every service registered.
func New(deps Deps) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RequestIDUnary(),
			interceptors.TelemetryUnary(deps.Logger, deps.Requests, skipLogging),
		),
	)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers all gRPC services with the given server.
//
//   - grpc.health.v1.Health → internal/health
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	hs := deps.Health
	if hs == nil {
		hs = grpchealth.NewServer()
	}
	healthpb.RegisterHealthServer(s, hs)
}
