package interceptors

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDUnary returns a unary server interceptor that takes the request id from incoming
// metadata, or generates one, stores it in the context and echoes it as a response header.
func RequestIDUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(RequestIDHeader); len(vals) > 0 {
				id = vals[0]
			}
		}
		if id == "" {
			id = uuid.New().String()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))
		return handler(WithRequestID(ctx, id), req)
	}
}

// TelemetryUnary returns a unary server interceptor that logs each RPC and counts it by method
// and status code. requests may be nil. skipMethods is the set of full method names to not
// log (e.g. health checks polled by load balancers); they are still counted.
func TelemetryUnary(log *zap.Logger, requests metric.Int64Counter, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		if requests != nil {
			requests.Add(ctx, 1, metric.WithAttributes(
				attribute.String("rpc.method", info.FullMethod),
				attribute.String("rpc.grpc.status_code", code.String()),
			))
		}
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		requestID, _ := GetRequestID(ctx)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", ClientIP(ctx)),
			zap.String("request_id", requestID),
		}
		if err != nil {
			log.Warn("grpc request failed", append(fields, zap.Error(err))...)
		} else {
			log.Debug("grpc request", fields...)
		}
		return resp, err
	}
}
