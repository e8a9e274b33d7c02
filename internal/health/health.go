// Package health keeps the standard gRPC health service in step with the process: NOT_SERVING
// until boot completes, then SERVING while every registered store answers a ping.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "sessionhub.SessionHub"

// Pinger is a dependency whose reachability gates readiness (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// PingContext calls f.
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Checker owns the gRPC health server status.
type Checker struct {
	srv *grpchealth.Server
	log *zap.Logger

	mu      sync.Mutex
	pingers map[string]Pinger
	ready   bool
}

// NewChecker returns a Checker reporting NOT_SERVING until MarkReady.
func NewChecker(log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Checker{
		srv:     grpchealth.NewServer(),
		log:     log,
		pingers: make(map[string]Pinger),
	}
	c.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return c
}

// Server returns the health service implementation to register on a gRPC server.
func (c *Checker) Server() *grpchealth.Server { return c.srv }

// Add registers a named dependency. A nil pinger is ignored.
func (c *Checker) Add(name string, p Pinger) {
	if p == nil {
		return
	}
	c.mu.Lock()
	c.pingers[name] = p
	c.mu.Unlock()
}

// MarkReady records that boot finished and runs a first check.
func (c *Checker) MarkReady(ctx context.Context) error {
	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	return c.Check(ctx)
}

// Check pings every dependency and updates the serving status. It returns the joined ping errors.
func (c *Checker) Check(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	names := make([]string, 0, len(c.pingers))
	for name := range c.pingers {
		names = append(names, name)
	}
	pingers := make(map[string]Pinger, len(c.pingers))
	for name, p := range c.pingers {
		pingers[name] = p
	}
	c.mu.Unlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := pingers[name].PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	err := errors.Join(errs...)
	switch {
	case !ready:
		c.set(healthpb.HealthCheckResponse_NOT_SERVING)
	case err != nil:
		c.log.Warn("health check failed", zap.Error(err))
		c.set(healthpb.HealthCheckResponse_NOT_SERVING)
	default:
		c.set(healthpb.HealthCheckResponse_SERVING)
	}
	return err
}

// Run re-checks every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, interval)
			_ = c.Check(pctx)
			cancel()
		}
	}
}

// Shutdown reports NOT_SERVING permanently so load balancers drain before the server stops.
func (c *Checker) Shutdown() {
	c.srv.Shutdown()
}

func (c *Checker) set(status healthpb.HealthCheckResponse_ServingStatus) {
	c.srv.SetServingStatus("", status)
	c.srv.SetServingStatus(ServiceName, status)
}
