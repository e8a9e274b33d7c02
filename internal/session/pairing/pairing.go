// Package pairing obtains a pairing code from the transport with bounded, linearly spaced retries.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"session-hub/internal/platform/clock"
)

// ErrFailed is returned when every attempt failed.
var ErrFailed = errors.New("pairing: no code after retries")

// RequestFunc asks the transport for a pairing code once.
type RequestFunc func(ctx context.Context, number string) (string, error)

// Coordinator retries pairing-code requests. The zero value is not usable; use New.
type Coordinator struct {
	maxRetries int
	baseDelay  time.Duration
	settle     time.Duration
	timeout    time.Duration
	clock      clock.Clock
	attempts   metric.Int64Counter
	log        *zap.Logger
}

// Options configures a Coordinator.
type Options struct {
	// MaxRetries is the total number of attempts. Values below 1 mean 1.
	MaxRetries int
	// BaseDelay is multiplied by the number of failures so far to get the wait before a retry.
	BaseDelay time.Duration
	// SettleDelay is waited once before the first attempt.
	SettleDelay time.Duration
	// AttemptTimeout bounds each request. Zero leaves attempts bounded only by the caller's ctx.
	AttemptTimeout time.Duration
	Clock       clock.Clock
	// Attempts counts every request sent. May be nil.
	Attempts metric.Int64Counter
	Logger   *zap.Logger
}

// New returns a Coordinator.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		settle:     opts.SettleDelay,
		timeout:    opts.AttemptTimeout,
		clock:      opts.Clock,
		attempts:   opts.Attempts,
		log:        opts.Logger,
	}
	if c.maxRetries < 1 {
		c.maxRetries = 1
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Request waits the settle delay, then calls req up to MaxRetries times. After the i-th
// failure it waits BaseDelay*i before the next attempt; there is no wait after the last one.
// An attempt that outlives AttemptTimeout counts as a failure. Canceling ctx aborts both
// waits and attempts and returns ctx.Err().
func (c *Coordinator) Request(ctx context.Context, number string, req RequestFunc) (string, error) {
	if err := c.clock.Sleep(ctx, c.settle); err != nil {
		return "", err
	}
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.attempts != nil {
			c.attempts.Add(ctx, 1)
		}
		code, err := c.attempt(ctx, number, req)
		if err == nil {
			return code, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		lastErr = err
		remaining := c.maxRetries - attempt
		c.log.Warn("pairing code request failed",
			zap.String("number", number),
			zap.Int("attempt", attempt),
			zap.Int("remaining", remaining),
			zap.Error(err))
		if remaining == 0 {
			break
		}
		if err := c.clock.Sleep(ctx, c.baseDelay*time.Duration(attempt)); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %d attempts: %v", ErrFailed, c.maxRetries, lastErr)
}

func (c *Coordinator) attempt(ctx context.Context, number string, req RequestFunc) (string, error) {
	if c.timeout <= 0 {
		return req(ctx, number)
	}
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return req(actx, number)
}
