// Package clock provides the time source used by timed waits (pairing backoff, grace and
// reconnect delays) so they can be shortened or observed in tests.
package clock

import (
	"context"
	"time"
)

// Clock reports the current time and performs context-aware sleeps.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first. It returns ctx.Err()
	// when the wait was cut short.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Sleep waits on a timer so that cancellation releases the caller immediately.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
