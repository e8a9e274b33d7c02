package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a Clock for tests. Sleeps return immediately and advance Now by the requested
// duration, except for durations put on hold, which block until released or canceled.
type Fake struct {
	mu       sync.Mutex
	now      time.Time
	sleeps   []time.Duration
	held     map[time.Duration]chan struct{}
	sleeping chan time.Duration
}

// NewFake returns a Fake starting at now.
func NewFake(now time.Time) *Fake {
	return &Fake{
		now:      now,
		held:     make(map[time.Duration]chan struct{}),
		sleeping: make(chan time.Duration, 256),
	}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the fake time to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Sleep records d and returns unless d is held.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	gate := f.held[d]
	f.mu.Unlock()

	select {
	case f.sleeping <- d:
	default:
	}

	if gate != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gate:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
	return nil
}

// Hold makes every subsequent Sleep(d) block until Release(d).
func (f *Fake) Hold(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[d]; !ok {
		f.held[d] = make(chan struct{})
	}
}

// Release unblocks sleepers waiting on d and stops holding it.
func (f *Fake) Release(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gate, ok := f.held[d]; ok {
		close(gate)
		delete(f.held, d)
	}
}

// Sleeping delivers each requested sleep duration as the sleep starts. Deliveries are
// dropped when nobody is reading and the buffer is full.
func (f *Fake) Sleeping() <-chan time.Duration {
	return f.sleeping
}

// Sleeps returns a copy of every duration passed to Sleep, in call order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}
