package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultEmitTimeout bounds a single dispatched emit.
const DefaultEmitTimeout = 5 * time.Second

// Dispatcher sends events on background goroutines so lifecycle transitions never wait on an
// exporter. In-flight sends are tracked so shutdown can drain them before exporters close.
type Dispatcher struct {
	emitter EventEmitter
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher wraps emitter. A nil emitter yields a Dispatcher that drops everything;
// log may be nil.
func NewDispatcher(emitter EventEmitter, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{emitter: emitter, log: log, timeout: DefaultEmitTimeout}
}

// Dispatch emits event asynchronously. Failures are logged, never returned. The send uses its
// own timeout rather than any caller context so cancellation of the caller does not abort it.
func (d *Dispatcher) Dispatch(event *SessionEvent) {
	if d == nil || d.emitter == nil || event == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.emitter.Emit(ctx, event); err != nil {
			d.log.Warn("telemetry: async emit failed",
				zap.String("type", event.Type), zap.String("number", event.Number), zap.Error(err))
		}
	}()
}

// Drain waits for in-flight sends or ctx, whichever comes first.
func (d *Dispatcher) Drain(ctx context.Context) error {
	if d == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
