// Package besteffort models persistence writes whose failure must not abort the caller.
// A write produces a Result that is handed to a Recorder, which makes failures observable
// (logs, metrics, tests) instead of discarding them.
package besteffort

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Result is the outcome of one best-effort write.
type Result struct {
	// Op names the write (e.g. "credential.put", "directory.remove").
	Op string
	// Key is the record key the write targeted (number or identity key).
	Key string
	// Err is nil on success.
	Err error
}

// OK reports whether the write succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Recorder observes best-effort results.
type Recorder interface {
	Record(ctx context.Context, r Result)
}

// Do runs fn, records its outcome on rec and returns it. rec may be nil.
func Do(ctx context.Context, rec Recorder, op, key string, fn func(context.Context) error) Result {
	r := Result{Op: op, Key: key, Err: fn(ctx)}
	if rec != nil {
		rec.Record(ctx, r)
	}
	return r
}

// LogRecorder logs failed writes and counts them on an optional OTel counter.
type LogRecorder struct {
	log      *zap.Logger
	failures metric.Int64Counter
}

// NewLogRecorder returns a Recorder that logs failures at warn level. failures may be nil.
func NewLogRecorder(log *zap.Logger, failures metric.Int64Counter) *LogRecorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogRecorder{log: log, failures: failures}
}

// Record logs and counts r when it failed; successful writes are only logged at debug.
func (l *LogRecorder) Record(ctx context.Context, r Result) {
	if r.OK() {
		l.log.Debug("best-effort write", zap.String("op", r.Op), zap.String("key", r.Key))
		return
	}
	l.log.Warn("best-effort write failed", zap.String("op", r.Op), zap.String("key", r.Key), zap.Error(r.Err))
	if l.failures != nil {
		l.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", r.Op)))
	}
}

// Collector keeps every result in memory. Used by tests and diagnostics.
type Collector struct {
	mu      sync.Mutex
	results []Result
}

// Record appends r.
func (c *Collector) Record(_ context.Context, r Result) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

// Results returns a copy of the recorded results.
func (c *Collector) Results() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Result, len(c.results))
	copy(out, c.results)
	return out
}

// Failures returns only the failed results.
func (c *Collector) Failures() []Result {
	var out []Result
	for _, r := range c.Results() {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}
