package otel

import (
	"context"
	"strconv"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"session-hub/internal/telemetry"
)

// loggerName scopes session event log records.
const loggerName = "session-hub.sessions"

// Emitter is the subset of otellog.Logger used to emit records.
type Emitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(loggerName)}
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger directly.
func NewEventEmitterWithLogger(logger Emitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *telemetry.SessionEvent) error { return nil }

type otelEmitter struct {
	logger Emitter
}

// Emit converts the session event to an OTel log record and emits it.
func (e *otelEmitter) Emit(ctx context.Context, event *telemetry.SessionEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetBody(otellog.StringValue(event.Type))
	rec.SetSeverity(severity(event.Type))
	if event.ID != "" {
		rec.AddAttributes(otellog.String("event_id", event.ID))
	}
	if event.Type != "" {
		rec.AddAttributes(otellog.String("event_type", event.Type))
	}
	if event.Number != "" {
		rec.AddAttributes(otellog.String("number", event.Number))
	}
	if event.Epoch != 0 {
		rec.AddAttributes(otellog.String("epoch", strconv.FormatUint(event.Epoch, 10)))
	}
	if event.Reason != "" {
		rec.AddAttributes(otellog.String("reason", event.Reason))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func severity(eventType string) otellog.Severity {
	switch eventType {
	case telemetry.EventTerminated, telemetry.EventPairingFailed:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}
