package telemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName scopes every instrument registered by NewMetrics.
const MeterName = "session-hub"

// Metrics holds the instruments recorded by sessions and the ranking engine.
type Metrics struct {
	Connected          metric.Int64UpDownCounter
	Reconnects         metric.Int64Counter
	PairingAttempts    metric.Int64Counter
	BestEffortFailures metric.Int64Counter
	ActivityRecorded   metric.Int64Counter
}

// NewMetrics registers the instruments on meter. A nil meter uses a no-op meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}
	var (
		m   Metrics
		err error
	)
	if m.Connected, err = meter.Int64UpDownCounter("session_hub.sessions.connected",
		metric.WithDescription("Sessions currently connected to the transport.")); err != nil {
		return nil, err
	}
	if m.Reconnects, err = meter.Int64Counter("session_hub.reconnects",
		metric.WithDescription("Reconnections after a transient close.")); err != nil {
		return nil, err
	}
	if m.PairingAttempts, err = meter.Int64Counter("session_hub.pairing.attempts",
		metric.WithDescription("Pairing code requests sent to the transport.")); err != nil {
		return nil, err
	}
	if m.BestEffortFailures, err = meter.Int64Counter("session_hub.besteffort.failures",
		metric.WithDescription("Persistence writes that failed and were swallowed.")); err != nil {
		return nil, err
	}
	if m.ActivityRecorded, err = meter.Int64Counter("session_hub.activity.recorded",
		metric.WithDescription("Inbound messages counted by the ranking engine.")); err != nil {
		return nil, err
	}
	return &m, nil
}

// NoopMetrics returns instruments that record nothing.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(nil)
	return m
}
