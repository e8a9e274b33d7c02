// Package telemetry carries session lifecycle events and the OTel instruments shared by the
// session manager and the ranking engine.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Session lifecycle event types.
const (
	EventConnected     = "session.connected"
	EventReconnecting  = "session.reconnecting"
	EventTerminated    = "session.terminated"
	EventDeleted       = "session.deleted"
	EventPairingFailed = "session.pairing_failed"
	EventPairingCode   = "session.pairing_code"
)

// SessionEvent is one lifecycle notification for a number.
type SessionEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Number    string    `json:"number"`
	Epoch     uint64    `json:"epoch"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSessionEvent returns an event with a fresh id and the current time.
func NewSessionEvent(typ, number string, epoch uint64, reason string) *SessionEvent {
	return &SessionEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Number:    number,
		Epoch:     epoch,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}

// EventEmitter emits session events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *SessionEvent) error
}

// Fanout emits each event to every non-nil emitter and joins their errors.
type Fanout []EventEmitter

// Emit sends event to all emitters, continuing past failures.
func (f Fanout) Emit(ctx context.Context, event *SessionEvent) error {
	var errs []error
	for _, em := range f {
		if em == nil {
			continue
		}
		if err := em.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
