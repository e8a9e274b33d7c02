// Package domain defines supervisor states and the in-memory handle tracked per number.
package domain

import "time"

// State is a supervisor lifecycle state.
type State int

const (
	StateInitializing State = iota + 1
	StateAwaitingPairing
	StateConnected
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateAwaitingPairing:
		return "AWAITING_PAIRING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateTerminated:
		return "TERMINATED"
	}
	return "UNKNOWN"
}

// Handle is the registry's view of the supervisor owning a number.
// At most one handle exists per number; its Epoch identifies the supervisor lifetime.
type Handle struct {
	Number    string
	State     State
	Epoch     uint64
	CreatedAt time.Time
}
