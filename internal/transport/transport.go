// Package transport defines the contract between session supervisors and the external
// messaging transport. The transport's wire protocol and handshake live behind it.
package transport

import (
	"context"
	"strconv"
	"time"
)

// StatusLoggedOut is the close status the transport reports when the device was unlinked.
const StatusLoggedOut = 401

// ReasonLoggedOut is the close reason the transport reports when the device was unlinked.
const ReasonLoggedOut = "logged_out"

// Credential is the transport's auth state for one number.
type Credential struct {
	Blob        []byte
	KeyMaterial []byte
}

// Empty reports whether c carries no auth state.
func (c *Credential) Empty() bool {
	return c == nil || (len(c.Blob) == 0 && len(c.KeyMaterial) == 0)
}

// EventType identifies a socket event.
type EventType int

const (
	// EventCredentials means the socket's credential changed and should be persisted.
	EventCredentials EventType = iota + 1
	// EventOpen means the connection is established.
	EventOpen
	// EventClose means the connection ended. It is the last event a socket delivers.
	EventClose
	// EventMessage carries one inbound message.
	EventMessage
)

func (t EventType) String() string {
	switch t {
	case EventCredentials:
		return "credentials"
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventMessage:
		return "message"
	}
	return "unknown"
}

// CloseCause describes why a connection closed.
type CloseCause struct {
	StatusCode int
	Reason     string
	Err        error
}

// Terminal reports whether the close revoked the session's authentication. Only the explicit
// logged-out signal is terminal; every other cause, including unknown ones, is transient.
func (c CloseCause) Terminal() bool {
	return c.StatusCode == StatusLoggedOut || c.Reason == ReasonLoggedOut
}

func (c CloseCause) String() string {
	switch {
	case c.Reason != "":
		return c.Reason
	case c.Err != nil:
		return c.Err.Error()
	case c.StatusCode != 0:
		return "status " + strconv.Itoa(c.StatusCode)
	}
	return "closed"
}

// Message is one inbound chat message.
type Message struct {
	// ChatID is the chat the message was sent in. For direct chats it equals SenderID.
	ChatID    string
	SenderID  string
	FromMe    bool
	PushName  string
	Text      string
	Timestamp time.Time
}

// Group reports whether the message was sent in a group chat.
func (m *Message) Group() bool {
	return m.ChatID != "" && m.ChatID != m.SenderID
}

// Event is delivered on Socket.Events.
type Event struct {
	Type    EventType
	Cause   CloseCause // set for EventClose
	Message *Message   // set for EventMessage
}

// Socket is one live transport connection, owned by a single supervisor.
type Socket interface {
	// Events delivers socket events. The channel is closed after the socket is closed.
	Events() <-chan Event
	// Registered reports whether the socket's credential is linked to a device.
	Registered() bool
	// RequestPairingCode asks the transport for a one-time pairing code for number.
	RequestPairingCode(ctx context.Context, number string) (string, error)
	// Credential returns a copy of the socket's current credential.
	Credential() Credential
	// Logout unlinks the device. The transport follows with a terminal close.
	Logout(ctx context.Context) error
	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Transport opens sockets.
type Transport interface {
	// Open connects number using cred, which may be nil for a fresh pairing.
	Open(ctx context.Context, number string, cred *Credential) (Socket, error)
}
