// Package transporttest provides a scriptable in-memory transport for session tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"session-hub/internal/transport"
)

// ErrClosed is returned by socket calls after Close.
var ErrClosed = errors.New("transporttest: socket closed")

// PairingFunc answers the n-th (1-based, per transport) pairing request.
type PairingFunc func(n int, number string) (string, error)

// PairingContextFunc is a PairingFunc that also sees the request context.
type PairingContextFunc func(ctx context.Context, n int, number string) (string, error)

// Transport records opened sockets and answers pairing requests with a PairingFunc.
type Transport struct {
	mu         sync.Mutex
	sockets    []*Socket
	pairings   int
	pairing    PairingContextFunc
	openErrs   map[string]error
	registered func(number string, cred *transport.Credential) bool
	opened     chan *Socket
	gate       chan struct{}
	entered    chan string
}

// New returns a Transport whose sockets are registered when opened with a non-empty
// credential, and whose pairing requests fail until SetPairing is called.
func New() *Transport {
	return &Transport{
		pairing: func(context.Context, int, string) (string, error) {
			return "", errors.New("pairing not scripted")
		},
		registered: func(_ string, cred *transport.Credential) bool {
			return !cred.Empty()
		},
		openErrs: make(map[string]error),
		opened:   make(chan *Socket, 64),
	}
}

// SetPairing scripts pairing responses.
func (t *Transport) SetPairing(f PairingFunc) {
	t.SetPairingContext(func(_ context.Context, n int, number string) (string, error) {
		return f(n, number)
	})
}

// SetPairingContext scripts pairing responses that can block on the request context.
func (t *Transport) SetPairingContext(f PairingContextFunc) {
	t.mu.Lock()
	t.pairing = f
	t.mu.Unlock()
}

// HoldOpen makes later Open calls block until release is called or their ctx ends. The
// returned channel receives the number of each Open that starts waiting.
func (t *Transport) HoldOpen() (entered <-chan string, release func()) {
	gate := make(chan struct{})
	ch := make(chan string, 16)
	t.mu.Lock()
	t.gate, t.entered = gate, ch
	t.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			t.gate, t.entered = nil, nil
			t.mu.Unlock()
			close(gate)
		})
	}
}

// SetOpenError makes subsequent Open calls for number fail with err; nil restores success.
// An empty number applies to every number without its own entry.
func (t *Transport) SetOpenError(number string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.openErrs, number)
		return
	}
	t.openErrs[number] = err
}

// SetRegistered overrides how a new socket decides whether it is registered.
func (t *Transport) SetRegistered(f func(number string, cred *transport.Credential) bool) {
	t.mu.Lock()
	t.registered = f
	t.mu.Unlock()
}

// Open creates a socket. The credential is copied.
func (t *Transport) Open(ctx context.Context, number string, cred *transport.Credential) (transport.Socket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	gate, entered := t.gate, t.entered
	t.mu.Unlock()
	if gate != nil {
		select {
		case entered <- number:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.openErrs[number]; ok {
		return nil, err
	}
	if err, ok := t.openErrs[""]; ok {
		return nil, err
	}
	s := &Socket{
		Number:     number,
		t:          t,
		events:     make(chan transport.Event, 64),
		closed:     make(chan struct{}),
		registered: t.registered(number, cred),
	}
	if cred != nil {
		s.Opened = &transport.Credential{Blob: cred.Blob, KeyMaterial: cred.KeyMaterial}
		s.cred = *s.Opened
	}
	t.sockets = append(t.sockets, s)
	select {
	case t.opened <- s:
	default:
	}
	return s, nil
}

// Opened delivers sockets as they are opened.
func (t *Transport) Opened() <-chan *Socket { return t.opened }

// Sockets returns every socket opened for number, oldest first.
func (t *Transport) Sockets(number string) []*Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Socket
	for _, s := range t.sockets {
		if s.Number == number {
			out = append(out, s)
		}
	}
	return out
}

// PairingRequests returns how many pairing codes were requested.
func (t *Transport) PairingRequests() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pairings
}

func (t *Transport) requestPairing(ctx context.Context, number string) (string, error) {
	t.mu.Lock()
	t.pairings++
	n, f := t.pairings, t.pairing
	t.mu.Unlock()
	return f(ctx, n, number)
}

// Socket is a fake transport.Socket driven by the test through its Emit helpers.
// Its Events channel is never closed; Emit after Close is dropped.
type Socket struct {
	Number string
	// Opened is the credential the socket was opened with, nil for a fresh pairing.
	Opened *transport.Credential

	t      *Transport
	events chan transport.Event

	mu         sync.Mutex
	cred       transport.Credential
	registered bool
	loggedOut  bool
	closeOnce  sync.Once
	closed     chan struct{}
}

func (s *Socket) Events() <-chan transport.Event { return s.events }

func (s *Socket) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

func (s *Socket) RequestPairingCode(ctx context.Context, number string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.IsClosed() {
		return "", ErrClosed
	}
	return s.t.requestPairing(ctx, number)
}

func (s *Socket) Credential() transport.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

func (s *Socket) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.loggedOut = true
	s.mu.Unlock()
	return nil
}

func (s *Socket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// IsClosed reports whether Close was called.
func (s *Socket) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Done is closed when the socket is closed.
func (s *Socket) Done() <-chan struct{} { return s.closed }

// LoggedOut reports whether Logout was called.
func (s *Socket) LoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedOut
}

// Emit delivers ev unless the socket is closed.
func (s *Socket) Emit(ev transport.Event) {
	select {
	case <-s.closed:
	case s.events <- ev:
	}
}

// EmitCredentials replaces the socket credential and reports the change.
func (s *Socket) EmitCredentials(cred transport.Credential) {
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
	s.Emit(transport.Event{Type: transport.EventCredentials})
}

// EmitOpen marks the socket registered and reports the connection open.
func (s *Socket) EmitOpen() {
	s.mu.Lock()
	s.registered = true
	s.mu.Unlock()
	s.Emit(transport.Event{Type: transport.EventOpen})
}

// EmitClose reports the connection closed with cause.
func (s *Socket) EmitClose(cause transport.CloseCause) {
	s.Emit(transport.Event{Type: transport.EventClose, Cause: cause})
}

// EmitMessage delivers an inbound message.
func (s *Socket) EmitMessage(m transport.Message) {
	s.Emit(transport.Event{Type: transport.EventMessage, Message: &m})
}
