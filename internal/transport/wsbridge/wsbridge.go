// Package wsbridge implements transport.Transport over a websocket bridge process that speaks
// the messaging network's protocol. Each socket is one websocket carrying JSON frames.
//
// Frames sent to the bridge:
//
//	{"type":"open","number":"...","creds":"<base64>","keys":"<base64>"}
//	{"type":"pairing_code","id":"...","number":"..."}
//	{"type":"logout"}
//
// Frames received from the bridge:
//
//	{"type":"ready","registered":true}
//	{"type":"creds","creds":"<base64>","keys":"<base64>","registered":true}
//	{"type":"connection","state":"open"}
//	{"type":"connection","state":"close","statusCode":401,"reason":"logged_out"}
//	{"type":"message","message":{...}}
//	{"type":"pairing_code","id":"...","code":"123-456"} or {"type":"pairing_code","id":"...","error":"..."}
package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"session-hub/internal/transport"
)

const (
	handshakeTimeout = 15 * time.Second
	writeTimeout     = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	eventBuffer      = 128
)

// ErrSocketClosed is returned by socket calls made after the connection ended.
var ErrSocketClosed = errors.New("wsbridge: socket closed")

type frame struct {
	Type       string        `json:"type"`
	ID         string        `json:"id,omitempty"`
	Number     string        `json:"number,omitempty"`
	Creds      []byte        `json:"creds,omitempty"`
	Keys       []byte        `json:"keys,omitempty"`
	Registered bool          `json:"registered,omitempty"`
	State      string        `json:"state,omitempty"`
	StatusCode int           `json:"statusCode,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Code       string        `json:"code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Message    *messageFrame `json:"message,omitempty"`
}

type messageFrame struct {
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId"`
	FromMe    bool   `json:"fromMe"`
	PushName  string `json:"pushName"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// Transport dials the bridge at a fixed URL.
type Transport struct {
	url    string
	dialer *websocket.Dialer
	log    *zap.Logger
}

// New returns a Transport for the bridge at rawURL (ws:// or wss://).
func New(rawURL string, log *zap.Logger) (*Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("wsbridge: url scheme must be ws or wss, got %q", u.Scheme)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		url:    u.String(),
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:    log,
	}, nil
}

// Open dials the bridge, sends the open frame and waits for the bridge to report ready.
func (t *Transport) Open(ctx context.Context, number string, cred *transport.Credential) (transport.Socket, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: dial: %w", err)
	}
	s := &socket{
		number:  number,
		conn:    conn,
		log:     t.log.With(zap.String("number", number)),
		events:  make(chan transport.Event, eventBuffer),
		closed:  make(chan struct{}),
		gone:    make(chan struct{}),
		pending: make(map[string]chan frame),
	}
	open := frame{Type: "open", Number: number}
	if cred != nil {
		s.cred = transport.Credential{Blob: clone(cred.Blob), KeyMaterial: clone(cred.KeyMaterial)}
		open.Creds, open.Keys = cred.Blob, cred.KeyMaterial
	}
	if err := s.write(open); err != nil {
		conn.Close()
		return nil, fmt.Errorf("wsbridge: send open: %w", err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	var ready frame
	if err := conn.ReadJSON(&ready); err != nil {
		conn.Close()
		return nil, fmt.Errorf("wsbridge: await ready: %w", err)
	}
	if ready.Type != "ready" {
		conn.Close()
		return nil, fmt.Errorf("wsbridge: expected ready frame, got %q", ready.Type)
	}
	s.registered.Store(ready.Registered)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

type socket struct {
	number string
	conn   *websocket.Conn
	log    *zap.Logger

	writeMu sync.Mutex

	credMu     sync.Mutex
	cred       transport.Credential
	registered atomic.Bool

	events    chan transport.Event
	closeOnce sync.Once
	closed    chan struct{} // closed by Close
	gone      chan struct{} // closed when readLoop exits

	pendingMu sync.Mutex
	pending   map[string]chan frame
}

func (s *socket) Events() <-chan transport.Event { return s.events }

func (s *socket) Registered() bool { return s.registered.Load() }

func (s *socket) Credential() transport.Credential {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	return transport.Credential{Blob: clone(s.cred.Blob), KeyMaterial: clone(s.cred.KeyMaterial)}
}

func (s *socket) RequestPairingCode(ctx context.Context, number string) (string, error) {
	id := uuid.NewString()
	reply := make(chan frame, 1)
	s.pendingMu.Lock()
	s.pending[id] = reply
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.write(frame{Type: "pairing_code", ID: id, Number: number}); err != nil {
		return "", err
	}
	select {
	case f := <-reply:
		if f.Error != "" {
			return "", fmt.Errorf("wsbridge: pairing code: %s", f.Error)
		}
		if f.Code == "" {
			return "", errors.New("wsbridge: pairing code: empty code")
		}
		return f.Code, nil
	case <-s.gone:
		return "", ErrSocketClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *socket) Logout(ctx context.Context) error {
	return s.write(frame{Type: "logout"})
}

func (s *socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}

func (s *socket) write(f frame) error {
	select {
	case <-s.closed:
		return ErrSocketClosed
	case <-s.gone:
		return ErrSocketClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(f)
}

// emit delivers ev unless the socket was closed locally.
func (s *socket) emit(ev transport.Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *socket) readLoop() {
	defer close(s.events)
	defer close(s.gone)
	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			select {
			case <-s.closed:
			default:
				s.log.Debug("bridge connection lost", zap.Error(err))
				s.emit(transport.Event{Type: transport.EventClose, Cause: transport.CloseCause{Reason: "connection_lost", Err: err}})
				_ = s.conn.Close()
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if done := s.handle(f); done {
			_ = s.conn.Close()
			return
		}
	}
}

// handle dispatches one frame and reports whether the connection ended.
func (s *socket) handle(f frame) bool {
	switch f.Type {
	case "creds":
		s.credMu.Lock()
		s.cred = transport.Credential{Blob: f.Creds, KeyMaterial: f.Keys}
		s.credMu.Unlock()
		if f.Registered {
			s.registered.Store(true)
		}
		s.emit(transport.Event{Type: transport.EventCredentials})
	case "connection":
		switch f.State {
		case "open":
			s.registered.Store(true)
			s.emit(transport.Event{Type: transport.EventOpen})
		case "close":
			s.emit(transport.Event{Type: transport.EventClose, Cause: transport.CloseCause{StatusCode: f.StatusCode, Reason: f.Reason}})
			return true
		}
	case "message":
		if f.Message == nil {
			return false
		}
		m := f.Message
		msg := &transport.Message{
			ChatID:   m.ChatID,
			SenderID: m.SenderID,
			FromMe:   m.FromMe,
			PushName: m.PushName,
			Text:     m.Text,
		}
		if m.Timestamp > 0 {
			msg.Timestamp = time.Unix(m.Timestamp, 0).UTC()
		}
		s.emit(transport.Event{Type: transport.EventMessage, Message: msg})
	case "pairing_code":
		s.pendingMu.Lock()
		reply, ok := s.pending[f.ID]
		s.pendingMu.Unlock()
		if ok {
			select {
			case reply <- f:
			default:
			}
		}
	default:
		s.log.Debug("ignoring bridge frame", zap.String("type", f.Type))
	}
	return false
}

func (s *socket) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.gone:
			return
		}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
