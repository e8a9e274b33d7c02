package wsbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"session-hub/internal/transport"
)

type peer struct {
	conn *websocket.Conn
	open frame
}

// newBridge starts a fake bridge that answers every open frame with ready{registered} and
// hands the server side of the connection to the test.
func newBridge(t *testing.T, ready frame) (*Transport, <-chan peer) {
	t.Helper()
	peers := make(chan peer, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		var open frame
		if err := conn.ReadJSON(&open); err != nil {
			t.Errorf("read open: %v", err)
			return
		}
		if err := conn.WriteJSON(ready); err != nil {
			t.Errorf("write ready: %v", err)
			return
		}
		peers <- peer{conn: conn, open: open}
	}))
	t.Cleanup(srv.Close)
	tr, err := New("ws"+strings.TrimPrefix(srv.URL, "http"), zaptest.NewLogger(t))
	require.NoError(t, err)
	return tr, peers
}

func next(t *testing.T, s transport.Socket) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return transport.Event{}
}

func requireClosed(t *testing.T, s transport.Socket) {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.False(t, ok, "unexpected event %v", ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestNew_RejectsNonWebsocketURL(t *testing.T) {
	_, err := New("http://localhost:1", nil)
	require.Error(t, err)
	_, err = New("://bad", nil)
	require.Error(t, err)
}

func TestOpen_SendsCredentialAndReadsRegistration(t *testing.T) {
	tr, peers := newBridge(t, frame{Type: "ready", Registered: true})
	cred := &transport.Credential{Blob: []byte(`{"me":"x"}`), KeyMaterial: []byte("keys")}
	s, err := tr.Open(context.Background(), "94771234567", cred)
	require.NoError(t, err)
	defer s.Close()

	p := <-peers
	require.Equal(t, "open", p.open.Type)
	require.Equal(t, "94771234567", p.open.Number)
	require.Equal(t, cred.Blob, p.open.Creds)
	require.Equal(t, cred.KeyMaterial, p.open.Keys)
	require.True(t, s.Registered())
	require.Equal(t, cred.Blob, s.Credential().Blob)
}

func TestOpen_RejectsUnexpectedHandshake(t *testing.T) {
	tr, _ := newBridge(t, frame{Type: "connection", State: "open"})
	_, err := tr.Open(context.Background(), "1", nil)
	require.Error(t, err)
}

func TestSocket_EventStream(t *testing.T) {
	tr, peers := newBridge(t, frame{Type: "ready"})
	s, err := tr.Open(context.Background(), "94771234567", nil)
	require.NoError(t, err)
	defer s.Close()
	require.False(t, s.Registered())
	p := <-peers

	require.NoError(t, p.conn.WriteJSON(frame{Type: "creds", Creds: []byte("c1"), Keys: []byte("k1")}))
	ev := next(t, s)
	require.Equal(t, transport.EventCredentials, ev.Type)
	require.Equal(t, []byte("c1"), s.Credential().Blob)
	require.Equal(t, []byte("k1"), s.Credential().KeyMaterial)

	require.NoError(t, p.conn.WriteJSON(frame{Type: "connection", State: "open"}))
	require.Equal(t, transport.EventOpen, next(t, s).Type)
	require.True(t, s.Registered())

	require.NoError(t, p.conn.WriteJSON(frame{Type: "message", Message: &messageFrame{
		ChatID: "g1", SenderID: "77001", PushName: "Nimal", Text: "hi", Timestamp: 1772600000,
	}}))
	ev = next(t, s)
	require.Equal(t, transport.EventMessage, ev.Type)
	require.Equal(t, "g1", ev.Message.ChatID)
	require.Equal(t, "77001", ev.Message.SenderID)
	require.Equal(t, "Nimal", ev.Message.PushName)
	require.Equal(t, "hi", ev.Message.Text)
	require.Equal(t, int64(1772600000), ev.Message.Timestamp.Unix())

	require.NoError(t, p.conn.WriteJSON(frame{Type: "connection", State: "close", StatusCode: 401, Reason: "logged_out"}))
	ev = next(t, s)
	require.Equal(t, transport.EventClose, ev.Type)
	require.True(t, ev.Cause.Terminal())
	requireClosed(t, s)
}

func TestSocket_ConnectionLossIsTransientClose(t *testing.T) {
	tr, peers := newBridge(t, frame{Type: "ready", Registered: true})
	s, err := tr.Open(context.Background(), "1", nil)
	require.NoError(t, err)
	defer s.Close()
	p := <-peers
	p.conn.Close()

	ev := next(t, s)
	require.Equal(t, transport.EventClose, ev.Type)
	require.False(t, ev.Cause.Terminal())
	require.Equal(t, "connection_lost", ev.Cause.Reason)
	requireClosed(t, s)
}

func TestSocket_PairingCode(t *testing.T) {
	tr, peers := newBridge(t, frame{Type: "ready"})
	s, err := tr.Open(context.Background(), "94771234567", nil)
	require.NoError(t, err)
	defer s.Close()
	p := <-peers

	go func() {
		for i := 0; i < 2; i++ {
			var req frame
			if err := p.conn.ReadJSON(&req); err != nil {
				return
			}
			if i == 0 {
				_ = p.conn.WriteJSON(frame{Type: "pairing_code", ID: req.ID, Error: "rate limited"})
				continue
			}
			_ = p.conn.WriteJSON(frame{Type: "pairing_code", ID: req.ID, Code: "123-456"})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = s.RequestPairingCode(ctx, "94771234567")
	require.ErrorContains(t, err, "rate limited")
	code, err := s.RequestPairingCode(ctx, "94771234567")
	require.NoError(t, err)
	require.Equal(t, "123-456", code)
}

func TestSocket_PairingCodeHonoursContext(t *testing.T) {
	tr, peers := newBridge(t, frame{Type: "ready"})
	s, err := tr.Open(context.Background(), "1", nil)
	require.NoError(t, err)
	defer s.Close()
	<-peers

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.RequestPairingCode(ctx, "1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSocket_LogoutAndClose(t *testing.T) {
	tr, peers := newBridge(t, frame{Type: "ready", Registered: true})
	s, err := tr.Open(context.Background(), "1", nil)
	require.NoError(t, err)
	p := <-peers

	require.NoError(t, s.Logout(context.Background()))
	var got frame
	require.NoError(t, p.conn.ReadJSON(&got))
	require.Equal(t, "logout", got.Type)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	requireClosed(t, s)
	_, err = s.RequestPairingCode(context.Background(), "1")
	require.ErrorIs(t, err, ErrSocketClosed)
}
