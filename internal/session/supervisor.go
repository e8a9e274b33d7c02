package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"session-hub/internal/activity"
	creddomain "session-hub/internal/credential/domain"
	"session-hub/internal/platform/besteffort"
	"session-hub/internal/session/domain"
	"session-hub/internal/telemetry"
	"session-hub/internal/transport"
)

// outcome is why serve returned.
type outcome int

const (
	outcomeStopped outcome = iota + 1
	outcomeTerminal
	outcomeTransient
)

// supervisor owns the socket for one number across reconnects. Each reconnect moves it to a
// new registry epoch; once its epoch is no longer current it stops touching shared state.
type supervisor struct {
	m      *Manager
	number string
	ctx    context.Context
	cancel context.CancelFunc

	ep        atomic.Uint64
	connected atomic.Bool

	mu   sync.Mutex
	sock transport.Socket
}

func newSupervisor(m *Manager, number string, epoch uint64, sock transport.Socket) *supervisor {
	ctx, cancel := context.WithCancel(m.ctx)
	s := &supervisor{m: m, number: number, ctx: ctx, cancel: cancel, sock: sock}
	s.ep.Store(epoch)
	return s
}

func (s *supervisor) epoch() uint64 { return s.ep.Load() }

func (s *supervisor) socket() transport.Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock
}

func (s *supervisor) setSocket(sock transport.Socket) {
	s.mu.Lock()
	s.sock = sock
	s.mu.Unlock()
}

func (s *supervisor) closeSocket() {
	s.mu.Lock()
	sock := s.sock
	s.sock = nil
	s.mu.Unlock()
	if sock != nil {
		_ = sock.Close()
	}
}

// stop cancels the supervisor. Its loop closes the socket and releases the handle.
func (s *supervisor) stop() { s.cancel() }

func (s *supervisor) logger() *zap.Logger {
	return s.m.log.With(zap.String("number", s.number), zap.Uint64("epoch", s.epoch()))
}

// run drives the socket until the session is stopped, terminated or superseded. Transient
// closes loop back through reconnect instead of starting a new supervisor.
func (s *supervisor) run() {
	for {
		out, cause := s.serve(s.socket())
		s.closeSocket()
		s.disconnected()
		switch out {
		case outcomeStopped:
			s.m.registry.Release(s.number, s.epoch())
			s.logger().Info("session stopped")
			return
		case outcomeTerminal:
			s.cancel()
			s.terminate(cause)
			return
		}
		if !s.reconnect(cause) {
			return
		}
	}
}

// serve handles socket events until the connection closes or the supervisor is stopped.
func (s *supervisor) serve(sock transport.Socket) (outcome, transport.CloseCause) {
	if sock == nil {
		return outcomeTransient, transport.CloseCause{Reason: "no socket"}
	}
	for {
		select {
		case <-s.ctx.Done():
			return outcomeStopped, transport.CloseCause{}
		case ev, ok := <-sock.Events():
			if !ok {
				return outcomeTransient, transport.CloseCause{Reason: "events closed"}
			}
			switch ev.Type {
			case transport.EventCredentials:
				s.persist(sock)
			case transport.EventOpen:
				s.opened()
			case transport.EventMessage:
				s.message(ev.Message)
			case transport.EventClose:
				if ev.Cause.Terminal() {
					return outcomeTerminal, ev.Cause
				}
				return outcomeTransient, ev.Cause
			}
		}
	}
}

// persist upserts the socket's current credential if this supervisor still owns the number.
func (s *supervisor) persist(sock transport.Socket) {
	cred := sock.Credential()
	unlock := s.m.locks.Lock(s.number)
	defer unlock()
	if !s.m.registry.Current(s.number, s.epoch()) {
		return
	}
	besteffort.Do(s.ctx, s.m.rec, "credential.put", s.number, func(ctx context.Context) error {
		return s.m.creds.Put(ctx, &creddomain.Credential{
			Number:         s.number,
			CredentialBlob: cred.Blob,
			KeyMaterial:    cred.KeyMaterial,
			UpdatedAt:      s.m.clock.Now(),
		})
	})
}

// opened waits the grace delay, then marks the session connected and records it in the directory.
func (s *supervisor) opened() {
	if err := s.m.clock.Sleep(s.ctx, s.m.cfg.OpenGraceDelay); err != nil {
		return
	}
	unlock := s.m.locks.Lock(s.number)
	defer unlock()
	epoch := s.epoch()
	if !s.m.registry.SetState(s.number, epoch, domain.StateConnected) {
		return
	}
	besteffort.Do(s.ctx, s.m.rec, "directory.add", s.number, func(ctx context.Context) error {
		return s.m.directory.Add(ctx, s.number)
	})
	if s.connected.CompareAndSwap(false, true) {
		s.m.metrics.Connected.Add(s.ctx, 1)
	}
	s.logger().Info("session connected")
	s.m.emit(telemetry.EventConnected, s.number, epoch, "")
}

func (s *supervisor) disconnected() {
	if s.connected.CompareAndSwap(true, false) {
		s.m.metrics.Connected.Add(context.Background(), -1)
	}
}

// message forwards a non-empty inbound message to the ranking engine while this supervisor
// still owns the number.
func (s *supervisor) message(msg *transport.Message) {
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if !s.m.registry.Current(s.number, s.epoch()) {
		return
	}
	a := activity.Activity{
		UserID:      msg.SenderID,
		ChatID:      msg.ChatID,
		DisplayName: msg.PushName,
		FromSelf:    msg.FromMe,
		Timestamp:   msg.Timestamp,
	}
	if msg.Group() {
		a.ScopeID = msg.ChatID
	}
	if a.DisplayName == "" {
		a.DisplayName = msg.SenderID
	}
	s.m.engine.RecordActivity(s.ctx, a)
}

// terminate purges every trace of the number after the transport revoked its credential.
func (s *supervisor) terminate(cause transport.CloseCause) {
	ctx, cancel := s.m.cleanupContext()
	defer cancel()
	unlock := s.m.locks.Lock(s.number)
	defer unlock()
	epoch := s.epoch()
	if !s.m.registry.Release(s.number, epoch) {
		return
	}
	s.m.purge(ctx, s.number)
	s.logger().Info("session terminated", zap.String("cause", cause.String()))
	s.m.emit(telemetry.EventTerminated, s.number, epoch, cause.String())
}

// reconnect waits the reconnect delay and reopens the socket under a new epoch with the
// persisted credential. It reports false when the supervisor should exit.
func (s *supervisor) reconnect(cause transport.CloseCause) bool {
	epoch := s.epoch()
	unlock := s.m.locks.Lock(s.number)
	current := s.m.registry.SetState(s.number, epoch, domain.StateReconnecting)
	unlock()
	if !current {
		return false
	}
	s.logger().Info("session closed, reconnecting", zap.String("cause", cause.String()))
	s.m.emit(telemetry.EventReconnecting, s.number, epoch, cause.String())
	s.m.metrics.Reconnects.Add(s.ctx, 1)

	for {
		if err := s.m.clock.Sleep(s.ctx, s.m.cfg.ReconnectDelay); err != nil {
			s.m.registry.Release(s.number, s.epoch())
			return false
		}
		ok, retry := s.reopen()
		if ok {
			return true
		}
		if !retry {
			return false
		}
	}
}

// reopen renews the epoch and opens a new socket. It reports whether a socket is ready and,
// if not, whether another attempt should follow.
func (s *supervisor) reopen() (ok, retry bool) {
	unlock := s.m.locks.Lock(s.number)
	defer unlock()
	h, renewed := s.m.registry.Renew(s.number, s.epoch())
	if !renewed {
		return false, false
	}
	s.ep.Store(h.Epoch)
	log := s.logger()

	sock, loaded, err := s.m.open(s.ctx, s.number)
	if err != nil {
		if s.ctx.Err() != nil {
			s.m.registry.Release(s.number, h.Epoch)
			return false, false
		}
		log.Warn("reconnect failed", zap.Error(err))
		s.m.registry.SetState(s.number, h.Epoch, domain.StateReconnecting)
		return false, true
	}
	if !s.m.registry.Current(s.number, h.Epoch) {
		_ = sock.Close()
		return false, false
	}
	s.setSocket(sock)
	if sock.Registered() {
		log.Info("session reopened")
		return true, false
	}

	// The persisted credential never completed pairing; nobody is waiting for this code, so
	// it is only logged.
	code, err := s.m.pair(s.ctx, s, sock)
	if err != nil {
		s.closeSocket()
		s.m.pairingFailed(s, !loaded, err)
		return false, false
	}
	log.Info("pairing code issued on reconnect", zap.String("code", code))
	s.m.emit(telemetry.EventPairingCode, s.number, h.Epoch, "reconnect")
	return true, false
}
