// Package session runs one supervisor per number against the messaging transport, keeps the
// credential store, number directory and registry consistent with each supervisor's
// lifecycle, and exposes the public session and ranking API.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"session-hub/internal/activity"
	activitydomain "session-hub/internal/activity/domain"
	creddomain "session-hub/internal/credential/domain"
	credrepo "session-hub/internal/credential/repository"
	dirrepo "session-hub/internal/directory/repository"
	"session-hub/internal/platform/besteffort"
	"session-hub/internal/platform/clock"
	"session-hub/internal/platform/keylock"
	"session-hub/internal/session/domain"
	"session-hub/internal/session/pairing"
	"session-hub/internal/session/registry"
	"session-hub/internal/telemetry"
	"session-hub/internal/transport"
)

// ErrPairingFailed is returned by StartSession when no pairing code could be obtained.
var ErrPairingFailed = pairing.ErrFailed

// ErrShutdown is returned for starts requested after Shutdown.
var ErrShutdown = errors.New("session: manager is shut down")

// ErrStartSuperseded is returned when the number's epoch was retired while its socket was opening.
var ErrStartSuperseded = errors.New("session: start superseded by delete")

// cleanupTimeout bounds store cleanup that must finish even when the supervisor is stopping.
const cleanupTimeout = 10 * time.Second

// Config holds the timed waits and retry bound of the session lifecycle.
type Config struct {
	PairingMaxRetries     int
	PairingBaseDelay      time.Duration
	PairingSettleDelay    time.Duration
	// PairingAttemptTimeout bounds one pairing-code request. Zero means no bound.
	PairingAttemptTimeout time.Duration
	OpenGraceDelay        time.Duration
	ReconnectDelay        time.Duration
	ResumeInterval        time.Duration
}

// Deps are the collaborators of a Manager. Credentials, Directory, Transport and Engine are
// required; the rest default to in-memory, wall-clock, no-op or log-only implementations.
type Deps struct {
	Credentials credrepo.Repository
	Directory   dirrepo.Repository
	Transport   transport.Transport
	Engine      *activity.Engine
	Registry    registry.Registry
	Clock       clock.Clock
	Recorder    besteffort.Recorder
	Events      telemetry.EventEmitter
	Metrics     *telemetry.Metrics
	Logger      *zap.Logger
}

// StartResult is the outcome of StartSession. Code is set when a pairing code was issued;
// AlreadyConnected is set when a supervisor for the number was already live.
type StartResult struct {
	Code             string
	AlreadyConnected bool
}

// ActiveSessions lists connected numbers.
type ActiveSessions struct {
	Count   int
	Numbers []string
}

// Manager owns every supervisor in the process.
type Manager struct {
	cfg       Config
	creds     credrepo.Repository
	directory dirrepo.Repository
	transport transport.Transport
	engine    *activity.Engine
	registry  registry.Registry
	clock     clock.Clock
	rec       besteffort.Recorder
	events    *telemetry.Dispatcher
	metrics   *telemetry.Metrics
	log       *zap.Logger
	pairing   *pairing.Coordinator

	locks keylock.Locker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	sups   map[string]*supervisor
	closed bool
}

// NewManager validates deps and returns a Manager with no running sessions.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	switch {
	case deps.Credentials == nil:
		return nil, errors.New("session: credential repository required")
	case deps.Directory == nil:
		return nil, errors.New("session: directory repository required")
	case deps.Transport == nil:
		return nil, errors.New("session: transport required")
	case deps.Engine == nil:
		return nil, errors.New("session: activity engine required")
	}
	m := &Manager{
		cfg:       cfg,
		creds:     deps.Credentials,
		directory: deps.Directory,
		transport: deps.Transport,
		engine:    deps.Engine,
		registry:  deps.Registry,
		clock:     deps.Clock,
		rec:       deps.Recorder,
		events:    telemetry.NewDispatcher(deps.Events, deps.Logger),
		metrics:   deps.Metrics,
		log:       deps.Logger,
		sups:      make(map[string]*supervisor),
	}
	if m.registry == nil {
		m.registry = registry.NewMemory()
	}
	if m.clock == nil {
		m.clock = clock.Real{}
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.metrics == nil {
		m.metrics = telemetry.NoopMetrics()
	}
	if m.rec == nil {
		m.rec = besteffort.NewLogRecorder(m.log, m.metrics.BestEffortFailures)
	}
	m.pairing = pairing.New(pairing.Options{
		MaxRetries:     cfg.PairingMaxRetries,
		BaseDelay:      cfg.PairingBaseDelay,
		SettleDelay:    cfg.PairingSettleDelay,
		AttemptTimeout: cfg.PairingAttemptTimeout,
		Clock:          m.clock,
		Attempts:       m.metrics.PairingAttempts,
		Logger:         m.log,
	})
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// StartSession starts a supervisor for raw. It returns a pairing code when the stored
// credential is missing or not registered, AlreadyConnected when a supervisor already owns
// the number, and ErrPairingFailed when pairing retries are exhausted.
func (m *Manager) StartSession(ctx context.Context, raw string) (StartResult, error) {
	number, err := SanitizeNumber(raw)
	if err != nil {
		return StartResult{}, err
	}
	if m.isClosed() {
		return StartResult{}, ErrShutdown
	}
	unlock := m.locks.Lock(number)
	defer unlock()

	h, ok := m.registry.Claim(number)
	if !ok {
		return StartResult{AlreadyConnected: true}, nil
	}
	log := m.log.With(zap.String("number", number), zap.Uint64("epoch", h.Epoch))

	sock, loaded, err := m.open(ctx, number)
	if err != nil {
		m.registry.Release(number, h.Epoch)
		return StartResult{}, fmt.Errorf("session: open %s: %w", number, err)
	}
	if !m.registry.Current(number, h.Epoch) {
		_ = sock.Close()
		log.Info("start superseded while opening")
		return StartResult{}, ErrStartSuperseded
	}
	sup := m.launch(number, h.Epoch, sock)
	if sock.Registered() {
		log.Info("session started")
		return StartResult{}, nil
	}

	code, err := m.pair(ctx, sup, sock)
	if err != nil {
		m.pairingFailed(sup, !loaded, err)
		return StartResult{}, err
	}
	log.Info("pairing code issued")
	return StartResult{Code: code}, nil
}

// pair runs the pairing coordinator on sock. Callers hold the number's lock. The attempt
// stops when either the caller's ctx or the supervisor is done.
func (m *Manager) pair(ctx context.Context, sup *supervisor, sock transport.Socket) (string, error) {
	m.registry.SetState(sup.number, sup.epoch(), domain.StateAwaitingPairing)
	pctx, cancel := context.WithCancel(sup.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return m.pairing.Request(pctx, sup.number, sock.RequestPairingCode)
}

// pairingFailed stops sup and releases its handle. A credential created during the failed
// attempt is removed so no state survives a pairing that never completed.
func (m *Manager) pairingFailed(sup *supervisor, fresh bool, cause error) {
	epoch := sup.epoch()
	sup.stop()
	m.registry.Release(sup.number, epoch)
	if fresh {
		ctx, cancel := m.cleanupContext()
		defer cancel()
		besteffort.Do(ctx, m.rec, "credential.delete", sup.number, func(ctx context.Context) error {
			return m.creds.Delete(ctx, sup.number)
		})
	}
	m.log.Warn("pairing failed", zap.String("number", sup.number), zap.Uint64("epoch", epoch), zap.Error(cause))
	m.emit(telemetry.EventPairingFailed, sup.number, epoch, cause.Error())
}

// open loads the persisted credential for number, if any, and opens a socket with it.
// A failed credential read is recorded and treated as no credential.
func (m *Manager) open(ctx context.Context, number string) (transport.Socket, bool, error) {
	var stored *creddomain.Credential
	besteffort.Do(ctx, m.rec, "credential.get", number, func(ctx context.Context) error {
		var err error
		stored, err = m.creds.Get(ctx, number)
		return err
	})
	var cred *transport.Credential
	if stored != nil {
		cred = &transport.Credential{Blob: stored.CredentialBlob, KeyMaterial: stored.KeyMaterial}
	}
	sock, err := m.transport.Open(ctx, number, cred)
	if err != nil {
		return nil, false, err
	}
	return sock, stored != nil, nil
}

// launch registers a supervisor for number and starts its loop on sock.
func (m *Manager) launch(number string, epoch uint64, sock transport.Socket) *supervisor {
	sup := newSupervisor(m, number, epoch, sock)
	m.mu.Lock()
	m.sups[number] = sup
	m.mu.Unlock()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.forget(sup)
		sup.run()
	}()
	return sup
}

func (m *Manager) forget(sup *supervisor) {
	m.mu.Lock()
	if m.sups[sup.number] == sup {
		delete(m.sups, sup.number)
	}
	m.mu.Unlock()
}

func (m *Manager) supervisor(number string) *supervisor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sups[number]
}

// DeleteSession logs the number out, stops its supervisor and removes it from every store.
// The registry epoch is retired first so a reconnect scheduled before the delete never runs.
func (m *Manager) DeleteSession(ctx context.Context, raw string) error {
	number, err := SanitizeNumber(raw)
	if err != nil {
		return err
	}
	first := m.supervisor(number)
	m.halt(ctx, first)

	unlock := m.locks.Lock(number)
	defer unlock()
	// A start holding the lock during the first lookup may have launched a supervisor since.
	if sup := m.supervisor(number); sup != first {
		m.halt(ctx, sup)
	}
	h, _ := m.registry.Get(number)
	m.registry.Invalidate(number)
	m.purge(ctx, number)
	m.log.Info("session deleted", zap.String("number", number))
	m.emit(telemetry.EventDeleted, number, h.Epoch, "")
	return nil
}

// halt logs sup's socket out and stops its loop. sup may be nil.
func (m *Manager) halt(ctx context.Context, sup *supervisor) {
	if sup == nil {
		return
	}
	if sock := sup.socket(); sock != nil {
		besteffort.Do(ctx, m.rec, "transport.logout", sup.number, sock.Logout)
	}
	sup.stop()
}

// purge removes number from the directory and credential store. Callers hold the number's lock.
func (m *Manager) purge(ctx context.Context, number string) {
	besteffort.Do(ctx, m.rec, "directory.remove", number, func(ctx context.Context) error {
		return m.directory.Remove(ctx, number)
	})
	besteffort.Do(ctx, m.rec, "credential.delete", number, func(ctx context.Context) error {
		return m.creds.Delete(ctx, number)
	})
}

// ListActiveSessions returns the connected numbers.
func (m *Manager) ListActiveSessions() ActiveSessions {
	numbers := m.registry.Connected()
	return ActiveSessions{Count: len(numbers), Numbers: numbers}
}

// ActiveCount returns how many sessions are connected.
func (m *Manager) ActiveCount() int {
	return len(m.registry.Connected())
}

// ListPersistedSessions returns stored credentials, most recently updated first.
func (m *Manager) ListPersistedSessions(ctx context.Context) ([]creddomain.Summary, error) {
	return m.creds.List(ctx)
}

// ResumeAll starts a session for every number in the directory. Starts are spaced by
// ResumeInterval but run concurrently, so a number stuck in pairing does not hold up the rest.
// A number that fails to start is logged and skipped. It waits for every start and returns
// how many numbers were started or already running.
func (m *Manager) ResumeAll(ctx context.Context) (int, error) {
	numbers, err := m.directory.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("session: list directory: %w", err)
	}
	m.log.Info("resuming sessions", zap.Int("count", len(numbers)))
	var (
		wg      sync.WaitGroup
		resumed atomic.Int64
	)
	wait := func(err error) (int, error) {
		wg.Wait()
		return int(resumed.Load()), err
	}
	for i, number := range numbers {
		if i > 0 {
			if err := m.clock.Sleep(ctx, m.cfg.ResumeInterval); err != nil {
				return wait(err)
			}
		}
		if m.isClosed() {
			return wait(ErrShutdown)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.resume(ctx, number) {
				resumed.Add(1)
			}
		}()
	}
	return wait(nil)
}

func (m *Manager) resume(ctx context.Context, number string) bool {
	res, err := m.StartSession(ctx, number)
	if err != nil {
		m.log.Warn("resume failed", zap.String("number", number), zap.Error(err))
		return false
	}
	if res.Code != "" {
		m.log.Info("resumed session needs pairing", zap.String("number", number), zap.String("code", res.Code))
		m.emit(telemetry.EventPairingCode, number, 0, "resume")
	}
	return true
}

// Shutdown stops every supervisor and closes its socket without touching persisted state,
// then waits for the loops and queued lifecycle events to finish or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.events.Drain(ctx)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// RecordActivity forwards an inbound message to the ranking engine.
func (m *Manager) RecordActivity(ctx context.Context, a activity.Activity) bool {
	return m.engine.RecordActivity(ctx, a)
}

// GetRank returns the activity record for identityKey, or nil when there is none.
func (m *Manager) GetRank(ctx context.Context, identityKey string) (*activitydomain.Record, error) {
	return m.engine.GetRecord(ctx, identityKey)
}

// Leaderboard returns the top identities for period in scope.
func (m *Manager) Leaderboard(ctx context.Context, scope, period string, limit int) ([]activitydomain.Entry, error) {
	return m.engine.Leaderboard(ctx, scope, period, limit)
}

func (m *Manager) emit(typ, number string, epoch uint64, reason string) {
	m.events.Dispatch(telemetry.NewSessionEvent(typ, number, epoch, reason))
}

func (m *Manager) cleanupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(m.ctx), cleanupTimeout)
}
