// Package registry tracks the live supervisor handle for each number and the epoch tokens
// that let stale supervisors discover they were superseded.
package registry

import (
	"sort"
	"sync"
	"time"

	"session-hub/internal/session/domain"
)

// Registry is the process-wide map of live supervisor handles keyed by number.
// Epochs are per number, strictly increasing and never reused, even after a handle is removed.
type Registry interface {
	// Claim creates an INITIALIZING handle with a new epoch when number has no handle.
	// It returns the existing handle and false when one is already live.
	Claim(number string) (domain.Handle, bool)
	// Get returns the live handle for number.
	Get(number string) (domain.Handle, bool)
	// SetState updates the handle's state if epoch is current.
	SetState(number string, epoch uint64, state domain.State) bool
	// Renew moves a current handle to a new epoch in INITIALIZING, for a reconnect.
	Renew(number string, epoch uint64) (domain.Handle, bool)
	// Release removes the handle if epoch is current.
	Release(number string, epoch uint64) bool
	// Invalidate removes the handle whatever its epoch and retires the current epoch.
	Invalidate(number string)
	// Current reports whether epoch is the live epoch for number.
	Current(number string, epoch uint64) bool
	// Connected returns the numbers whose handle is CONNECTED, sorted.
	Connected() []string
	// Live returns every number with a handle, sorted.
	Live() []string
}

// Memory is the in-memory Registry.
type Memory struct {
	mu      sync.Mutex
	handles map[string]domain.Handle
	epochs  map[string]uint64
	now     func() time.Time
}

// NewMemory returns an empty registry.
func NewMemory() *Memory {
	return &Memory{
		handles: make(map[string]domain.Handle),
		epochs:  make(map[string]uint64),
		now:     time.Now,
	}
}

func (m *Memory) nextEpoch(number string) uint64 {
	m.epochs[number]++
	return m.epochs[number]
}

func (m *Memory) Claim(number string) (domain.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[number]; ok {
		return h, false
	}
	h := domain.Handle{
		Number:    number,
		State:     domain.StateInitializing,
		Epoch:     m.nextEpoch(number),
		CreatedAt: m.now(),
	}
	m.handles[number] = h
	return h, true
}

func (m *Memory) Get(number string) (domain.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[number]
	return h, ok
}

func (m *Memory) SetState(number string, epoch uint64, state domain.State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[number]
	if !ok || h.Epoch != epoch {
		return false
	}
	h.State = state
	m.handles[number] = h
	return true
}

func (m *Memory) Renew(number string, epoch uint64) (domain.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[number]
	if !ok || h.Epoch != epoch {
		return domain.Handle{}, false
	}
	h.Epoch = m.nextEpoch(number)
	h.State = domain.StateInitializing
	h.CreatedAt = m.now()
	m.handles[number] = h
	return h, true
}

func (m *Memory) Release(number string, epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[number]
	if !ok || h.Epoch != epoch {
		return false
	}
	delete(m.handles, number)
	return true
}

func (m *Memory) Invalidate(number string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, number)
	m.nextEpoch(number)
}

func (m *Memory) Current(number string, epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[number]
	return ok && h.Epoch == epoch
}

func (m *Memory) Connected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.handles))
	for n, h := range m.handles {
		if h.State == domain.StateConnected {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Memory) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.handles))
	for n := range m.handles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
