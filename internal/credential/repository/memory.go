package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"session-hub/internal/credential/domain"
)

// MemoryRepository is an in-memory Repository used when no database is configured and in tests.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]domain.Credential
}

// NewMemoryRepository returns an empty in-memory credential repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]domain.Credential)}
}

// Get returns a copy of the stored credential, or nil.
func (r *MemoryRepository) Get(ctx context.Context, number string) (*domain.Credential, error) {
	r.mu.RLock()
	c, ok := r.m[number]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return clone(c), nil
}

// Put stores a copy of c unless a newer credential is already stored.
func (r *MemoryRepository) Put(ctx context.Context, c *domain.Credential) error {
	if c == nil || c.Number == "" {
		return errors.New("credential: number required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.m[c.Number]; ok && cur.UpdatedAt.After(c.UpdatedAt) {
		return nil
	}
	r.m[c.Number] = *clone(*c)
	return nil
}

// Delete removes number.
func (r *MemoryRepository) Delete(ctx context.Context, number string) error {
	r.mu.Lock()
	delete(r.m, number)
	r.mu.Unlock()
	return nil
}

// List returns summaries, most recently updated first.
func (r *MemoryRepository) List(ctx context.Context) ([]domain.Summary, error) {
	r.mu.RLock()
	out := make([]domain.Summary, 0, len(r.m))
	for _, c := range r.m {
		out = append(out, domain.Summary{Number: c.Number, UpdatedAt: c.UpdatedAt})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func clone(c domain.Credential) *domain.Credential {
	out := c
	if c.CredentialBlob != nil {
		out.CredentialBlob = append([]byte(nil), c.CredentialBlob...)
	}
	if c.KeyMaterial != nil {
		out.KeyMaterial = append([]byte(nil), c.KeyMaterial...)
	}
	return &out
}
