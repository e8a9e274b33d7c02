package repository

import (
	"context"
	"errors"
	"sync"
)

// MemoryRepository is an in-memory Repository.
type MemoryRepository struct {
	mu    sync.RWMutex
	order []string
	set   map[string]struct{}
}

// NewMemoryRepository returns an empty in-memory directory.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{set: make(map[string]struct{})}
}

// Add appends number if absent.
func (r *MemoryRepository) Add(ctx context.Context, number string) error {
	if number == "" {
		return errors.New("directory: number required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.set[number]; ok {
		return nil
	}
	r.set[number] = struct{}{}
	r.order = append(r.order, number)
	return nil
}

// Remove deletes number.
func (r *MemoryRepository) Remove(ctx context.Context, number string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.set[number]; !ok {
		return nil
	}
	delete(r.set, number)
	for i, n := range r.order {
		if n == number {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns numbers in insertion order.
func (r *MemoryRepository) List(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out, nil
}
