// Package repository persists activity records.
package repository

import (
	"context"

	"session-hub/internal/activity/domain"
)

// Repository defines persistence for activity counters.
// Increment must be safe for concurrent use from many sessions at once.
type Repository interface {
	// Increment creates or updates the record for inc.IdentityKey in one atomic step.
	Increment(ctx context.Context, inc domain.Increment) error
	// Get returns the record for identityKey, or nil if none exists.
	Get(ctx context.Context, identityKey string) (*domain.Record, error)
	// Top returns entries with a positive counter, highest first; ties keep first-insertion order.
	Top(ctx context.Context, q domain.TopQuery) ([]domain.Entry, error)
}
