package repository

import (
	"context"

	"session-hub/internal/credential/domain"
)

// Repository defines persistence for session credentials, keyed by sanitized number.
type Repository interface {
	// Get returns the credential for number, or nil if none is stored.
	Get(ctx context.Context, number string) (*domain.Credential, error)
	// Put upserts c. A stored credential with a newer UpdatedAt is left untouched.
	Put(ctx context.Context, c *domain.Credential) error
	// Delete removes the credential for number. Deleting a missing number is not an error.
	Delete(ctx context.Context, number string) error
	// List returns every stored number with its UpdatedAt, most recently updated first.
	List(ctx context.Context) ([]domain.Summary, error)
}
