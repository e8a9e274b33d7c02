package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"session-hub/internal/credential/domain"
)

// SQLRepository stores credentials in the session_credentials table (Postgres or SQLite).
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository returns a credential repository that uses the given db for persistence.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const putCredential = `
INSERT INTO session_credentials (number, credential_blob, key_material, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (number) DO UPDATE SET
    credential_blob = excluded.credential_blob,
    key_material = excluded.key_material,
    updated_at = excluded.updated_at
WHERE session_credentials.updated_at <= excluded.updated_at`

// Get returns the credential for number, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *SQLRepository) Get(ctx context.Context, number string) (*domain.Credential, error) {
	var c domain.Credential
	err := r.db.QueryRowContext(ctx,
		`SELECT number, credential_blob, key_material, updated_at FROM session_credentials WHERE number = $1`,
		number,
	).Scan(&c.Number, &c.CredentialBlob, &c.KeyMaterial, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// Put upserts c, keeping the stored row when it is newer than c.
func (r *SQLRepository) Put(ctx context.Context, c *domain.Credential) error {
	if c == nil || c.Number == "" {
		return errors.New("credential: number required")
	}
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, putCredential, c.Number, nonNil(c.CredentialBlob), c.KeyMaterial, updatedAt.UTC())
	return err
}

// Delete removes the credential for number.
func (r *SQLRepository) Delete(ctx context.Context, number string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM session_credentials WHERE number = $1`, number)
	return err
}

// List returns stored numbers ordered by updated_at descending.
func (r *SQLRepository) List(ctx context.Context) ([]domain.Summary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT number, updated_at FROM session_credentials ORDER BY updated_at DESC, number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Summary, 0)
	for rows.Next() {
		var s domain.Summary
		if err := rows.Scan(&s.Number, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.UpdatedAt = s.UpdatedAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
