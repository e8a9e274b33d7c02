package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLRepository stores directory entries in the session_numbers table.
type SQLRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLRepository returns a directory repository that uses the given db for persistence.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, now: time.Now}
}

// Add inserts number if absent.
func (r *SQLRepository) Add(ctx context.Context, number string) error {
	if number == "" {
		return errors.New("directory: number required")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_numbers (number, added_at) VALUES ($1, $2) ON CONFLICT (number) DO NOTHING`,
		number, r.now().UTC(),
	)
	return err
}

// Remove deletes number.
func (r *SQLRepository) Remove(ctx context.Context, number string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM session_numbers WHERE number = $1`, number)
	return err
}

// List returns numbers ordered by added_at, then number.
func (r *SQLRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT number FROM session_numbers ORDER BY added_at, number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
