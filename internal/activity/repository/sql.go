package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"session-hub/internal/activity/domain"
)

// SQLRepository stores activity in activity_records and activity_buckets (Postgres or SQLite).
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository returns an activity repository that uses the given db for persistence.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const upsertRecord = `
INSERT INTO activity_records (identity_key, user_id, scope_id, display_name, total, last_active_at)
VALUES ($1, $2, $3, $4, 1, $5)
ON CONFLICT (identity_key) DO UPDATE SET
    display_name = excluded.display_name,
    last_active_at = excluded.last_active_at,
    total = activity_records.total + 1`

const upsertBucket = `
INSERT INTO activity_buckets (identity_key, period, bucket, count)
VALUES ($1, $2, $3, 1)
ON CONFLICT (identity_key, period, bucket) DO UPDATE SET
    count = activity_buckets.count + 1`

const topTotal = `
SELECT identity_key, user_id, display_name, total
FROM activity_records
WHERE ($1 = '' OR scope_id = $1) AND total > 0
ORDER BY total DESC, seq
LIMIT $2`

const topBucket = `
SELECT r.identity_key, r.user_id, r.display_name, b.count
FROM activity_buckets b
JOIN activity_records r ON r.identity_key = b.identity_key
WHERE b.period = $1 AND b.bucket = $2 AND ($3 = '' OR r.scope_id = $3) AND b.count > 0
ORDER BY b.count DESC, r.seq
LIMIT $4`

// Increment upserts the record and each bucket counter in one transaction.
func (r *SQLRepository) Increment(ctx context.Context, inc domain.Increment) error {
	if inc.IdentityKey == "" {
		return errors.New("activity: identity key required")
	}
	at := inc.At
	if at.IsZero() {
		at = time.Now()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertRecord, inc.IdentityKey, inc.UserID, inc.ScopeID, inc.DisplayName, at.UTC()); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	// Fixed period order keeps row locks ordered across concurrent increments.
	for _, p := range domain.BucketPeriods {
		bucket, ok := inc.Buckets[p]
		if !ok || bucket == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertBucket, inc.IdentityKey, string(p), bucket); err != nil {
			return fmt.Errorf("upsert %s bucket: %w", p, err)
		}
	}
	return tx.Commit()
}

// Get returns the record for identityKey with all bucket maps, or nil if not found.
func (r *SQLRepository) Get(ctx context.Context, identityKey string) (*domain.Record, error) {
	rec := domain.NewRecord(identityKey)
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, scope_id, display_name, total, last_active_at FROM activity_records WHERE identity_key = $1`,
		identityKey,
	).Scan(&rec.UserID, &rec.ScopeID, &rec.DisplayName, &rec.Total, &rec.LastActiveAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.LastActiveAt = rec.LastActiveAt.UTC()

	rows, err := r.db.QueryContext(ctx,
		`SELECT period, bucket, count FROM activity_buckets WHERE identity_key = $1`, identityKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			period, bucket string
			count          int64
		)
		if err := rows.Scan(&period, &bucket, &count); err != nil {
			return nil, err
		}
		if m := rec.Buckets(domain.Period(period)); m != nil {
			m[bucket] = count
		}
	}
	return rec, rows.Err()
}

// Top returns the leaderboard for q.
func (r *SQLRepository) Top(ctx context.Context, q domain.TopQuery) ([]domain.Entry, error) {
	var (
		rows  *sql.Rows
		err   error
		limit = queryLimit(q.Limit)
	)
	if q.Period == domain.PeriodTotal {
		rows, err = r.db.QueryContext(ctx, topTotal, q.Scope, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, topBucket, string(q.Period), q.Bucket, q.Scope, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Entry, 0)
	for rows.Next() {
		var e domain.Entry
		if err := rows.Scan(&e.IdentityKey, &e.UserID, &e.DisplayName, &e.Count); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// queryLimit maps a non-positive limit to "no limit".
func queryLimit(n int) int64 {
	if n <= 0 {
		return math.MaxInt32
	}
	return int64(n)
}
