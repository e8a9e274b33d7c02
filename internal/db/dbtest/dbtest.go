// Package dbtest opens migrated throwaway databases for repository tests.
package dbtest

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"session-hub/internal/db"
	"session-hub/internal/db/migrate"
)

// SQLite returns a migrated SQLite database in t's temp dir, closed at test cleanup.
func SQLite(t testing.TB) *sql.DB {
	t.Helper()
	dsn := "sqlite3://" + filepath.Join(t.TempDir(), "hub.db")
	return open(t, dsn)
}

// Postgres returns a migrated Postgres database from TEST_DATABASE_URL, or skips the test
// when it is not set. Tables are truncated before returning.
func Postgres(t testing.TB) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	conn := open(t, dsn)
	if _, err := conn.Exec("TRUNCATE activity_buckets, activity_records, session_numbers, session_credentials"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return conn
}

func open(t testing.TB, dsn string) *sql.DB {
	t.Helper()
	if err := migrate.Run(dsn, migrate.Up); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
