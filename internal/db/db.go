// Package db opens the SQL database backing the credential, directory and activity stores.
// Postgres (pgx) and SQLite (go-sqlite3) share one schema and one set of queries.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// SQL dialects; each has its own migration directory.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const sqliteScheme = "sqlite3://"

// Dialect returns the SQL dialect for dsn: sqlite3://path is SQLite, anything else Postgres.
func Dialect(dsn string) string {
	if strings.HasPrefix(dsn, sqliteScheme) {
		return DialectSQLite
	}
	return DialectPostgres
}

// Open opens a database using the given DSN. Caller must call Close when done.
// postgres:// DSNs use pgx; sqlite3://path DSNs use go-sqlite3 with foreign keys on and a
// single connection so writers queue instead of failing with SQLITE_BUSY.
func Open(dsn string) (*sql.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("db: empty DSN")
	}

	var (
		db  *sql.DB
		err error
	)
	switch Dialect(dsn) {
	case DialectSQLite:
		path := strings.TrimPrefix(dsn, sqliteScheme)
		if path == "" {
			return nil, errors.New("db: sqlite DSN has no path")
		}
		if !strings.Contains(path, "?") {
			path += "?_foreign_keys=on&_busy_timeout=5000"
		}
		db, err = sql.Open("sqlite3", path)
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	default:
		db, err = sql.Open("pgx", dsn)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return db, nil
}
