// Package migrate applies the embedded SQL schema for the postgres and sqlite stores using golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"session-hub/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Direction selects which way Run moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ErrNoChange is golang-migrate's "already at target version". Run swallows it.
var ErrNoChange = migrate.ErrNoChange

// open builds a migrator over the embedded migrations for the DSN's dialect
// (sqlite3://path selects sqlite, anything else postgres).
func open(dsn string) (*migrate.Migrate, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	src, err := iofs.New(db.MigrationFS, db.MigrationDir(db.Dialect(dsn)))
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

// Run moves the schema fully up or fully down. Being at the target already is success.
func Run(dsn string, dir Direction) error {
	var step func(*migrate.Migrate) error
	switch dir {
	case Up:
		step = (*migrate.Migrate).Up
	case Down:
		step = (*migrate.Migrate).Down
	default:
		return fmt.Errorf("direction must be up or down, got %q", dir)
	}
	m, err := open(dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", dir, err)
	}
	return nil
}

// Version reports the applied schema version and whether the last migration left it dirty.
// A database with no migrations applied reports version 0.
func Version(dsn string) (uint, bool, error) {
	m, err := open(dsn)
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = m.Close() }()
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrate version: %w", err)
	}
	return v, dirty, nil
}
