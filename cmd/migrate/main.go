// migrate prepares the configured store: embedded SQL migrations for postgres/sqlite, index
// creation for mongo. Use with go run ./cmd/migrate -direction up|down|version.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"session-hub/internal/config"
	"session-hub/internal/db/migrate"
	"session-hub/internal/mongostore"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up, down, or version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	switch cfg.StoreDriver {
	case config.DriverMongo:
		if *direction != "up" {
			fmt.Fprintln(os.Stderr, "migrate: mongo only supports -direction up")
			os.Exit(1)
		}
		if err := ensureIndexes(cfg); err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
	case config.DriverPostgres, config.DriverSQLite:
		if *direction == "version" {
			v, dirty, err := migrate.Version(cfg.DatabaseURL)
			if err != nil {
				fmt.Fprintln(os.Stderr, "migrate:", err)
				os.Exit(1)
			}
			fmt.Printf("version %d dirty=%t\n", v, dirty)
			return
		}
		if err := migrate.Run(cfg.DatabaseURL, migrate.Direction(*direction)); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				// Already at target version; success.
				return
			}
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "STORE_DRIVER=%s has no schema; set DATABASE_URL or MONGO_URI\n", cfg.StoreDriver)
		os.Exit(1)
	}
}

func ensureIndexes(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, db, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()
	return mongostore.EnsureIndexes(ctx, db)
}
