// Package store opens the credential, directory and activity repositories for the configured
// driver and prepares their schema.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	activityrepo "session-hub/internal/activity/repository"
	"session-hub/internal/config"
	credrepo "session-hub/internal/credential/repository"
	"session-hub/internal/db"
	"session-hub/internal/db/migrate"
	dirrepo "session-hub/internal/directory/repository"
	"session-hub/internal/health"
	"session-hub/internal/mongostore"
)

// Stores is the set of repositories backing one process.
type Stores struct {
	Driver      string
	Credentials credrepo.Repository
	Directory   dirrepo.Repository
	Activity    activityrepo.Repository
	// Pinger reports backend reachability; nil for the memory driver.
	Pinger health.Pinger

	sqlDB  *sql.DB
	client *mongo.Client
}

// Options control schema preparation on Open.
type Options struct {
	// Migrate applies SQL migrations up before opening a SQL store.
	Migrate bool
	// EnsureIndexes creates Mongo indexes after connecting.
	EnsureIndexes bool
}

// Open connects to the backend selected by cfg.StoreDriver. When cfg.CredentialAgeIdentity is
// set, credentials are sealed with age before they reach the backend.
func Open(ctx context.Context, cfg *config.Config, opts Options, log *zap.Logger) (*Stores, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Stores{Driver: cfg.StoreDriver}
	switch cfg.StoreDriver {
	case config.DriverPostgres, config.DriverSQLite:
		if opts.Migrate {
			if err := migrate.Run(cfg.DatabaseURL, migrate.Up); err != nil {
				return nil, fmt.Errorf("store: migrate: %w", err)
			}
		}
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		s.sqlDB = conn
		s.Pinger = conn
		s.Credentials = credrepo.NewSQLRepository(conn)
		s.Directory = dirrepo.NewSQLRepository(conn)
		s.Activity = activityrepo.NewSQLRepository(conn)
	case config.DriverMongo:
		client, database, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		s.client = client
		if opts.EnsureIndexes {
			if err := mongostore.EnsureIndexes(ctx, database); err != nil {
				_ = client.Disconnect(context.Background())
				return nil, fmt.Errorf("store: %w", err)
			}
		}
		s.Pinger = health.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx, readpref.Primary())
		})
		s.Credentials = credrepo.NewMongoRepository(database)
		s.Directory = dirrepo.NewMongoRepository(database)
		s.Activity = activityrepo.NewMongoRepository(database)
	case config.DriverMemory:
		log.Warn("memory store selected; sessions and rankings are lost on restart")
		s.Credentials = credrepo.NewMemoryRepository()
		s.Directory = dirrepo.NewMemoryRepository()
		s.Activity = activityrepo.NewMemoryRepository()
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.StoreDriver)
	}

	if cfg.CredentialAgeIdentity != "" {
		sealed, err := credrepo.NewSealedRepository(s.Credentials, cfg.CredentialAgeIdentity)
		if err != nil {
			_ = s.Close(context.Background())
			return nil, fmt.Errorf("store: %w", err)
		}
		s.Credentials = sealed
	}
	log.Info("store opened", zap.String("driver", s.Driver), zap.Bool("sealed", cfg.CredentialAgeIdentity != ""))
	return s, nil
}

// Close releases the backend connection.
func (s *Stores) Close(ctx context.Context) error {
	var errs []error
	if s.sqlDB != nil {
		errs = append(errs, s.sqlDB.Close())
	}
	if s.client != nil {
		errs = append(errs, s.client.Disconnect(ctx))
	}
	return errors.Join(errs...)
}
