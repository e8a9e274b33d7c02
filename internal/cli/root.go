// Package cli implements hubctl, the operator CLI over the session hub's persistent stores.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"session-hub/internal/activity"
	"session-hub/internal/config"
	"session-hub/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string // "json" | "text"
	Timeout time.Duration
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Backend is what store-backed commands operate on.
type Backend struct {
	Config *config.Config
	Stores *store.Stores
	Engine *activity.Engine
}

// Close releases the backend's store connection.
func (b *Backend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Stores.Close(ctx)
}

// Env supplies the CLI's dependencies. Zero fields use the process config and real backends.
type Env struct {
	LoadConfig func() (*config.Config, error)
	Open       func(ctx context.Context, cfg *config.Config) (*Backend, error)
	NewReader  func(brokers []string, topic, group string) EventReader
}

func (e Env) withDefaults() Env {
	if e.LoadConfig == nil {
		e.LoadConfig = config.Load
	}
	if e.Open == nil {
		e.Open = OpenBackend
	}
	if e.NewReader == nil {
		e.NewReader = newKafkaReader
	}
	return e
}

// OpenBackend opens the configured store without migrating it and builds a ranking engine
// with the configured timezone and exclusions.
func OpenBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	stores, err := store.Open(ctx, cfg, store.Options{}, nil)
	if err != nil {
		return nil, err
	}
	engine := activity.NewEngine(stores.Activity, activity.Options{
		Location:         cfg.Location(),
		ExcludedChannels: cfg.ExcludedChannelsList(),
	})
	return &Backend{Config: cfg, Stores: stores, Engine: engine}, nil
}

// NewRootCommand creates the root command for hubctl.
func NewRootCommand(env Env) *cobra.Command {
	env = env.withDefaults()
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "hubctl",
		Short: "Inspect and maintain session hub stores",
		Long: `hubctl reads and maintains the stores behind a session hub: persisted
credentials, the number directory and activity rankings. It uses the same
environment (.env, STORE_DRIVER, DATABASE_URL, MONGO_URI, ...) as the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "timeout for store operations")

	cmd.AddCommand(NewSessionsCommand(opts, env))
	cmd.AddCommand(NewNumbersCommand(opts, env))
	cmd.AddCommand(NewPurgeCommand(opts, env))
	cmd.AddCommand(NewRankCommand(opts, env))
	cmd.AddCommand(NewTopCommand(opts, env))
	cmd.AddCommand(NewEventsCommand(opts, env))

	return cmd
}

// withBackend loads config, opens the backend and runs fn with a timeout-bound context.
func withBackend(cmd *cobra.Command, opts *RootOptions, env Env, fn func(ctx context.Context, b *Backend) error) error {
	cfg, err := env.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()
	b, err := env.Open(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer b.Close()
	return fn(ctx, b)
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
