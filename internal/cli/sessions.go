package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"session-hub/internal/session"
)

// NewSessionsCommand lists persisted credentials.
func NewSessionsCommand(opts *RootOptions, env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List persisted sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, env, func(ctx context.Context, b *Backend) error {
				list, err := b.Stores.Credentials.List(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to list sessions", err)
				}
				p := printer{format: opts.Format, w: cmd.OutOrStdout()}
				type row struct {
					Number    string    `json:"number"`
					UpdatedAt time.Time `json:"updated_at"`
				}
				rows := make([]row, len(list))
				text := make([][]string, len(list))
				for i, s := range list {
					rows[i] = row{Number: s.Number, UpdatedAt: s.UpdatedAt}
					text[i] = []string{s.Number, s.UpdatedAt.UTC().Format(time.RFC3339)}
				}
				if ok, err := p.json(rows); ok {
					return err
				}
				return p.table([]string{"NUMBER", "UPDATED"}, text)
			})
		},
	}
}

// NewNumbersCommand lists the number directory.
func NewNumbersCommand(opts *RootOptions, env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "numbers",
		Short: "List numbers the server resumes on boot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, env, func(ctx context.Context, b *Backend) error {
				numbers, err := b.Stores.Directory.List(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to list numbers", err)
				}
				p := printer{format: opts.Format, w: cmd.OutOrStdout()}
				if numbers == nil {
					numbers = []string{}
				}
				if ok, err := p.json(numbers); ok {
					return err
				}
				for _, n := range numbers {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			})
		},
	}
}

// NewPurgeCommand removes a number from the directory and the credential store. A server
// holding a live session for the number keeps it until the session closes.
func NewPurgeCommand(opts *RootOptions, env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "purge NUMBER",
		Short: "Remove a number's credential and directory entry",
		Long: `Remove a number's persisted credential and directory entry so the server
neither resumes it on boot nor reuses its credential. Use the server's delete
operation to also log out a live session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := session.SanitizeNumber(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid number", err)
			}
			return withBackend(cmd, opts, env, func(ctx context.Context, b *Backend) error {
				if err := b.Stores.Directory.Remove(ctx, number); err != nil {
					return WrapExitError(ExitCommandError, "failed to remove directory entry", err)
				}
				if err := b.Stores.Credentials.Delete(ctx, number); err != nil {
					return WrapExitError(ExitCommandError, "failed to delete credential", err)
				}
				p := printer{format: opts.Format, w: cmd.OutOrStdout()}
				if ok, err := p.json(map[string]string{"purged": number}); ok {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", number)
				return nil
			})
		},
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
