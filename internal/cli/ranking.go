package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"session-hub/internal/activity"
	activitydomain "session-hub/internal/activity/domain"
)

// NewRankCommand shows one identity's totals and current-bucket counts. Times are shown in
// the ranking timezone, the zone the buckets are labelled in.
func NewRankCommand(opts *RootOptions, env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "rank IDENTITY",
		Short: "Show activity counts for an identity (user or user@group)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, env, func(ctx context.Context, b *Backend) error {
				rank, err := b.Engine.RankOf(ctx, args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read rank", err)
				}
				if rank == nil {
					return NewExitError(ExitFailure, fmt.Sprintf("no activity recorded for %s", args[0]))
				}
				p := printer{format: opts.Format, w: cmd.OutOrStdout()}
				loc := b.Engine.Location()
				if ok, err := p.json(rankView(rank, loc)); ok {
					return err
				}
				rows := [][]string{{string(activitydomain.PeriodTotal), itoa(rank.Record.Total)}}
				for _, period := range activitydomain.BucketPeriods {
					rows = append(rows, []string{string(period), itoa(rank.Current[period])})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) last active %s\n", rank.Record.DisplayName,
					rank.Record.IdentityKey, rank.Record.LastActiveAt.In(loc).Format(time.RFC3339))
				return p.table([]string{"PERIOD", "COUNT"}, rows)
			})
		},
	}
}

type rankJSON struct {
	IdentityKey  string           `json:"identity_key"`
	UserID       string           `json:"user_id"`
	ScopeID      string           `json:"scope_id,omitempty"`
	DisplayName  string           `json:"display_name"`
	Total        int64            `json:"total"`
	Current      map[string]int64 `json:"current"`
	LastActiveAt string           `json:"last_active_at"`
}

func rankView(r *activity.Rank, loc *time.Location) rankJSON {
	current := make(map[string]int64, len(r.Current))
	for p, n := range r.Current {
		current[string(p)] = n
	}
	return rankJSON{
		IdentityKey:  r.Record.IdentityKey,
		UserID:       r.Record.UserID,
		ScopeID:      r.Record.ScopeID,
		DisplayName:  r.Record.DisplayName,
		Total:        r.Record.Total,
		Current:      current,
		LastActiveAt: r.Record.LastActiveAt.In(loc).Format(time.RFC3339),
	}
}

// TopOptions holds flags for the top command.
type TopOptions struct {
	*RootOptions
	Scope  string
	Period string
	Limit  int
}

// NewTopCommand prints a leaderboard.
func NewTopCommand(rootOpts *RootOptions, env Env) *cobra.Command {
	opts := &TopOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Print the activity leaderboard",
		Long: `Print the most active identities for a period's current bucket.

Examples:
  hubctl top --period daily --scope 120363000000000000@g.us
  hubctl top --period all --limit 25 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, rootOpts, env, func(ctx context.Context, b *Backend) error {
				entries, err := b.Engine.Leaderboard(ctx, opts.Scope, opts.Period, opts.Limit)
				if errors.Is(err, activity.ErrUnknownPeriod) {
					return WrapExitError(ExitCommandError, "invalid --period", err)
				}
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read leaderboard", err)
				}
				p := printer{format: opts.Format, w: cmd.OutOrStdout()}
				if entries == nil {
					entries = []activitydomain.Entry{}
				}
				if ok, err := p.json(entries); ok {
					return err
				}
				rows := make([][]string, len(entries))
				for i, e := range entries {
					rows[i] = []string{itoa(int64(i + 1)), e.DisplayName, e.UserID, itoa(e.Count)}
				}
				return p.table([]string{"#", "NAME", "USER", "COUNT"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "group id to rank within (empty ranks everyone)")
	cmd.Flags().StringVar(&opts.Period, "period", "daily", "hourly|daily|weekly|monthly|all")
	cmd.Flags().IntVar(&opts.Limit, "limit", activity.DefaultLimit, "maximum entries")
	return cmd
}
