// Package activity counts inbound messages per identity over calendar buckets and answers
// rank and leaderboard queries.
package activity

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"session-hub/internal/activity/domain"
	"session-hub/internal/activity/repository"
	"session-hub/internal/platform/besteffort"
)

// DefaultLimit is used when a leaderboard is requested with a non-positive limit.
const DefaultLimit = 10

// Suffixes of broadcast and system channels that never count as activity.
var systemChannelSuffixes = []string{"@broadcast", "@newsletter"}

// Activity is one inbound message as seen by the ranking engine.
type Activity struct {
	UserID      string
	ScopeID     string // group the message was sent in; empty for direct chats
	ChatID      string
	DisplayName string
	FromSelf    bool
	Timestamp   time.Time
}

// IdentityKey returns the record key for a user, optionally scoped to a group.
func IdentityKey(userID, scopeID string) string {
	if scopeID == "" {
		return userID
	}
	return userID + "@" + scopeID
}

// Options configures an Engine. Zero values are usable.
type Options struct {
	// Location is the reference zone for bucket labels. Defaults to UTC.
	Location *time.Location
	// ExcludedChannels are chat or sender ids that are never counted.
	ExcludedChannels []string
	// Recorder observes best-effort increments.
	Recorder besteffort.Recorder
	// Recorded counts accepted activity events.
	Recorded metric.Int64Counter
	Logger   *zap.Logger
	Now      func() time.Time
}

// Engine is the ranking logic over an activity repository. It holds no counters itself.
type Engine struct {
	repo     repository.Repository
	loc      *time.Location
	excluded map[string]struct{}
	rec      besteffort.Recorder
	recorded metric.Int64Counter
	log      *zap.Logger
	now      func() time.Time
}

// NewEngine returns an Engine over repo.
func NewEngine(repo repository.Repository, opts Options) *Engine {
	e := &Engine{
		repo:     repo,
		loc:      opts.Location,
		excluded: make(map[string]struct{}, len(opts.ExcludedChannels)),
		rec:      opts.Recorder,
		recorded: opts.Recorded,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.rec == nil {
		e.rec = besteffort.NewLogRecorder(e.log, nil)
	}
	if e.now == nil {
		e.now = time.Now
	}
	for _, c := range opts.ExcludedChannels {
		if c = strings.TrimSpace(c); c != "" {
			e.excluded[c] = struct{}{}
		}
	}
	return e
}

// Location returns the reference zone used for bucket labels.
func (e *Engine) Location() *time.Location { return e.loc }

// Counts reports whether a is eligible for counting.
func (e *Engine) Counts(a Activity) bool {
	if a.FromSelf || a.UserID == "" {
		return false
	}
	for _, id := range []string{a.ChatID, a.UserID} {
		if id == "" {
			continue
		}
		if _, ok := e.excluded[id]; ok {
			return false
		}
		for _, s := range systemChannelSuffixes {
			if strings.HasSuffix(id, s) {
				return false
			}
		}
	}
	return true
}

// RecordActivity counts a against its identity. Ineligible events are dropped silently and
// report false. Store failures are handed to the recorder, never returned.
func (e *Engine) RecordActivity(ctx context.Context, a Activity) bool {
	if !e.Counts(a) {
		return false
	}
	at := a.Timestamp
	if at.IsZero() {
		at = e.now()
	}
	inc := domain.Increment{
		IdentityKey: IdentityKey(a.UserID, a.ScopeID),
		UserID:      a.UserID,
		ScopeID:     a.ScopeID,
		DisplayName: a.DisplayName,
		At:          at,
		Buckets:     Buckets(at, e.loc),
	}
	besteffort.Do(ctx, e.rec, "activity.increment", inc.IdentityKey, func(ctx context.Context) error {
		return e.repo.Increment(ctx, inc)
	})
	if e.recorded != nil {
		scoped := a.ScopeID != ""
		e.recorded.Add(ctx, 1, metric.WithAttributes(attribute.Bool("scoped", scoped)))
	}
	return true
}

// GetRecord returns the record for identityKey, or nil when the identity has no activity.
func (e *Engine) GetRecord(ctx context.Context, identityKey string) (*domain.Record, error) {
	return e.repo.Get(ctx, identityKey)
}

// Rank is a record together with its counters for the current bucket of every period.
type Rank struct {
	Record  *domain.Record
	Current map[domain.Period]int64
}

// RankOf returns identityKey's record and current-period counts, or nil without activity.
func (e *Engine) RankOf(ctx context.Context, identityKey string) (*Rank, error) {
	rec, err := e.repo.Get(ctx, identityKey)
	if err != nil || rec == nil {
		return nil, err
	}
	now := e.now()
	current := map[domain.Period]int64{domain.PeriodTotal: rec.Total}
	for _, p := range domain.BucketPeriods {
		current[p] = rec.Count(p, BucketLabel(p, now, e.loc))
	}
	return &Rank{Record: rec, Current: current}, nil
}

// Leaderboard returns the top identities in scope (empty for all) for the current bucket of
// period. It returns an empty slice, not an error, when nobody qualifies.
func (e *Engine) Leaderboard(ctx context.Context, scope, period string, limit int) ([]domain.Entry, error) {
	p, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	q := domain.TopQuery{Scope: scope, Period: p, Limit: limit}
	if p != domain.PeriodTotal {
		q.Bucket = BucketLabel(p, e.now(), e.loc)
	}
	entries, err := e.repo.Top(ctx, q)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.Entry{}
	}
	return entries, nil
}
