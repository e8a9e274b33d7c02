package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"session-hub/internal/activity/domain"
	"session-hub/internal/activity/repository"
	"session-hub/internal/platform/besteffort"
)

var now = time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC)

func newTestEngine(repo repository.Repository, col *besteffort.Collector) *Engine {
	return NewEngine(repo, Options{
		Location:         colombo,
		ExcludedChannels: []string{"status@broadcast", " 120363000000@g.us "},
		Recorder:         col,
		Now:              func() time.Time { return now },
	})
}

type failingRepo struct{ repository.Repository }

func (failingRepo) Increment(context.Context, domain.Increment) error {
	return errors.New("store down")
}

func TestIdentityKey(t *testing.T) {
	if got := IdentityKey("77001", ""); got != "77001" {
		t.Errorf("IdentityKey unscoped = %q", got)
	}
	if got := IdentityKey("77001", "g1"); got != "77001@g1" {
		t.Errorf("IdentityKey scoped = %q", got)
	}
}

func TestRecordActivity_Filters(t *testing.T) {
	repo := repository.NewMemoryRepository()
	e := newTestEngine(repo, &besteffort.Collector{})
	ctx := context.Background()

	dropped := []Activity{
		{UserID: "77001", FromSelf: true},
		{UserID: ""},
		{UserID: "77001", ChatID: "status@broadcast"},
		{UserID: "77001", ChatID: "120363000000@g.us"},
		{UserID: "77001", ChatID: "abc@newsletter"},
		{UserID: "1234@broadcast"},
	}
	for _, a := range dropped {
		if e.RecordActivity(ctx, a) {
			t.Errorf("RecordActivity(%+v) counted, want dropped", a)
		}
	}
	top, err := e.Leaderboard(ctx, "", "all", 10)
	require.NoError(t, err)
	require.Empty(t, top)
}

func TestRecordActivity_AdditiveWithinHour(t *testing.T) {
	repo := repository.NewMemoryRepository()
	e := newTestEngine(repo, &besteffort.Collector{})
	ctx := context.Background()

	const k = 7
	for i := 0; i < k; i++ {
		require.True(t, e.RecordActivity(ctx, Activity{
			UserID:      "77001",
			ScopeID:     "g1",
			DisplayName: "Nimal",
			Timestamp:   now.Add(time.Duration(i) * time.Minute),
		}))
	}
	rec, err := e.GetRecord(ctx, "77001@g1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, int64(k), rec.Total)
	require.Equal(t, int64(k), rec.Hourly[BucketLabel(domain.PeriodHourly, now, colombo)])
	require.Equal(t, int64(k), rec.Daily["2026-03-04"])
	require.Equal(t, int64(k), rec.Weekly["2026-10"])
	require.Equal(t, int64(k), rec.Monthly["2026-03"])
}

func TestRecordActivity_ZeroTimestampUsesNow(t *testing.T) {
	repo := repository.NewMemoryRepository()
	e := newTestEngine(repo, &besteffort.Collector{})
	require.True(t, e.RecordActivity(context.Background(), Activity{UserID: "77001"}))
	rec, err := e.GetRecord(context.Background(), "77001")
	require.NoError(t, err)
	require.True(t, rec.LastActiveAt.Equal(now))
}

func TestRecordActivity_StoreFailureIsRecorded(t *testing.T) {
	col := &besteffort.Collector{}
	e := newTestEngine(failingRepo{repository.NewMemoryRepository()}, col)
	require.True(t, e.RecordActivity(context.Background(), Activity{UserID: "77001", ScopeID: "g1"}))
	failures := col.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, "activity.increment", failures[0].Op)
	require.Equal(t, "77001@g1", failures[0].Key)
}

func TestGetRecord_Missing(t *testing.T) {
	e := newTestEngine(repository.NewMemoryRepository(), &besteffort.Collector{})
	rec, err := e.GetRecord(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, rec)

	rank, err := e.RankOf(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, rank)
}

func TestLeaderboard(t *testing.T) {
	repo := repository.NewMemoryRepository()
	e := newTestEngine(repo, &besteffort.Collector{})
	ctx := context.Background()
	record := func(user, scope string, n int, at time.Time) {
		for i := 0; i < n; i++ {
			e.RecordActivity(ctx, Activity{UserID: user, ScopeID: scope, DisplayName: "n-" + user, Timestamp: at})
		}
	}
	yesterday := now.Add(-24 * time.Hour)
	record("a", "g1", 3, now)
	record("b", "g1", 6, now)
	record("c", "g1", 3, now)
	record("d", "g1", 10, yesterday)
	record("e", "g2", 20, now)

	t.Run("daily non-increasing with zero excluded", func(t *testing.T) {
		got, err := e.Leaderboard(ctx, "g1", "daily", 10)
		require.NoError(t, err)
		require.Len(t, got, 3)
		require.Equal(t, []string{"b", "a", "c"}, []string{got[0].UserID, got[1].UserID, got[2].UserID})
		for i := 1; i < len(got); i++ {
			require.LessOrEqual(t, got[i].Count, got[i-1].Count)
		}
	})

	t.Run("all time includes older buckets", func(t *testing.T) {
		got, err := e.Leaderboard(ctx, "g1", "all-time", 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "d", got[0].UserID)
		require.Equal(t, int64(10), got[0].Count)
	})

	t.Run("no scope spans groups", func(t *testing.T) {
		got, err := e.Leaderboard(ctx, "", "monthly", 2)
		require.NoError(t, err)
		require.Equal(t, "e", got[0].UserID)
		require.Equal(t, "d", got[1].UserID)
	})

	t.Run("default limit", func(t *testing.T) {
		for i := 0; i < 15; i++ {
			record(string(rune('k'+i)), "g3", 1, now)
		}
		got, err := e.Leaderboard(ctx, "g3", "hourly", 0)
		require.NoError(t, err)
		require.Len(t, got, DefaultLimit)
	})

	t.Run("empty scope returns empty slice", func(t *testing.T) {
		got, err := e.Leaderboard(ctx, "nobody", "weekly", 10)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Empty(t, got)
	})

	t.Run("unknown period", func(t *testing.T) {
		_, err := e.Leaderboard(ctx, "g1", "yearly", 10)
		require.ErrorIs(t, err, ErrUnknownPeriod)
	})
}

func TestRankOf(t *testing.T) {
	repo := repository.NewMemoryRepository()
	e := newTestEngine(repo, &besteffort.Collector{})
	ctx := context.Background()
	e.RecordActivity(ctx, Activity{UserID: "77001", DisplayName: "Nimal", Timestamp: now.Add(-48 * time.Hour)})
	e.RecordActivity(ctx, Activity{UserID: "77001", DisplayName: "Nimal", Timestamp: now})

	rank, err := e.RankOf(ctx, "77001")
	require.NoError(t, err)
	require.NotNil(t, rank)
	require.Equal(t, int64(2), rank.Current[domain.PeriodTotal])
	require.Equal(t, int64(1), rank.Current[domain.PeriodDaily])
	require.Equal(t, int64(1), rank.Current[domain.PeriodHourly])
	require.Equal(t, int64(2), rank.Current[domain.PeriodMonthly])
}
