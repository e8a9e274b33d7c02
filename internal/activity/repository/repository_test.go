package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"session-hub/internal/activity/domain"
	"session-hub/internal/db/dbtest"
	"session-hub/internal/mongostore/mongotest"
)

var at = time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC)

func inc(key, scope, name string) domain.Increment {
	user := key
	if scope != "" {
		user = key[:len(key)-len(scope)-1]
	}
	return domain.Increment{
		IdentityKey: key,
		UserID:      user,
		ScopeID:     scope,
		DisplayName: name,
		At:          at,
		Buckets: map[domain.Period]string{
			domain.PeriodHourly:  "2026-03-04-15",
			domain.PeriodDaily:   "2026-03-04",
			domain.PeriodWeekly:  "2026-10",
			domain.PeriodMonthly: "2026-03",
		},
	}
}

func times(t *testing.T, repo Repository, n int, i domain.Increment) {
	t.Helper()
	for k := 0; k < n; k++ {
		require.NoError(t, repo.Increment(context.Background(), i))
	}
}

func keys(entries []domain.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.IdentityKey
	}
	return out
}

func contract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("get missing returns nil", func(t *testing.T) {
		rec, err := newRepo(t).Get(context.Background(), "nobody")
		require.NoError(t, err)
		require.Nil(t, rec)
	})

	t.Run("increments are additive", func(t *testing.T) {
		repo := newRepo(t)
		times(t, repo, 5, inc("77001@g1", "g1", "Nimal"))

		rec, err := repo.Get(context.Background(), "77001@g1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		require.Equal(t, int64(5), rec.Total)
		require.Equal(t, int64(5), rec.Hourly["2026-03-04-15"])
		require.Equal(t, int64(5), rec.Daily["2026-03-04"])
		require.Equal(t, int64(5), rec.Weekly["2026-10"])
		require.Equal(t, int64(5), rec.Monthly["2026-03"])
		require.Equal(t, "77001", rec.UserID)
		require.Equal(t, "g1", rec.ScopeID)
		require.True(t, rec.LastActiveAt.Equal(at))
	})

	t.Run("latest name and timestamp overwrite", func(t *testing.T) {
		repo := newRepo(t)
		first := inc("77002", "", "old")
		require.NoError(t, repo.Increment(context.Background(), first))
		second := first
		second.DisplayName = "new"
		second.At = at.Add(time.Hour)
		second.Buckets = map[domain.Period]string{domain.PeriodHourly: "2026-03-04-16"}
		require.NoError(t, repo.Increment(context.Background(), second))

		rec, err := repo.Get(context.Background(), "77002")
		require.NoError(t, err)
		require.Equal(t, "new", rec.DisplayName)
		require.True(t, rec.LastActiveAt.Equal(at.Add(time.Hour)))
		require.Equal(t, int64(2), rec.Total)
		require.Equal(t, int64(1), rec.Hourly["2026-03-04-15"])
		require.Equal(t, int64(1), rec.Hourly["2026-03-04-16"])
		require.Equal(t, int64(1), rec.Daily["2026-03-04"])
	})

	t.Run("top orders by count then insertion", func(t *testing.T) {
		repo := newRepo(t)
		times(t, repo, 2, inc("a@g1", "g1", "A"))
		times(t, repo, 5, inc("b@g1", "g1", "B"))
		times(t, repo, 2, inc("c@g1", "g1", "C"))
		times(t, repo, 9, inc("d@g2", "g2", "D"))

		got, err := repo.Top(context.Background(), domain.TopQuery{Scope: "g1", Period: domain.PeriodDaily, Bucket: "2026-03-04", Limit: 10})
		require.NoError(t, err)
		require.Equal(t, []string{"b@g1", "a@g1", "c@g1"}, keys(got))
		require.Equal(t, int64(5), got[0].Count)
		require.Equal(t, "b", got[0].UserID)
		require.Equal(t, "B", got[0].DisplayName)

		got, err = repo.Top(context.Background(), domain.TopQuery{Period: domain.PeriodTotal, Limit: 2})
		require.NoError(t, err)
		require.Equal(t, []string{"d@g2", "b@g1"}, keys(got))
		require.Equal(t, int64(9), got[0].Count)
	})

	t.Run("top excludes zero counts", func(t *testing.T) {
		repo := newRepo(t)
		times(t, repo, 1, inc("a", "", "A"))
		got, err := repo.Top(context.Background(), domain.TopQuery{Period: domain.PeriodHourly, Bucket: "2026-03-04-16", Limit: 10})
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("top on empty store", func(t *testing.T) {
		got, err := newRepo(t).Top(context.Background(), domain.TopQuery{Period: domain.PeriodTotal, Limit: 10})
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("non-positive limit returns all", func(t *testing.T) {
		repo := newRepo(t)
		for i := 0; i < 3; i++ {
			times(t, repo, 1, inc(fmt.Sprintf("u%d", i), "", "U"))
		}
		got, err := repo.Top(context.Background(), domain.TopQuery{Period: domain.PeriodTotal})
		require.NoError(t, err)
		require.Len(t, got, 3)
	})

	t.Run("concurrent increments", func(t *testing.T) {
		repo := newRepo(t)
		const workers, each = 8, 10
		var wg sync.WaitGroup
		errs := make(chan error, workers*each)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for k := 0; k < each; k++ {
					errs <- repo.Increment(context.Background(), inc("hot@g1", "g1", fmt.Sprintf("w%d", w)))
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		rec, err := repo.Get(context.Background(), "hot@g1")
		require.NoError(t, err)
		require.Equal(t, int64(workers*each), rec.Total)
		require.Equal(t, int64(workers*each), rec.Daily["2026-03-04"])
	})
}

func TestMemoryRepository(t *testing.T) {
	contract(t, func(t *testing.T) Repository { return NewMemoryRepository() })
}

func TestSQLRepository_SQLite(t *testing.T) {
	contract(t, func(t *testing.T) Repository { return NewSQLRepository(dbtest.SQLite(t)) })
}

func TestSQLRepository_Postgres(t *testing.T) {
	contract(t, func(t *testing.T) Repository { return NewSQLRepository(dbtest.Postgres(t)) })
}

func TestMongoRepository(t *testing.T) {
	contract(t, func(t *testing.T) Repository { return NewMongoRepository(mongotest.Database(t)) })
}

func TestMemoryRepository_GetReturnsCopy(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, repo.Increment(context.Background(), inc("a", "", "A")))
	rec, _ := repo.Get(context.Background(), "a")
	rec.Daily["2026-03-04"] = 100
	rec.Total = 100

	again, _ := repo.Get(context.Background(), "a")
	require.Equal(t, int64(1), again.Total)
	require.Equal(t, int64(1), again.Daily["2026-03-04"])
}
