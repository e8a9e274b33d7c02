package activity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"session-hub/internal/activity/domain"
)

// ErrUnknownPeriod is returned for a leaderboard period name that is not in the period table.
var ErrUnknownPeriod = errors.New("activity: unknown period")

// bucketFuncs maps each calendar period to its bucket label. Times are already in the
// reference zone.
var bucketFuncs = map[domain.Period]func(time.Time) string{
	domain.PeriodHourly:  func(t time.Time) string { return t.Format("2006-01-02-15") },
	domain.PeriodDaily:   func(t time.Time) string { return t.Format("2006-01-02") },
	domain.PeriodWeekly:  isoWeek,
	domain.PeriodMonthly: func(t time.Time) string { return t.Format("2006-01") },
}

// isoWeek labels t with its ISO-8601 week-year and week, so 2027-01-01 (a Friday) is "2026-53".
func isoWeek(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-%02d", y, w)
}

// ParsePeriod resolves a user-facing period name. The all-time aliases and the empty string
// resolve to domain.PeriodTotal.
func ParsePeriod(name string) (domain.Period, error) {
	switch p := domain.Period(strings.ToLower(strings.TrimSpace(name))); p {
	case "", "all", "all-time", "alltime", domain.PeriodTotal:
		return domain.PeriodTotal, nil
	default:
		if _, ok := bucketFuncs[p]; ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, name)
}

// BucketLabel returns the bucket label for p at t in loc, or "" for PeriodTotal.
func BucketLabel(p domain.Period, t time.Time, loc *time.Location) string {
	f, ok := bucketFuncs[p]
	if !ok {
		return ""
	}
	if loc != nil {
		t = t.In(loc)
	}
	return f(t)
}

// Buckets returns the label of every calendar period at t in loc.
func Buckets(t time.Time, loc *time.Location) map[domain.Period]string {
	out := make(map[domain.Period]string, len(bucketFuncs))
	for p := range bucketFuncs {
		out[p] = BucketLabel(p, t, loc)
	}
	return out
}
