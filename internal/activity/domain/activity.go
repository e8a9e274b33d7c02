// Package domain defines activity records and leaderboard entries.
package domain

import "time"

// Period names a counter on an activity record.
type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodTotal   Period = "total"
)

// BucketPeriods are the calendar-bucketed periods, in display order.
var BucketPeriods = []Period{PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly}

// Record is the activity counter set for one identity.
type Record struct {
	IdentityKey  string
	UserID       string
	ScopeID      string // empty when the identity is not scoped to a group
	DisplayName  string
	Total        int64
	Hourly       map[string]int64
	Daily        map[string]int64
	Weekly       map[string]int64
	Monthly      map[string]int64
	LastActiveAt time.Time
}

// NewRecord returns a record with empty bucket maps.
func NewRecord(identityKey string) *Record {
	return &Record{
		IdentityKey: identityKey,
		Hourly:      map[string]int64{},
		Daily:       map[string]int64{},
		Weekly:      map[string]int64{},
		Monthly:     map[string]int64{},
	}
}

// Buckets returns the bucket map for p, or nil for PeriodTotal and unknown periods.
func (r *Record) Buckets(p Period) map[string]int64 {
	switch p {
	case PeriodHourly:
		return r.Hourly
	case PeriodDaily:
		return r.Daily
	case PeriodWeekly:
		return r.Weekly
	case PeriodMonthly:
		return r.Monthly
	}
	return nil
}

// Count returns the counter for p at bucket. Bucket is ignored for PeriodTotal.
func (r *Record) Count(p Period, bucket string) int64 {
	if p == PeriodTotal {
		return r.Total
	}
	return r.Buckets(p)[bucket]
}

// Increment is one counted message: +1 on the record's total and on each listed bucket.
type Increment struct {
	IdentityKey string
	UserID      string
	ScopeID     string
	DisplayName string
	At          time.Time
	Buckets     map[Period]string
}

// TopQuery selects a leaderboard. Bucket is ignored when Period is PeriodTotal.
type TopQuery struct {
	Scope  string // empty matches every record
	Period Period
	Bucket string
	Limit  int
}

// Entry is one leaderboard row.
type Entry struct {
	IdentityKey string `json:"identity_key"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Count       int64  `json:"count"`
}
