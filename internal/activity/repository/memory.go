package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"session-hub/internal/activity/domain"
)

type memRecord struct {
	mu  sync.Mutex
	seq int64
	rec *domain.Record
}

// MemoryRepository is an in-memory Repository. The index lock is taken exclusively only when
// a new identity appears; increments on existing identities lock just that record.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*memRecord
	nextSeq int64
}

// NewMemoryRepository returns an empty in-memory activity store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*memRecord)}
}

func (r *MemoryRepository) entry(inc domain.Increment) *memRecord {
	r.mu.RLock()
	e, ok := r.records[inc.IdentityKey]
	r.mu.RUnlock()
	if ok {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.records[inc.IdentityKey]; ok {
		return e
	}
	r.nextSeq++
	rec := domain.NewRecord(inc.IdentityKey)
	rec.UserID = inc.UserID
	rec.ScopeID = inc.ScopeID
	e = &memRecord{seq: r.nextSeq, rec: rec}
	r.records[inc.IdentityKey] = e
	return e
}

// Increment applies inc to its record, creating it on first use.
func (r *MemoryRepository) Increment(ctx context.Context, inc domain.Increment) error {
	if inc.IdentityKey == "" {
		return errors.New("activity: identity key required")
	}
	at := inc.At
	if at.IsZero() {
		at = time.Now()
	}
	e := r.entry(inc)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.DisplayName = inc.DisplayName
	e.rec.LastActiveAt = at.UTC()
	e.rec.Total++
	for _, p := range domain.BucketPeriods {
		if bucket := inc.Buckets[p]; bucket != "" {
			e.rec.Buckets(p)[bucket]++
		}
	}
	return nil
}

// Get returns a copy of the record for identityKey, or nil if not found.
func (r *MemoryRepository) Get(ctx context.Context, identityKey string) (*domain.Record, error) {
	r.mu.RLock()
	e, ok := r.records[identityKey]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRecord(e.rec), nil
}

// Top returns the leaderboard for q.
func (r *MemoryRepository) Top(ctx context.Context, q domain.TopQuery) ([]domain.Entry, error) {
	r.mu.RLock()
	all := make([]*memRecord, 0, len(r.records))
	for _, e := range r.records {
		all = append(all, e)
	}
	r.mu.RUnlock()

	type ranked struct {
		seq   int64
		entry domain.Entry
	}
	rows := make([]ranked, 0, len(all))
	for _, e := range all {
		e.mu.Lock()
		if q.Scope == "" || e.rec.ScopeID == q.Scope {
			if n := e.rec.Count(q.Period, q.Bucket); n > 0 {
				rows = append(rows, ranked{seq: e.seq, entry: domain.Entry{
					IdentityKey: e.rec.IdentityKey,
					UserID:      e.rec.UserID,
					DisplayName: e.rec.DisplayName,
					Count:       n,
				}})
			}
		}
		e.mu.Unlock()
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].entry.Count != rows[j].entry.Count {
			return rows[i].entry.Count > rows[j].entry.Count
		}
		return rows[i].seq < rows[j].seq
	})
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]domain.Entry, len(rows))
	for i, row := range rows {
		out[i] = row.entry
	}
	return out, nil
}

func cloneRecord(r *domain.Record) *domain.Record {
	out := *r
	out.Hourly = cloneMap(r.Hourly)
	out.Daily = cloneMap(r.Daily)
	out.Weekly = cloneMap(r.Weekly)
	out.Monthly = cloneMap(r.Monthly)
	return &out
}

func cloneMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
