package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"session-hub/internal/activity/domain"
	"session-hub/internal/mongostore"
)

// MongoRepository stores one chat_stats document per identity.
type MongoRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoRepository returns an activity repository backed by db's chat_stats collection.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(mongostore.ChatStatsCollection), now: time.Now}
}

type statsDoc struct {
	IdentityKey  string           `bson:"identityKey"`
	UserID       string           `bson:"userId"`
	ScopeID      string           `bson:"scopeId"`
	DisplayName  string           `bson:"displayName"`
	Total        int64            `bson:"total"`
	Hourly       map[string]int64 `bson:"hourly,omitempty"`
	Daily        map[string]int64 `bson:"daily,omitempty"`
	Weekly       map[string]int64 `bson:"weekly,omitempty"`
	Monthly      map[string]int64 `bson:"monthly,omitempty"`
	LastActiveAt time.Time        `bson:"lastActiveAt"`
}

func (d *statsDoc) record() *domain.Record {
	rec := domain.NewRecord(d.IdentityKey)
	rec.UserID = d.UserID
	rec.ScopeID = d.ScopeID
	rec.DisplayName = d.DisplayName
	rec.Total = d.Total
	rec.LastActiveAt = d.LastActiveAt.UTC()
	for _, p := range domain.BucketPeriods {
		dst := rec.Buckets(p)
		for k, v := range d.buckets(p) {
			dst[k] = v
		}
	}
	return rec
}

func (d *statsDoc) buckets(p domain.Period) map[string]int64 {
	switch p {
	case domain.PeriodHourly:
		return d.Hourly
	case domain.PeriodDaily:
		return d.Daily
	case domain.PeriodWeekly:
		return d.Weekly
	case domain.PeriodMonthly:
		return d.Monthly
	}
	return nil
}

// counterField returns the document path holding the counter for p at bucket.
func counterField(p domain.Period, bucket string) string {
	if p == domain.PeriodTotal {
		return "total"
	}
	return string(p) + "." + bucket
}

// Increment applies inc with a single upsert: $inc on the counters, $set on the latest
// name and timestamp, $setOnInsert on the identity fields.
func (r *MongoRepository) Increment(ctx context.Context, inc domain.Increment) error {
	if inc.IdentityKey == "" {
		return errors.New("activity: identity key required")
	}
	at := inc.At
	if at.IsZero() {
		at = r.now()
	}
	counters := bson.M{"total": int64(1)}
	for _, p := range domain.BucketPeriods {
		if bucket := inc.Buckets[p]; bucket != "" {
			counters[counterField(p, bucket)] = int64(1)
		}
	}
	filter := bson.M{"identityKey": inc.IdentityKey}
	update := bson.M{
		"$inc": counters,
		"$set": bson.M{"displayName": inc.DisplayName, "lastActiveAt": at.UTC()},
		"$setOnInsert": bson.M{
			"userId":    inc.UserID,
			"scopeId":   inc.ScopeID,
			"createdAt": r.now().UTC(),
		},
	}
	_, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// Lost an insert race on the unique index; the document exists now.
		_, err = r.coll.UpdateOne(ctx, filter, update)
	}
	return err
}

// Get returns the record for identityKey, or nil if not found.
func (r *MongoRepository) Get(ctx context.Context, identityKey string) (*domain.Record, error) {
	var d statsDoc
	err := r.coll.FindOne(ctx, bson.M{"identityKey": identityKey}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return d.record(), nil
}

// Top returns the leaderboard for q, sorted by counter then creation order.
func (r *MongoRepository) Top(ctx context.Context, q domain.TopQuery) ([]domain.Entry, error) {
	field := counterField(q.Period, q.Bucket)
	filter := bson.M{field: bson.M{"$gt": 0}}
	if q.Scope != "" {
		filter["scopeId"] = q.Scope
	}
	opts := options.Find().
		SetSort(bson.D{{Key: field, Value: -1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"identityKey": 1, "userId": 1, "displayName": 1, field: 1})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []statsDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Entry, len(docs))
	for i := range docs {
		d := &docs[i]
		count := d.Total
		if q.Period != domain.PeriodTotal {
			count = d.buckets(q.Period)[q.Bucket]
		}
		out[i] = domain.Entry{IdentityKey: d.IdentityKey, UserID: d.UserID, DisplayName: d.DisplayName, Count: count}
	}
	return out, nil
}
