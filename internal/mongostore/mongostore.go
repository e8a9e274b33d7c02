// Package mongostore connects to MongoDB and prepares the collections used by the Mongo
// repositories: sessions (credentials), numbers (directory) and chat_stats (activity).
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names.
const (
	SessionsCollection  = "sessions"
	NumbersCollection   = "numbers"
	ChatStatsCollection = "chat_stats"
)

const connectTimeout = 10 * time.Second

// Connect dials uri, pings the primary and returns the named database.
// Caller must Disconnect the returned client when done.
func Connect(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	if uri == "" {
		return nil, nil, errors.New("mongostore: empty URI")
	}
	if database == "" {
		return nil, nil, errors.New("mongostore: empty database name")
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	return client, client.Database(database), nil
}

// EnsureIndexes creates the unique key indexes and the leaderboard sort index. Idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	unique := options.Index().SetUnique(true)
	specs := []struct {
		coll  string
		model mongo.IndexModel
	}{
		{SessionsCollection, mongo.IndexModel{Keys: bson.D{{Key: "number", Value: 1}}, Options: unique}},
		{SessionsCollection, mongo.IndexModel{Keys: bson.D{{Key: "updatedAt", Value: -1}}}},
		{NumbersCollection, mongo.IndexModel{Keys: bson.D{{Key: "number", Value: 1}}, Options: unique}},
		{ChatStatsCollection, mongo.IndexModel{Keys: bson.D{{Key: "identityKey", Value: 1}}, Options: unique}},
		{ChatStatsCollection, mongo.IndexModel{Keys: bson.D{{Key: "scopeId", Value: 1}, {Key: "total", Value: -1}}}},
	}
	for _, s := range specs {
		if _, err := db.Collection(s.coll).Indexes().CreateOne(ctx, s.model); err != nil {
			return fmt.Errorf("mongostore: index on %s: %w", s.coll, err)
		}
	}
	return nil
}
