// Package mongotest provides a throwaway Mongo database for repository tests.
package mongotest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"session-hub/internal/mongostore"
)

// Database returns a fresh, indexed database on TEST_MONGO_URI, or skips when it is unset.
// The database is dropped at test cleanup.
func Database(t testing.TB) *mongo.Database {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	name := fmt.Sprintf("session_hub_test_%d", time.Now().UnixNano())
	client, db, err := mongostore.Connect(ctx, uri, name)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := mongostore.EnsureIndexes(ctx, db); err != nil {
		t.Fatalf("indexes: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return db
}
