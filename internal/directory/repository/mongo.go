package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"session-hub/internal/mongostore"
)

// MongoRepository stores directory entries in the numbers collection.
type MongoRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoRepository returns a directory repository backed by db's numbers collection.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(mongostore.NumbersCollection), now: time.Now}
}

// Add upserts number, setting addedAt only on insert.
func (r *MongoRepository) Add(ctx context.Context, number string) error {
	if number == "" {
		return errors.New("directory: number required")
	}
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"number": number},
		bson.M{"$setOnInsert": bson.M{"number": number, "addedAt": r.now().UTC()}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// Remove deletes number.
func (r *MongoRepository) Remove(ctx context.Context, number string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"number": number})
	return err
}

// List returns numbers ordered by addedAt, then number.
func (r *MongoRepository) List(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"number": 1}).
		SetSort(bson.D{{Key: "addedAt", Value: 1}, {Key: "number", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []struct {
		Number string `bson:"number"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Number
	}
	return out, nil
}
