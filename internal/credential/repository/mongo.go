package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"session-hub/internal/credential/domain"
	"session-hub/internal/mongostore"
)

type credentialDoc struct {
	Number    string    `bson:"number"`
	Creds     []byte    `bson:"creds"`
	Keys      []byte    `bson:"keys,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoRepository stores credentials in the sessions collection, one document per number.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository returns a credential repository backed by db's sessions collection.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(mongostore.SessionsCollection)}
}

// Get returns the credential for number, or nil if not found.
func (r *MongoRepository) Get(ctx context.Context, number string) (*domain.Credential, error) {
	var doc credentialDoc
	err := r.coll.FindOne(ctx, bson.M{"number": number}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &domain.Credential{
		Number:         doc.Number,
		CredentialBlob: doc.Creds,
		KeyMaterial:    doc.Keys,
		UpdatedAt:      doc.UpdatedAt.UTC(),
	}, nil
}

// Put upserts c. When a newer document exists the filter misses and the upsert collides on
// the unique number index; the plain update retried after the collision then matches nothing.
func (r *MongoRepository) Put(ctx context.Context, c *domain.Credential) error {
	if c == nil || c.Number == "" {
		return errors.New("credential: number required")
	}
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	filter := bson.M{
		"number": c.Number,
		"$or": bson.A{
			bson.M{"updatedAt": bson.M{"$lte": updatedAt.UTC()}},
			bson.M{"updatedAt": bson.M{"$exists": false}},
		},
	}
	doc := credentialDoc{Number: c.Number, Creds: nonNil(c.CredentialBlob), Keys: c.KeyMaterial, UpdatedAt: updatedAt.UTC()}
	update := bson.M{"$set": doc}
	_, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		_, err = r.coll.UpdateOne(ctx, filter, update)
	}
	return err
}

// Delete removes the document for number.
func (r *MongoRepository) Delete(ctx context.Context, number string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"number": number})
	return err
}

// List returns number and updatedAt of every session, most recently updated first.
func (r *MongoRepository) List(ctx context.Context) ([]domain.Summary, error) {
	opts := options.Find().
		SetProjection(bson.M{"number": 1, "updatedAt": 1}).
		SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "number", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []credentialDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Summary, len(docs))
	for i, d := range docs {
		out[i] = domain.Summary{Number: d.Number, UpdatedAt: d.UpdatedAt.UTC()}
	}
	return out, nil
}
