package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on a MongoDB collection.
type MongoStore struct {
	coll *mongo.Collection
}

// Connect opens a MongoDB client and pings it.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// NewMongoStore creates a MongoStore on the given collection and ensures the
// email lookup index exists.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	ix := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName("email_idx"),
	}
	_, _ = coll.Indexes().CreateOne(context.Background(), ix)
	return &MongoStore{coll: coll}
}

// Get returns the document for the identity id, or ErrNotFound.
func (s *MongoStore) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	return &doc, nil
}

// Set writes the full document, merging or replacing per the flag.
func (s *MongoStore) Set(ctx context.Context, id string, doc *Document, merge bool) error {
	doc.ID = id
	if merge {
		// omitempty tags keep zero-valued fields out of the $set document,
		// so existing fields survive a merge write.
		_, err := s.coll.UpdateByID(ctx, id, bson.M{"$set": doc}, options.Update().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("merge profile %s: %w", id, err)
		}
		return nil
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("set profile %s: %w", id, err)
	}
	return nil
}

// Update applies a partial field update to an existing document.
func (s *MongoStore) Update(ctx context.Context, id string, fields map[string]any) error {
	res, err := s.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return fmt.Errorf("update profile %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns documents matching the filter, sorted by creation time.
func (s *MongoStore) List(ctx context.Context, filter map[string]any) ([]*Document, error) {
	if filter == nil {
		filter = map[string]any{}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer cur.Close(ctx)

	out := []*Document{}
	for cur.Next(ctx) {
		var doc Document
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		out = append(out, &doc)
	}
	return out, cur.Err()
}
