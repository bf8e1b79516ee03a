package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBackend is a Backend storing one document per path.
type MongoBackend struct {
	coll *mongo.Collection
}

// Ensure it implements Backend.
var _ Backend = (*MongoBackend)(nil)

// NewMongoBackend creates a Mongo-backed blob backend.
// dbName defaults to "strata" if empty, collName defaults to "blobs".
func NewMongoBackend(client *mongo.Client, dbName, collName string) *MongoBackend {
	if dbName == "" {
		dbName = "strata"
	}
	if collName == "" {
		collName = "blobs"
	}

	return &MongoBackend{
		coll: client.Database(dbName).Collection(collName),
	}
}

type mongoBlobDoc struct {
	Path string `bson:"_id"`
	Data []byte `bson:"data"`
}

func (b *MongoBackend) Put(ctx context.Context, path string, data []byte) error {
	_, err := b.coll.ReplaceOne(ctx,
		bson.M{"_id": path},
		mongoBlobDoc{Path: path, Data: data},
		options.Replace().SetUpsert(true),
	)
	return err
}

func (b *MongoBackend) Get(ctx context.Context, path string) ([]byte, error) {
	var doc mongoBlobDoc
	err := b.coll.FindOne(ctx, bson.M{"_id": path}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return doc.Data, nil
}

func (b *MongoBackend) Exists(ctx context.Context, path string) (bool, error) {
	n, err := b.coll.CountDocuments(ctx, bson.M{"_id": path}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
