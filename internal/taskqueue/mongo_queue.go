package taskqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoQueue implements Queue on top of a MongoDB collection.
//
// Document shape:
//
//	{
//	  _id:        string,    // task ID
//	  execution:  string,
//	  layer:      string,
//	  split:      int,
//	  payload:    []byte,    // EncodeTask output
//	  not_before: time.Time,
//	}
type MongoQueue struct {
	coll         *mongo.Collection
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewMongoQueue creates a Mongo-backed queue.
// dbName defaults to "strata", collName to "split_tasks".
func NewMongoQueue(client *mongo.Client, dbName, collName string) *MongoQueue {
	if dbName == "" {
		dbName = "strata"
	}
	if collName == "" {
		collName = "split_tasks"
	}
	return &MongoQueue{
		coll:         client.Database(dbName).Collection(collName),
		pollInterval: 50 * time.Millisecond,
		logger:       slog.Default().With(slog.String("component", "mongo_queue")),
	}
}

// Ensure MongoQueue implements Queue.
var _ Queue = (*MongoQueue)(nil)

type mongoTaskDoc struct {
	ID        string    `bson:"_id"`
	Execution string    `bson:"execution"`
	Layer     string    `bson:"layer"`
	Split     int       `bson:"split"`
	Payload   []byte    `bson:"payload"`
	NotBefore time.Time `bson:"not_before"`
}

// Enqueue inserts a document for the given Task. Task ids must be unique.
func (q *MongoQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	notBefore := t.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now()
	}
	_, err = q.coll.InsertOne(ctx, mongoTaskDoc{
		ID:        t.ID,
		Execution: t.Coordinates.Execution,
		Layer:     t.Coordinates.Layer,
		Split:     t.Coordinates.Index,
		Payload:   data,
		NotBefore: notBefore.UTC(),
	})
	return err
}

// Dequeue blocks (via polling) until a task is available or ctx is cancelled.
// FindOneAndDelete claims the oldest eligible task atomically.
func (q *MongoQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var doc mongoTaskDoc
		err := q.coll.FindOneAndDelete(ctx,
			bson.M{"not_before": bson.M{"$lte": time.Now().UTC()}},
			options.FindOneAndDelete().SetSort(bson.D{{Key: "not_before", Value: 1}, {Key: "_id", Value: 1}}),
		).Decode(&doc)
		if err == nil {
			return DecodeTask(doc.Payload)
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// Len returns an approximate number of queued tasks.
func (q *MongoQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := q.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		q.logger.Warn("len failed", slog.String("error", err.Error()))
		return 0
	}
	return int(n)
}
