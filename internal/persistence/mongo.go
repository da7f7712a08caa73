package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pulse/internal/core"
	"pulse/internal/logger"
)

const (
	reviewsCollection = "raw_reviews"
	logsCollection    = "task_logs"
)

// MongoStore implements DocumentStore over MongoDB
type MongoStore struct {
	client  *mongo.Client
	reviews *mongo.Collection
	logs    *mongo.Collection
	log     zerolog.Logger
}

// NewMongoStore connects to MongoDB and ensures the collection indexes
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:  client,
		reviews: db.Collection(reviewsCollection),
		logs:    db.Collection(logsCollection),
		log:     logger.For("mongo"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.reviews.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "task_id", Value: 1}, {Key: "natural_key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("task_natural_key"),
	})
	if err != nil {
		return fmt.Errorf("failed to create %s index: %w", reviewsCollection, err)
	}

	_, err = s.logs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "task_id", Value: 1}, {Key: "time", Value: 1}},
		Options: options.Index().SetName("task_time"),
	})
	if err != nil {
		return fmt.Errorf("failed to create %s index: %w", logsCollection, err)
	}
	return nil
}

// AppendReview inserts a review. A duplicate (task id, natural key) is ignored.
func (s *MongoStore) AppendReview(ctx context.Context, review core.RawReview) error {
	_, err := s.reviews.InsertOne(ctx, review)
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		s.log.Debug().Str("task_id", review.TaskID).Str("key", review.NaturalKey).Msg("Duplicate review ignored")
		return nil
	}
	return storageErr("insert review", err)
}

func (s *MongoStore) Reviews(ctx context.Context, taskID string) ([]core.RawReview, error) {
	opts := options.Find().SetSort(bson.D{{Key: "collected_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.reviews.Find(ctx, bson.M{"task_id": taskID}, opts)
	if err != nil {
		return nil, storageErr("find reviews", err)
	}
	defer cursor.Close(ctx)

	var out []core.RawReview
	if err := cursor.All(ctx, &out); err != nil {
		return nil, storageErr("decode reviews", err)
	}
	return out, nil
}

func (s *MongoStore) AppendLog(ctx context.Context, entry core.TaskLog) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	if _, err := s.logs.InsertOne(ctx, entry); err != nil {
		return storageErr("insert log", err)
	}
	return nil
}

func (s *MongoStore) Logs(ctx context.Context, taskID string) ([]core.TaskLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "time", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.logs.Find(ctx, bson.M{"task_id": taskID}, opts)
	if err != nil {
		return nil, storageErr("find logs", err)
	}
	defer cursor.Close(ctx)

	var out []core.TaskLog
	if err := cursor.All(ctx, &out); err != nil {
		return nil, storageErr("decode logs", err)
	}
	return out, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
