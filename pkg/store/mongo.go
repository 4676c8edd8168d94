package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/odvcencio/hivemind/pkg/config"
)

// MongoStore implements Store on a MongoDB collection. Both operations
// are single FindOneAndUpdate calls with aggregation-pipeline updates,
// so every read-modify-write is atomic on the server and multiple
// memory agents can share the collection without coordination.
type MongoStore struct {
	client *mongo.Client
	col    *mongo.Collection
}

// NewMongoStore connects to MongoDB and binds the question collection.
func NewMongoStore(ctx context.Context, cfg config.MongoDBConfig) (*MongoStore, error) {
	opts := options.Client().ApplyURI(cfg.URI())
	if cfg.Credentials.Username != "" {
		opts.SetAuth(options.Credential{
			Username:      cfg.Credentials.Username,
			Password:      cfg.Credentials.Password,
			AuthSource:    cfg.Credentials.AuthSource,
			AuthMechanism: cfg.Credentials.AuthMechanism,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("store: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("store: ping mongo: %w", err)
	}

	return &MongoStore{
		client: client,
		col:    client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "question", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("store: create question index: %w", err)
	}
	return nil
}

func (s *MongoStore) EnqueueAsker(ctx context.Context, question, replyTo, correlationID string) (Record, error) {
	key := Normalize(question)
	if key == "" {
		return Record{}, ErrEmptyQuestion
	}

	var update any
	if replyTo == "" || correlationID == "" {
		// No reply address: just make sure the question exists.
		update = bson.M{"$set": bson.M{"question": key}}
	} else {
		update = enqueueAskerPipeline(key, replyTo, correlationID)
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var rec Record
	err := s.col.FindOneAndUpdate(ctx, bson.M{"question": key}, update, opts).Decode(&rec)
	if err != nil {
		return Record{}, fmt.Errorf("store: enqueue asker: %w", err)
	}
	return rec, nil
}

// enqueueAskerPipeline builds the conditional upsert: first asker seeds
// the pending set, a new reply queue is appended, a known reply queue
// leaves the set untouched, and an answered record is never modified.
func enqueueAskerPipeline(key, replyTo, correlationID string) mongo.Pipeline {
	entry := bson.D{
		{Key: "reply_to", Value: replyTo},
		{Key: "correlation_id", Value: correlationID},
	}
	unanswered := bson.D{{Key: "$lte", Value: bson.A{"$answer", nil}}}
	noPending := bson.D{{Key: "$lte", Value: bson.A{"$pending_askers", nil}}}
	newReplyTo := bson.D{{Key: "$not", Value: bson.A{
		bson.D{{Key: "$in", Value: bson.A{replyTo, "$pending_askers.reply_to"}}},
	}}}

	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "question", Value: key},
			{Key: "pending_askers", Value: bson.D{{Key: "$switch", Value: bson.D{
				{Key: "branches", Value: bson.A{
					bson.D{
						{Key: "case", Value: bson.D{{Key: "$and", Value: bson.A{unanswered, noPending}}}},
						{Key: "then", Value: bson.A{entry}},
					},
					bson.D{
						{Key: "case", Value: bson.D{{Key: "$and", Value: bson.A{unanswered, newReplyTo}}}},
						{Key: "then", Value: bson.D{{Key: "$concatArrays", Value: bson.A{"$pending_askers", bson.A{entry}}}}},
					},
				}},
				{Key: "default", Value: "$pending_askers"},
			}}}},
		}}},
	}
}

func (s *MongoStore) SetAnswer(ctx context.Context, question, answer string) (Record, error) {
	key := Normalize(question)
	if key == "" {
		return Record{}, ErrEmptyQuestion
	}
	ans := strings.TrimSpace(answer)
	if ans == "" {
		return Record{}, ErrEmptyAnswer
	}

	// Replace the record content only while no answer is present. The
	// pre-image is requested so the pending askers that were cleared by
	// this very call are still visible for fan-out.
	pipeline := mongo.Pipeline{
		{{Key: "$replaceWith", Value: bson.D{{Key: "$cond", Value: bson.D{
			{Key: "if", Value: bson.D{{Key: "$lte", Value: bson.A{"$answer", nil}}}},
			{Key: "then", Value: bson.D{
				{Key: "_id", Value: "$_id"},
				{Key: "question", Value: "$question"},
				{Key: "answer", Value: ans},
			}},
			{Key: "else", Value: "$$ROOT"},
		}}}}},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.Before)

	var pre Record
	err := s.col.FindOneAndUpdate(ctx, bson.M{"question": key}, pipeline, opts).Decode(&pre)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Answer arrived before any asker; the upsert cached it.
		return Record{Question: key, Answer: ans}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: set answer: %w", err)
	}

	if pre.HasAnswer() {
		// Lost the race to an earlier answer; nothing pending by the
		// answered-implies-no-pending invariant.
		return Record{Question: key, Answer: pre.Answer}, nil
	}
	return Record{Question: key, Answer: ans, PendingAskers: pre.PendingAskers}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("store: disconnect mongo: %w", err)
	}
	return nil
}
