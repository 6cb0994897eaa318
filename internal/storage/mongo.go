package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// collection is the subset of *mongo.Collection used by MongoStore.
type collection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(
		ctx context.Context,
		filter interface{},
		update interface{},
		opts ...*options.UpdateOptions,
	) (*mongo.UpdateResult, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

type MongoStore struct {
	stats   collection
	reports collection
	ping    func(ctx context.Context) error
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// ConnectMongo dials uri and verifies the primary is reachable.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func NewMongoStore(client *mongo.Client, logger *zap.SugaredLogger) *MongoStore {
	db := client.Database(DatabaseName)
	s := newMongoStore(db.Collection(StatisticsCollection), db.Collection(ReportsCollection), logger, time.Now)
	s.ping = func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}
	return s
}

func newMongoStore(stats, reports collection, logger *zap.SugaredLogger, now func() time.Time) *MongoStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MongoStore{
		stats:   stats,
		reports: reports,
		ping:    func(context.Context) error { return nil },
		logger:  logger,
		now:     now,
	}
}

func singletonFilter() bson.M {
	return bson.M{"_id": statisticsSingletonID}
}

func (s *MongoStore) GetOrCreate(ctx context.Context) (Statistics, error) {
	doc, err := s.find(ctx)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return Statistics{}, err
	}

	res, err := s.stats.UpdateOne(ctx, singletonFilter(), bson.M{
		"$setOnInsert": bson.M{"online_users": int64(0), "downloads": int64(0)},
	}, options.Update().SetUpsert(true))
	switch {
	case err == nil && res.UpsertedCount > 0:
		s.logger.Infow("created statistics document", "collection", StatisticsCollection)
		return Statistics{}, nil
	case err != nil && !mongo.IsDuplicateKeyError(err):
		return Statistics{}, fmt.Errorf("create statistics: %w", err)
	}

	// someone else created the document between our read and upsert
	return s.find(ctx)
}

func (s *MongoStore) find(ctx context.Context) (Statistics, error) {
	var doc Statistics
	if err := s.stats.FindOne(ctx, singletonFilter()).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Statistics{}, err
		}
		return Statistics{}, fmt.Errorf("find statistics: %w", err)
	}
	return doc, nil
}

func (s *MongoStore) ApplyDelta(ctx context.Context, d Delta) error {
	current, err := s.GetOrCreate(ctx)
	if err != nil {
		return err
	}
	d = ClampDelta(current, d)
	ts := FormatTimestamp(s.now())

	filter := singletonFilter()
	if d.OnlineUsers < 0 {
		filter["online_users"] = bson.M{"$gte": -d.OnlineUsers}
	}
	res, err := s.stats.UpdateOne(ctx, filter, deltaUpdate(d, ts))
	if err != nil {
		return fmt.Errorf("update statistics: %w", err)
	}
	if res.MatchedCount > 0 || d.OnlineUsers >= 0 {
		return nil
	}

	// a concurrent decrement drained online_users first
	d.OnlineUsers = 0
	if _, err := s.stats.UpdateOne(ctx, singletonFilter(), deltaUpdate(d, ts)); err != nil {
		return fmt.Errorf("update statistics: %w", err)
	}
	return nil
}

func deltaUpdate(d Delta, ts string) bson.M {
	return bson.M{
		"$set": bson.M{"last_updated": ts},
		"$inc": bson.M{"online_users": d.OnlineUsers, "downloads": d.Downloads},
	}
}

func (s *MongoStore) Record(ctx context.Context, r Report) error {
	if _, err := s.reports.InsertOne(ctx, r); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.ping(ctx)
}
