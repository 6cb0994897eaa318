package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap/zaptest"
)

var fixedNow = func() time.Time { return time.Date(2023, 1, 2, 3, 4, 5, 0, time.Local) }

// memCollection models the statistics singleton and the reports log in memory.
type memCollection struct {
	doc       *Statistics
	inserted  []interface{}
	findErr   error
	updateErr error
	insertErr error

	// raceOnUpsert creates the document behind the store's back before the upsert lands.
	raceOnUpsert *Statistics
	updates      int
	finds        int
}

func (c *memCollection) FindOne(_ context.Context, _ interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	c.finds++
	if c.findErr != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, c.findErr, nil)
	}
	if c.doc == nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(bson.M{
		"_id":          statisticsSingletonID,
		"online_users": c.doc.OnlineUsers,
		"downloads":    c.doc.Downloads,
		"last_updated": c.doc.LastUpdated,
	}, nil, nil)
}

func (c *memCollection) UpdateOne(
	_ context.Context,
	filter interface{},
	update interface{},
	_ ...*options.UpdateOptions,
) (*mongo.UpdateResult, error) {
	c.updates++
	if c.updateErr != nil {
		return nil, c.updateErr
	}
	u := update.(bson.M)
	if _, ok := u["$setOnInsert"]; ok {
		if c.raceOnUpsert != nil && c.doc == nil {
			c.doc = c.raceOnUpsert
			return &mongo.UpdateResult{MatchedCount: 1}, nil
		}
		if c.doc != nil {
			return &mongo.UpdateResult{MatchedCount: 1}, nil
		}
		c.doc = &Statistics{}
		return &mongo.UpdateResult{UpsertedCount: 1, UpsertedID: statisticsSingletonID}, nil
	}
	if c.doc == nil {
		return &mongo.UpdateResult{}, nil
	}
	if cond, ok := filter.(bson.M)["online_users"]; ok {
		if c.doc.OnlineUsers < cond.(bson.M)["$gte"].(int64) {
			return &mongo.UpdateResult{}, nil
		}
	}
	inc := u["$inc"].(bson.M)
	c.doc.OnlineUsers += inc["online_users"].(int64)
	c.doc.Downloads += inc["downloads"].(int64)
	c.doc.LastUpdated = u["$set"].(bson.M)["last_updated"].(string)
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (c *memCollection) InsertOne(
	_ context.Context,
	document interface{},
	_ ...*options.InsertOneOptions,
) (*mongo.InsertOneResult, error) {
	if c.insertErr != nil {
		return nil, c.insertErr
	}
	c.inserted = append(c.inserted, document)
	return &mongo.InsertOneResult{}, nil
}

func newMemStore(t *testing.T, stats, reports *memCollection) *MongoStore {
	t.Helper()
	return newMongoStore(stats, reports, zaptest.NewLogger(t).Sugar(), fixedNow)
}

func TestMongoGetOrCreateCreatesDefault(t *testing.T) {
	stats := &memCollection{}
	store := newMemStore(t, stats, &memCollection{})

	got, err := store.GetOrCreate(context.Background())
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if got != (Statistics{}) {
		t.Fatalf("unexpected doc: %+v", got)
	}
	if stats.doc == nil || *stats.doc != (Statistics{}) {
		t.Fatalf("document not created: %+v", stats.doc)
	}
}

func TestMongoGetOrCreateReturnsExisting(t *testing.T) {
	stats := &memCollection{doc: &Statistics{OnlineUsers: 4, Downloads: 9, LastUpdated: "x"}}
	store := newMemStore(t, stats, &memCollection{})

	for i := 0; i < 2; i++ {
		got, err := store.GetOrCreate(context.Background())
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		if got != (Statistics{OnlineUsers: 4, Downloads: 9, LastUpdated: "x"}) {
			t.Fatalf("unexpected doc: %+v", got)
		}
	}
	if stats.updates != 0 {
		t.Fatalf("read should not write, got %d updates", stats.updates)
	}
}

func TestMongoGetOrCreateLostRace(t *testing.T) {
	stats := &memCollection{raceOnUpsert: &Statistics{OnlineUsers: 1}}
	store := newMemStore(t, stats, &memCollection{})

	got, err := store.GetOrCreate(context.Background())
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if got.OnlineUsers != 1 {
		t.Fatalf("expected winner's document, got %+v", got)
	}
	if stats.finds != 2 {
		t.Fatalf("expected re-read, finds = %d", stats.finds)
	}
}

func TestMongoGetOrCreateFindError(t *testing.T) {
	stats := &memCollection{findErr: errors.New("server selection timeout")}
	store := newMemStore(t, stats, &memCollection{})

	if _, err := store.GetOrCreate(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if stats.updates != 0 {
		t.Fatal("must not create after failed read")
	}
}

func TestMongoGetOrCreateUpsertError(t *testing.T) {
	stats := &memCollection{updateErr: errors.New("write conflict")}
	store := newMemStore(t, stats, &memCollection{})

	if _, err := store.GetOrCreate(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestMongoApplyDelta(t *testing.T) {
	cases := []struct {
		name  string
		start *Statistics
		delta Delta
		want  Statistics
	}{
		{"inc online on empty", nil, Delta{OnlineUsers: 1}, Statistics{OnlineUsers: 1}},
		{"dec online at zero", &Statistics{}, Delta{OnlineUsers: -1}, Statistics{}},
		{"dec online", &Statistics{OnlineUsers: 2}, Delta{OnlineUsers: -1}, Statistics{OnlineUsers: 1}},
		{"downloads", &Statistics{OnlineUsers: 2, Downloads: 5}, Delta{Downloads: 1}, Statistics{OnlineUsers: 2, Downloads: 6}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stats := &memCollection{doc: tc.start}
			store := newMemStore(t, stats, &memCollection{})
			if err := store.ApplyDelta(context.Background(), tc.delta); err != nil {
				t.Fatalf("ApplyDelta: %v", err)
			}
			tc.want.LastUpdated = "2023-01-02 03:04:05"
			if *stats.doc != tc.want {
				t.Fatalf("doc = %+v, want %+v", *stats.doc, tc.want)
			}
		})
	}
}

func TestMongoApplyDeltaConcurrentDrain(t *testing.T) {
	stats := &memCollection{doc: &Statistics{OnlineUsers: 1}}
	store := newMemStore(t, stats, &memCollection{})

	// the read sees 1, but another decrement lands before our update
	drain := &drainingCollection{memCollection: stats}
	store.stats = drain

	if err := store.ApplyDelta(context.Background(), Delta{OnlineUsers: -1}); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if stats.doc.OnlineUsers != 0 {
		t.Fatalf("online_users = %d, want 0", stats.doc.OnlineUsers)
	}
	if stats.doc.LastUpdated == "" {
		t.Fatal("timestamp-only update expected")
	}
}

type drainingCollection struct {
	*memCollection
	drained bool
}

func (d *drainingCollection) UpdateOne(
	ctx context.Context,
	filter interface{},
	update interface{},
	opts ...*options.UpdateOptions,
) (*mongo.UpdateResult, error) {
	if !d.drained {
		d.drained = true
		d.doc.OnlineUsers = 0
	}
	return d.memCollection.UpdateOne(ctx, filter, update, opts...)
}

func TestMongoApplyDeltaUpdateError(t *testing.T) {
	stats := &memCollection{doc: &Statistics{}, updateErr: errors.New("not primary")}
	store := newMemStore(t, stats, &memCollection{})
	if err := store.ApplyDelta(context.Background(), Delta{Downloads: 1}); err == nil {
		t.Fatal("expected error")
	}
}

func TestMongoRecord(t *testing.T) {
	reports := &memCollection{}
	store := newMemStore(t, &memCollection{}, reports)

	r := Report{Kind: ReportError, Description: "d", Message: "m", Date: "now", Caller: "test"}
	if err := store.Record(context.Background(), r); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(reports.inserted) != 1 || reports.inserted[0].(Report) != r {
		t.Fatalf("unexpected inserts: %+v", reports.inserted)
	}

	reports.insertErr = errors.New("disk full")
	if err := store.Record(context.Background(), r); err == nil {
		t.Fatal("expected insert error")
	}
}
