package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultMongoCollection is the collection runs are stored in
const DefaultMongoCollection = "sync_runs"

// MongoHistory stores every run snapshot as one document keyed by run id
type MongoHistory struct {
	coll *mongo.Collection
}

var _ History = (*MongoHistory)(nil)

type mongoRun struct {
	ID         string     `bson:"_id"`
	EntityType string     `bson:"entity_type"`
	Mode       string     `bson:"mode"`
	Phase      string     `bson:"phase"`
	StartedAt  time.Time  `bson:"started_at"`
	EndedAt    *time.Time `bson:"ended_at,omitempty"`
	Seen       int        `bson:"seen"`
	Inserted   int        `bson:"inserted"`
	Updated    int        `bson:"updated"`
	Skipped    int        `bson:"skipped"`
	Failed     int        `bson:"failed"`
	Pages      int        `bson:"pages"`
	Cancelled  bool       `bson:"cancelled"`
	Error      string     `bson:"error,omitempty"`
	Errors     []string   `bson:"errors,omitempty"`
}

// NewMongoHistory creates the history collection index and returns the sink
func NewMongoHistory(ctx context.Context, db *mongo.Database, collection string) (*MongoHistory, error) {
	if collection == "" {
		collection = DefaultMongoCollection
	}
	coll := db.Collection(collection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "entity_type", Value: 1}, {Key: "started_at", Value: -1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index on %s: %w", collection, err)
	}
	return &MongoHistory{coll: coll}, nil
}

// Name implements Sink
func (*MongoHistory) Name() string { return "mongo" }

// Publish implements Sink
func (m *MongoHistory) Publish(ctx context.Context, run SyncRun) error {
	doc := mongoRun{
		ID:         run.ID,
		EntityType: run.EntityType,
		Mode:       string(run.Mode),
		Phase:      string(run.Phase),
		StartedAt:  run.StartedAt,
		EndedAt:    run.EndedAt,
		Seen:       run.Seen,
		Inserted:   run.Inserted,
		Updated:    run.Updated,
		Skipped:    run.Skipped,
		Failed:     run.Failed,
		Pages:      run.Pages,
		Cancelled:  run.Cancelled,
		Error:      run.Error,
		Errors:     run.Errors,
	}
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store run %s: %w", run.ID, err)
	}
	return nil
}

// Get implements History
func (m *MongoHistory) Get(ctx context.Context, id string) (*SyncRun, error) {
	var doc mongoRun
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	run := doc.run()
	return &run, nil
}

// Latest implements History
func (m *MongoHistory) Latest(ctx context.Context) ([]SyncRun, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "started_at", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$entity_type"},
			{Key: "run", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$run"}}}},
		{{Key: "$sort", Value: bson.D{{Key: "entity_type", Value: 1}}}},
	}
	cur, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var docs []mongoRun
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}

	runs := make([]SyncRun, 0, len(docs))
	for _, d := range docs {
		runs = append(runs, d.run())
	}
	return runs, nil
}

func (d *mongoRun) run() SyncRun {
	run := SyncRun{
		ID:         d.ID,
		EntityType: d.EntityType,
		Mode:       Mode(d.Mode),
		Phase:      Phase(d.Phase),
		StartedAt:  d.StartedAt.UTC(),
		Seen:       d.Seen,
		Inserted:   d.Inserted,
		Updated:    d.Updated,
		Upserted:   d.Inserted + d.Updated,
		Skipped:    d.Skipped,
		Failed:     d.Failed,
		Pages:      d.Pages,
		Cancelled:  d.Cancelled,
		Error:      d.Error,
		Errors:     d.Errors,
	}
	if d.EndedAt != nil {
		ended := d.EndedAt.UTC()
		run.EndedAt = &ended
	}
	return run
}
