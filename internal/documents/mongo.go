package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultMongoCollection is the collection documents are stored in
const DefaultMongoCollection = "movies"

// MongoStore persists documents in a MongoDB collection keyed by "id"
type MongoStore struct {
	coll *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

type mongoDocument struct {
	ID            string         `bson:"id"`
	UpstreamID    string         `bson:"upstream_id"`
	ContentType   string         `bson:"content_type"`
	EntityType    string         `bson:"entity_type"`
	Fields        map[string]any `bson:"fields"`
	Payload       bson.Raw       `bson:"payload"`
	Local         map[string]any `bson:"local"`
	SourceVersion string         `bson:"source_version"`
	SyncedAt      time.Time      `bson:"synced_at"`
	CreatedAt     time.Time      `bson:"created_at"`
}

// NewMongoStore creates the collection indexes and returns a store on it
func NewMongoStore(ctx context.Context, db *mongo.Database, collection string) (*MongoStore, error) {
	if collection == "" {
		collection = DefaultMongoCollection
	}
	coll := db.Collection(collection)

	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "content_type", Value: 1}, {Key: "upstream_id", Value: 1}}},
	})
	if err != nil {
		return nil, classifyMongoError(fmt.Errorf("failed to create indexes on %s: %w", collection, err))
	}
	return &MongoStore{coll: coll}, nil
}

// Version implements Store
func (m *MongoStore) Version(ctx context.Context, id string) (string, bool, error) {
	var out struct {
		SourceVersion string `bson:"source_version"`
	}
	err := m.coll.FindOne(ctx, bson.M{"id": id},
		options.FindOne().SetProjection(bson.M{"source_version": 1}),
	).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classifyMongoError(err)
	}
	return out.SourceVersion, true, nil
}

// Upsert implements Store
func (m *MongoStore) Upsert(ctx context.Context, doc *Document) (bool, error) {
	raw := doc.Payload
	if len(raw) == 0 {
		raw = []byte(`{}`)
	}
	var payload bson.Raw
	if err := bson.UnmarshalExtJSON(raw, false, &payload); err != nil {
		return false, fmt.Errorf("document %s: payload is not a JSON object: %w", doc.ID, err)
	}
	local := doc.Local
	if local == nil {
		local = map[string]any{}
	}

	update := bson.M{
		"$set": bson.M{
			"upstream_id":    doc.UpstreamID,
			"content_type":   doc.ContentType,
			"entity_type":    doc.EntityType,
			"fields":         doc.Fields,
			"payload":        payload,
			"source_version": doc.SourceVersion,
			"synced_at":      doc.SyncedAt,
		},
		"$setOnInsert": bson.M{
			"created_at": doc.CreatedAt,
			"local":      local,
		},
	}
	res, err := m.coll.UpdateOne(ctx, bson.M{"id": doc.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, classifyMongoError(err)
	}
	return res.UpsertedCount == 1, nil
}

// Get implements Store
func (m *MongoStore) Get(ctx context.Context, id string) (*Document, error) {
	var stored mongoDocument
	err := m.coll.FindOne(ctx, bson.M{"id": id}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyMongoError(err)
	}

	doc := &Document{
		ID:            stored.ID,
		UpstreamID:    stored.UpstreamID,
		ContentType:   stored.ContentType,
		EntityType:    stored.EntityType,
		Fields:        stored.Fields,
		Local:         stored.Local,
		SourceVersion: stored.SourceVersion,
		SyncedAt:      stored.SyncedAt,
		CreatedAt:     stored.CreatedAt,
	}
	if len(stored.Payload) > 0 {
		payload, err := bson.MarshalExtJSON(stored.Payload, false, false)
		if err != nil {
			return nil, fmt.Errorf("document %s: failed to encode payload: %w", id, err)
		}
		doc.Payload = payload
	}
	return doc, nil
}

// Ping implements Store
func (m *MongoStore) Ping(ctx context.Context) error {
	if err := m.coll.Database().Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func classifyMongoError(err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
