package cursor

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stacklok/tmdb-sync/internal/catalog"
)

// DefaultMongoCollection is the collection cursors are stored in
const DefaultMongoCollection = "sync_cursors"

// MongoStore keeps one document per entity type, replaced whole on commit
type MongoStore struct {
	coll *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

type mongoCursor struct {
	EntityType    string    `bson:"_id"`
	Token         string    `bson:"token"`
	Page          int       `bson:"page"`
	WindowStart   time.Time `bson:"window_start"`
	WindowEnd     time.Time `bson:"window_end,omitempty"`
	LastCommitted time.Time `bson:"last_committed"`
	Status        string    `bson:"status"`
	Inserted      int64     `bson:"inserted"`
	Updated       int64     `bson:"updated"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

// NewMongoStore returns a store on the named collection of db
func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = DefaultMongoCollection
	}
	return &MongoStore{coll: db.Collection(collection)}
}

// Get implements Store
func (m *MongoStore) Get(ctx context.Context, entity catalog.EntityType) (*Cursor, error) {
	var stored mongoCursor
	err := m.coll.FindOne(ctx, bson.M{"_id": string(entity)}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Initial(entity), nil
	}
	if err != nil {
		return nil, storeError("get", entity, err)
	}
	return stored.cursor(), nil
}

// Commit implements Store
func (m *MongoStore) Commit(ctx context.Context, c *Cursor) error {
	doc := mongoCursor{
		EntityType:    string(c.EntityType),
		Token:         c.Token,
		Page:          c.Page,
		WindowStart:   c.WindowStart,
		WindowEnd:     c.WindowEnd,
		LastCommitted: c.LastCommitted,
		Status:        string(c.Status),
		Inserted:      c.Inserted,
		Updated:       c.Updated,
		UpdatedAt:     c.UpdatedAt,
	}
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": doc.EntityType}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return storeError("commit", c.EntityType, err)
	}
	return nil
}

// List implements Store
func (m *MongoStore) List(ctx context.Context) ([]*Cursor, error) {
	cur, err := m.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, storeError("list", "", err)
	}
	var stored []mongoCursor
	if err := cur.All(ctx, &stored); err != nil {
		return nil, storeError("list", "", err)
	}

	out := make([]*Cursor, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.cursor())
	}
	return out, nil
}

func (s *mongoCursor) cursor() *Cursor {
	c := &Cursor{
		EntityType:    catalog.EntityType(s.EntityType),
		Token:         s.Token,
		Page:          s.Page,
		LastCommitted: s.LastCommitted.UTC(),
		Status:        Status(s.Status),
		Inserted:      s.Inserted,
		Updated:       s.Updated,
		UpdatedAt:     s.UpdatedAt.UTC(),
	}
	if !s.WindowStart.IsZero() {
		c.WindowStart = s.WindowStart.UTC()
	}
	if !s.WindowEnd.IsZero() {
		c.WindowEnd = s.WindowEnd.UTC()
	}
	return c
}
