// Package documents defines the locally persisted shape of catalog records and
// the stores that hold them.
package documents

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"time"
)

var (
	// ErrNotFound is returned by Get for an unknown id
	ErrNotFound = errors.New("document not found")

	// ErrUnavailable marks failures of the store as a whole (connection lost,
	// timeouts) as opposed to failures scoped to one document.
	ErrUnavailable = errors.New("document store unavailable")
)

// Document is the persisted form of one upstream record
type Document struct {
	// ID is derived from the upstream id and is stable across runs
	ID          string
	UpstreamID  string
	ContentType string
	EntityType  string
	// Fields holds the normalized values extracted from Payload
	Fields  map[string]any
	Payload json.RawMessage
	// Local holds annotations owned by this service. Upserts never overwrite it.
	Local         map[string]any
	SourceVersion string
	SyncedAt      time.Time
	// CreatedAt is set by the first write only
	CreatedAt time.Time
}

// Clone returns a copy that shares no maps or slices with d
func (d *Document) Clone() *Document {
	out := *d
	out.Fields = maps.Clone(d.Fields)
	out.Local = maps.Clone(d.Local)
	if d.Payload != nil {
		out.Payload = append(json.RawMessage(nil), d.Payload...)
	}
	return &out
}

// Store is the upsert/point-read contract of the document database.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/stacklok/tmdb-sync/internal/documents Store
type Store interface {
	// Version returns the stored SourceVersion of id; ok is false when id is absent.
	Version(ctx context.Context, id string) (version string, ok bool, err error)
	// Upsert atomically writes doc. CreatedAt and Local of an existing document
	// are kept. inserted reports whether the document did not exist before.
	Upsert(ctx context.Context, doc *Document) (inserted bool, err error)
	// Get returns the stored document or ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
