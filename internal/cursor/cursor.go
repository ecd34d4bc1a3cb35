// Package cursor persists per entity type sync progress so that an
// interrupted sync can resume where the last committed batch ended.
package cursor

import (
	"context"
	"fmt"
	"time"

	"github.com/stacklok/tmdb-sync/internal/catalog"
)

// Status is the run state recorded with a cursor
type Status string

const (
	// StatusIdle means no run is in progress
	StatusIdle Status = "idle"
	// StatusRunning means a run was in progress when the cursor was committed
	StatusRunning Status = "running"
	// StatusFailed means the last run ended in failure
	StatusFailed Status = "failed"
)

// Epoch is the LastCommitted value of a cursor that was never committed
var Epoch = time.Unix(0, 0).UTC()

// Cursor is the progress marker of one entity type
type Cursor struct {
	EntityType catalog.EntityType `json:"entityType"`
	// Token is the continuation token of the next page; empty starts the sequence over
	Token string `json:"token,omitempty"`
	// Page is the last committed page number
	Page int `json:"page"`
	// WindowStart is the "updated since" bound of incremental runs
	WindowStart time.Time `json:"windowStart"`
	// WindowEnd is the "updated until" bound Token was issued for. It is
	// zero once the window is exhausted.
	WindowEnd     time.Time `json:"windowEnd"`
	LastCommitted time.Time `json:"lastCommitted"`
	Status        Status    `json:"status"`
	Inserted      int64     `json:"inserted"`
	Updated       int64     `json:"updated"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Initial returns the cursor of an entity type that has never been synced
func Initial(entity catalog.EntityType) *Cursor {
	return &Cursor{
		EntityType:    entity,
		LastCommitted: Epoch,
		Status:        StatusIdle,
	}
}

// NextToken converts the stored token to a page request token
func (c *Cursor) NextToken() catalog.Token {
	return catalog.Token(c.Token)
}

// Store persists cursors. Commit is the only way persisted state changes and
// readers never observe a partially written cursor.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/stacklok/tmdb-sync/internal/cursor Store
type Store interface {
	// Get returns the committed cursor, or Initial for an entity type never committed
	Get(ctx context.Context, entity catalog.EntityType) (*Cursor, error)
	// Commit atomically replaces the cursor of c.EntityType
	Commit(ctx context.Context, c *Cursor) error
	// List returns every committed cursor ordered by entity type
	List(ctx context.Context) ([]*Cursor, error)
}

// StoreError is returned by every Store operation that fails
type StoreError struct {
	Op         string
	EntityType catalog.EntityType
	Err        error
}

func (e *StoreError) Error() string {
	if e.EntityType == "" {
		return fmt.Sprintf("cursor store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cursor store %s %s: %v", e.Op, e.EntityType, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, entity catalog.EntityType, err error) error {
	return &StoreError{Op: op, EntityType: entity, Err: err}
}
