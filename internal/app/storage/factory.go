// Package storage provides factory functions for creating storage-dependent components.
// Documents, cursors and run history may each live on a different backend; the
// factory opens every backend connection once and shares it between them.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/stacklok/tmdb-sync/internal/config"
	"github.com/stacklok/tmdb-sync/internal/cursor"
	"github.com/stacklok/tmdb-sync/internal/documents"
	"github.com/stacklok/tmdb-sync/internal/status"
)

//go:generate mockgen -destination=mocks/mock_factory.go -package=mocks github.com/stacklok/tmdb-sync/internal/app/storage Factory

// Factory creates storage-dependent components.
//
// It also manages the lifecycle of storage resources (connection pools,
// embedded databases). Cleanup should be called when the application shuts down.
type Factory interface {
	// CreateDocumentStore creates the store synced records are written to
	CreateDocumentStore(ctx context.Context) (documents.Store, error)

	// CreateCursorStore creates the store sync progress is committed to
	CreateCursorStore(ctx context.Context) (cursor.Store, error)

	// CreateHistory creates the durable run history. It returns nil when runs
	// are only kept in memory.
	CreateHistory(ctx context.Context) (status.History, error)

	// Cleanup releases any resources held by this factory
	Cleanup()
}

// defaultFactory creates components for the backends named in the storage configuration
type defaultFactory struct {
	config *config.StorageConfig

	mu      sync.Mutex
	pool    *pgxpool.Pool
	mongoDB *mongo.Database
	closers []func()
}

var _ Factory = (*defaultFactory)(nil)

// NewStorageFactory creates a storage factory for cfg.Storage.
// Backend connections are opened on first use.
func NewStorageFactory(cfg *config.Config) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	slog.Info("Creating storage factory",
		"documents", cfg.Storage.Documents,
		"cursors", cfg.Storage.Cursors,
		"history", historyBackend(cfg.Storage.Cursors))
	return &defaultFactory{config: &cfg.Storage}, nil
}

// CreateDocumentStore implements Factory
func (f *defaultFactory) CreateDocumentStore(ctx context.Context) (documents.Store, error) {
	switch f.config.Documents {
	case config.StorageTypeMemory:
		slog.Warn("Documents are kept in memory and are lost on restart")
		return documents.NewMemoryStore(), nil
	case config.StorageTypePostgres:
		pool, err := f.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return documents.NewPostgresStore(pool), nil
	case config.StorageTypeMongo:
		db, err := f.mongo(ctx)
		if err != nil {
			return nil, err
		}
		return documents.NewMongoStore(ctx, db, "")
	default:
		return nil, fmt.Errorf("unknown document storage type: %s", f.config.Documents)
	}
}

// CreateCursorStore implements Factory
func (f *defaultFactory) CreateCursorStore(ctx context.Context) (cursor.Store, error) {
	switch f.config.Cursors {
	case config.StorageTypeMemory:
		return cursor.NewMemoryStore(), nil
	case config.StorageTypeFile:
		return cursor.NewFileStore(f.cursorsDir()), nil
	case config.StorageTypeSQLite:
		store, err := cursor.OpenSQLite(f.sqlitePath())
		if err != nil {
			return nil, err
		}
		f.onCleanup(func() {
			if err := store.Close(); err != nil {
				slog.Error("Failed to close cursor database", "error", err)
			}
		})
		return store, nil
	case config.StorageTypePostgres:
		pool, err := f.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return cursor.NewPostgresStore(pool), nil
	case config.StorageTypeMongo:
		db, err := f.mongo(ctx)
		if err != nil {
			return nil, err
		}
		return cursor.NewMongoStore(db, ""), nil
	default:
		return nil, fmt.Errorf("unknown cursor storage type: %s", f.config.Cursors)
	}
}

// CreateHistory implements Factory. Run history follows the cursor backend,
// with the embedded SQLite backend journaling runs to files.
func (f *defaultFactory) CreateHistory(ctx context.Context) (status.History, error) {
	switch historyBackend(f.config.Cursors) {
	case config.StorageTypeFile:
		return status.NewFileHistory(f.runsDir()), nil
	case config.StorageTypePostgres:
		pool, err := f.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return status.NewPostgresHistory(pool), nil
	case config.StorageTypeMongo:
		db, err := f.mongo(ctx)
		if err != nil {
			return nil, err
		}
		return status.NewMongoHistory(ctx, db, "")
	default:
		return nil, nil
	}
}

// Cleanup implements Factory
func (f *defaultFactory) Cleanup() {
	f.mu.Lock()
	closers := f.closers
	f.closers = nil
	f.pool = nil
	f.mongoDB = nil
	f.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func (f *defaultFactory) onCleanup(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closers = append(f.closers, fn)
}

// historyBackend maps a cursor backend to the backend run history is kept on
func historyBackend(cursors string) string {
	switch cursors {
	case config.StorageTypeFile, config.StorageTypeSQLite:
		return config.StorageTypeFile
	case config.StorageTypePostgres, config.StorageTypeMongo:
		return cursors
	default:
		return config.StorageTypeMemory
	}
}
