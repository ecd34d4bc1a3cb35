package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/stacklok/tmdb-sync/internal/db"
)

const (
	mongoConnectTimeout    = 10 * time.Second
	mongoDisconnectTimeout = 5 * time.Second
)

// postgres returns the shared connection pool, opening it on first use
func (f *defaultFactory) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pool != nil {
		return f.pool, nil
	}

	if f.config.Database == nil {
		return nil, fmt.Errorf("database configuration is required for the postgres storage type")
	}

	slog.Info("Opening database connection pool")
	pool, err := db.NewPool(ctx, f.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	f.pool = pool
	f.closers = append(f.closers, func() {
		slog.Info("Closing database connection pool")
		pool.Close()
	})
	return pool, nil
}

// mongo returns the shared database handle, connecting on first use
func (f *defaultFactory) mongo(ctx context.Context) (*mongo.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mongoDB != nil {
		return f.mongoDB, nil
	}

	if f.config.Mongo == nil {
		return nil, fmt.Errorf("mongo configuration is required for the mongo storage type")
	}
	uri, err := f.config.Mongo.GetURI()
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	slog.Info("Mongo connection established", "database", f.config.Mongo.Database)

	f.mongoDB = client.Database(f.config.Mongo.Database)
	f.closers = append(f.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			slog.Error("Failed to disconnect from mongo", "error", err)
		}
	})
	return f.mongoDB, nil
}
