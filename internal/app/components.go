package app

import (
	"github.com/stacklok/tmdb-sync/internal/app/storage"
	"github.com/stacklok/tmdb-sync/internal/cursor"
	"github.com/stacklok/tmdb-sync/internal/documents"
	"github.com/stacklok/tmdb-sync/internal/status"
	pkgsync "github.com/stacklok/tmdb-sync/internal/sync"
	"github.com/stacklok/tmdb-sync/internal/sync/coordinator"
	"github.com/stacklok/tmdb-sync/internal/telemetry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Engine runs and tracks syncs
	Engine *pkgsync.Engine

	// SyncCoordinator triggers scheduled syncs
	SyncCoordinator coordinator.Coordinator

	// Reporter publishes run transitions to the configured sinks
	Reporter *status.AsyncReporter

	Documents documents.Store
	Cursors   cursor.Store
	// History is nil when runs are only kept in memory
	History status.History

	Storage   storage.Factory
	Telemetry *telemetry.Telemetry
}
