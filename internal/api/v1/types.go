package v1

import (
	"github.com/stacklok/tmdb-sync/internal/cursor"
	"github.com/stacklok/tmdb-sync/internal/status"
)

// StartSyncResponse is returned when a run was accepted
type StartSyncResponse struct {
	RunID      string `json:"runId"`
	EntityType string `json:"entityType"`
}

// CancelSyncResponse is returned when a cancellation was accepted
type CancelSyncResponse struct {
	EntityType string `json:"entityType"`
	Status     string `json:"status"`
}

// RunsResponse lists sync runs
type RunsResponse struct {
	Runs []status.SyncRun `json:"runs"`
}

// CursorsResponse lists committed cursors
type CursorsResponse struct {
	Cursors []*cursor.Cursor `json:"cursors"`
}
