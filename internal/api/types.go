package api

import "github.com/stacklok/tmdb-sync/internal/versions"

// HealthResponse is served on /health. ActiveRuns counts the syncs in flight.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"activeRuns"`
}

// ReadinessResponse is served on /readiness once both stores answer
type ReadinessResponse struct {
	Status string `json:"status"`
}

// VersionResponse is served on /version
type VersionResponse struct {
	versions.VersionInfo

	// EntityTypes lists every entity type this build can sync
	EntityTypes []string `json:"entityTypes"`
}
