package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/tmdb-sync/internal/api/common"
	"github.com/stacklok/tmdb-sync/internal/catalog"
	pkgsync "github.com/stacklok/tmdb-sync/internal/sync"
	"github.com/stacklok/tmdb-sync/internal/versions"
)

// HealthRouter creates a router for health check endpoints.
// A nil readiness check always reports ready.
func HealthRouter(orchestrator pkgsync.Orchestrator, readiness func(context.Context) error) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler(orchestrator))
	r.Get("/readiness", readinessHandler(readiness))
	r.Get("/version", versionHandler)

	return r
}

// healthHandler reports liveness. It never touches the stores.
func healthHandler(orchestrator pkgsync.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "healthy"}
		if orchestrator != nil {
			resp.ActiveRuns = len(orchestrator.ActiveRuns())
		}
		common.WriteJSONResponse(w, resp, http.StatusOK)
	}
}

// readinessHandler reports whether the stores behind the service are reachable
func readinessHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				slog.WarnContext(r.Context(), "Readiness check failed", "error", err)
				common.WriteErrorResponse(w, "service not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		common.WriteJSONResponse(w, ReadinessResponse{Status: "ready"}, http.StatusOK)
	}
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	resp := VersionResponse{VersionInfo: versions.GetVersionInfo()}
	for _, e := range catalog.EntityTypes() {
		resp.EntityTypes = append(resp.EntityTypes, string(e))
	}
	common.WriteJSONResponse(w, resp, http.StatusOK)
}
