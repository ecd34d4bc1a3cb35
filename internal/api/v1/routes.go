// Package v1 provides the handlers that start, cancel and inspect sync runs.
package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/tmdb-sync/internal/api/common"
	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/cursor"
	"github.com/stacklok/tmdb-sync/internal/status"
	pkgsync "github.com/stacklok/tmdb-sync/internal/sync"
)

// Routes holds the dependencies of the v1 handlers
type Routes struct {
	orchestrator pkgsync.Orchestrator
	cursors      cursor.Store
	history      status.History
}

// Router creates the v1 router. cursors and history may be nil, in which case
// their endpoints answer 501.
func Router(orchestrator pkgsync.Orchestrator, cursors cursor.Store, history status.History) http.Handler {
	routes := &Routes{
		orchestrator: orchestrator,
		cursors:      cursors,
		history:      history,
	}

	r := chi.NewRouter()

	r.Post("/sync/{entityType}", routes.startSync)
	r.Delete("/sync/{entityType}", routes.cancelSync)
	r.Get("/runs", routes.listActiveRuns)
	r.Get("/runs/latest", routes.listLatestRuns)
	r.Get("/runs/{runID}", routes.getRun)
	r.Get("/cursors", routes.listCursors)

	return r
}

// startSync handles POST /v1/sync/{entityType}
//
// Query parameters: maxPages (limit this run), reset (start the sequence over).
// Replies 202 with the run id, 404 for entity types that are not configured,
// 409 when a run is already active.
func (rr *Routes) startSync(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityParam(w, r)
	if !ok {
		return
	}

	maxPages, err := common.QueryInt(r, "maxPages")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	reset, err := common.QueryBool(r, "reset")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	runID, err := rr.orchestrator.StartSync(r.Context(), entity, pkgsync.StartOptions{MaxPages: maxPages, Reset: reset})
	if err != nil {
		var running *pkgsync.AlreadyRunningError
		switch {
		case errors.As(err, &running):
			common.WriteJSONResponse(w, common.ErrorResponse{Error: err.Error(), RunID: running.RunID}, http.StatusConflict)
		case errors.Is(err, pkgsync.ErrUnknownEntity):
			common.WriteErrorResponse(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, pkgsync.ErrShuttingDown):
			common.WriteErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
		default:
			slog.ErrorContext(r.Context(), "Failed to start sync", "entity", entity, "error", err)
			common.WriteErrorResponse(w, "failed to start sync", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Location", "/v1/runs/"+runID)
	common.WriteJSONResponse(w, StartSyncResponse{RunID: runID, EntityType: string(entity)}, http.StatusAccepted)
}

// cancelSync handles DELETE /v1/sync/{entityType}
func (rr *Routes) cancelSync(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityParam(w, r)
	if !ok {
		return
	}

	if err := rr.orchestrator.CancelSync(entity); err != nil {
		if errors.Is(err, pkgsync.ErrNotRunning) {
			common.WriteErrorResponse(w, err.Error(), http.StatusConflict)
			return
		}
		slog.ErrorContext(r.Context(), "Failed to cancel sync", "entity", entity, "error", err)
		common.WriteErrorResponse(w, "failed to cancel sync", http.StatusInternalServerError)
		return
	}

	common.WriteJSONResponse(w, CancelSyncResponse{EntityType: string(entity), Status: "cancelling"}, http.StatusAccepted)
}

// getRun handles GET /v1/runs/{runID}
func (rr *Routes) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := common.GetAndValidateURLParam(r, "runID")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	run, err := rr.orchestrator.GetStatus(r.Context(), runID)
	if err != nil {
		if errors.Is(err, status.ErrRunNotFound) {
			common.WriteErrorResponse(w, "run not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(r.Context(), "Failed to get run", "run_id", runID, "error", err)
		common.WriteErrorResponse(w, "failed to get run", http.StatusInternalServerError)
		return
	}

	common.WriteJSONResponse(w, run, http.StatusOK)
}

// listActiveRuns handles GET /v1/runs
func (rr *Routes) listActiveRuns(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, RunsResponse{Runs: rr.orchestrator.ActiveRuns()}, http.StatusOK)
}

// listLatestRuns handles GET /v1/runs/latest
func (rr *Routes) listLatestRuns(w http.ResponseWriter, r *http.Request) {
	if rr.history == nil {
		common.WriteErrorResponse(w, "run history is not configured", http.StatusNotImplemented)
		return
	}

	runs, err := rr.history.Latest(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list latest runs", "history", rr.history.Name(), "error", err)
		common.WriteErrorResponse(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []status.SyncRun{}
	}

	common.WriteJSONResponse(w, RunsResponse{Runs: runs}, http.StatusOK)
}

// listCursors handles GET /v1/cursors
func (rr *Routes) listCursors(w http.ResponseWriter, r *http.Request) {
	if rr.cursors == nil {
		common.WriteErrorResponse(w, "cursor store is not configured", http.StatusNotImplemented)
		return
	}

	cursors, err := rr.cursors.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list cursors", "error", err)
		common.WriteErrorResponse(w, "failed to list cursors", http.StatusInternalServerError)
		return
	}
	if cursors == nil {
		cursors = []*cursor.Cursor{}
	}

	common.WriteJSONResponse(w, CursorsResponse{Cursors: cursors}, http.StatusOK)
}

// entityParam reads and validates the entityType path parameter, answering
// 400 or 404 itself when it is unusable
func entityParam(w http.ResponseWriter, r *http.Request) (catalog.EntityType, bool) {
	name, err := common.GetAndValidateURLParam(r, "entityType")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	entity, err := catalog.ParseEntityType(name)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusNotFound)
		return "", false
	}
	return entity, true
}
