package v1_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/tmdb-sync/internal/api/common"
	v1 "github.com/stacklok/tmdb-sync/internal/api/v1"
	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/cursor"
	"github.com/stacklok/tmdb-sync/internal/status"
	statusmocks "github.com/stacklok/tmdb-sync/internal/status/mocks"
	pkgsync "github.com/stacklok/tmdb-sync/internal/sync"
	syncmocks "github.com/stacklok/tmdb-sync/internal/sync/mocks"
)

func serve(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestStartSync(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		target         string
		setupMock      func(*syncmocks.MockOrchestrator)
		expectedStatus int
		expectedRunID  string
	}{
		{
			name:   "accepted",
			target: "/sync/movie_popular",
			setupMock: func(m *syncmocks.MockOrchestrator) {
				m.EXPECT().StartSync(gomock.Any(), catalog.MoviePopular, pkgsync.StartOptions{}).Return("run-1", nil)
			},
			expectedStatus: http.StatusAccepted,
			expectedRunID:  "run-1",
		},
		{
			name:   "options are passed through",
			target: "/sync/tv_changes?maxPages=3&reset=true",
			setupMock: func(m *syncmocks.MockOrchestrator) {
				m.EXPECT().
					StartSync(gomock.Any(), catalog.TVChanges, pkgsync.StartOptions{MaxPages: 3, Reset: true}).
					Return("run-2", nil)
			},
			expectedStatus: http.StatusAccepted,
			expectedRunID:  "run-2",
		},
		{
			name:           "unknown entity type",
			target:         "/sync/movie_trending",
			setupMock:      func(*syncmocks.MockOrchestrator) {},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:   "entity type not configured",
			target: "/sync/tv_discover",
			setupMock: func(m *syncmocks.MockOrchestrator) {
				m.EXPECT().StartSync(gomock.Any(), catalog.TVDiscover, gomock.Any()).
					Return("", pkgsync.ErrUnknownEntity)
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:   "already running",
			target: "/sync/movie_popular",
			setupMock: func(m *syncmocks.MockOrchestrator) {
				m.EXPECT().StartSync(gomock.Any(), catalog.MoviePopular, gomock.Any()).
					Return("", &pkgsync.AlreadyRunningError{EntityType: catalog.MoviePopular, RunID: "run-0"})
			},
			expectedStatus: http.StatusConflict,
			expectedRunID:  "run-0",
		},
		{
			name:   "shutting down",
			target: "/sync/movie_popular",
			setupMock: func(m *syncmocks.MockOrchestrator) {
				m.EXPECT().StartSync(gomock.Any(), gomock.Any(), gomock.Any()).Return("", pkgsync.ErrShuttingDown)
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:   "unexpected error",
			target: "/sync/movie_popular",
			setupMock: func(m *syncmocks.MockOrchestrator) {
				m.EXPECT().StartSync(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("boom"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "negative page limit",
			target:         "/sync/movie_popular?maxPages=-1",
			setupMock:      func(*syncmocks.MockOrchestrator) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed reset",
			target:         "/sync/movie_popular?reset=maybe",
			setupMock:      func(*syncmocks.MockOrchestrator) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			orchestrator := syncmocks.NewMockOrchestrator(ctrl)
			tt.setupMock(orchestrator)

			rr := serve(t, v1.Router(orchestrator, nil, nil), http.MethodPost, tt.target)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			switch tt.expectedStatus {
			case http.StatusAccepted:
				var resp v1.StartSyncResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Equal(t, tt.expectedRunID, resp.RunID)
				assert.Equal(t, "/v1/runs/"+tt.expectedRunID, rr.Header().Get("Location"))
			default:
				var resp common.ErrorResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.Error)
				assert.Equal(t, tt.expectedRunID, resp.RunID)
			}
		})
	}
}

func TestCancelSync(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{name: "accepted", expectedStatus: http.StatusAccepted},
		{name: "not running", err: pkgsync.ErrNotRunning, expectedStatus: http.StatusConflict},
		{name: "unexpected error", err: errors.New("boom"), expectedStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			orchestrator := syncmocks.NewMockOrchestrator(ctrl)
			orchestrator.EXPECT().CancelSync(catalog.MovieTopRated).Return(tt.err)

			rr := serve(t, v1.Router(orchestrator, nil, nil), http.MethodDelete, "/sync/movie_top_rated")
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	run := &status.SyncRun{
		ID:         "run-1",
		EntityType: string(catalog.MoviePopular),
		Mode:       status.ModeFull,
		Phase:      status.PhaseRunning,
		StartedAt:  started,
		Pages:      2,
	}

	tests := []struct {
		name           string
		run            *status.SyncRun
		err            error
		expectedStatus int
	}{
		{name: "found", run: run, expectedStatus: http.StatusOK},
		{name: "not found", err: status.ErrRunNotFound, expectedStatus: http.StatusNotFound},
		{name: "history failure", err: errors.New("db down"), expectedStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			orchestrator := syncmocks.NewMockOrchestrator(ctrl)
			orchestrator.EXPECT().GetStatus(gomock.Any(), "run-1").Return(tt.run, tt.err)

			rr := serve(t, v1.Router(orchestrator, nil, nil), http.MethodGet, "/runs/run-1")
			require.Equal(t, tt.expectedStatus, rr.Code)

			if tt.run != nil {
				var got status.SyncRun
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
				assert.Equal(t, *tt.run, got)
			}
		})
	}
}

func TestListActiveRuns(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	orchestrator := syncmocks.NewMockOrchestrator(ctrl)
	orchestrator.EXPECT().ActiveRuns().Return([]status.SyncRun{
		{ID: "a", EntityType: "movie_popular", Phase: status.PhaseRunning},
		{ID: "b", EntityType: "tv_popular", Phase: status.PhaseDraining},
	})

	rr := serve(t, v1.Router(orchestrator, nil, nil), http.MethodGet, "/runs")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp v1.RunsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, status.PhaseDraining, resp.Runs[1].Phase)
}

func TestListLatestRuns(t *testing.T) {
	t.Parallel()

	t.Run("without history", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		rr := serve(t, v1.Router(syncmocks.NewMockOrchestrator(ctrl), nil, nil), http.MethodGet, "/runs/latest")
		assert.Equal(t, http.StatusNotImplemented, rr.Code)
	})

	t.Run("empty history", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		history := statusmocks.NewMockHistory(ctrl)
		history.EXPECT().Latest(gomock.Any()).Return(nil, nil)

		rr := serve(t, v1.Router(syncmocks.NewMockOrchestrator(ctrl), nil, history), http.MethodGet, "/runs/latest")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"runs":[]}`, rr.Body.String())
	})

	t.Run("history failure", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		history := statusmocks.NewMockHistory(ctrl)
		history.EXPECT().Latest(gomock.Any()).Return(nil, errors.New("db down"))
		history.EXPECT().Name().Return("postgres").AnyTimes()

		rr := serve(t, v1.Router(syncmocks.NewMockOrchestrator(ctrl), nil, history), http.MethodGet, "/runs/latest")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestListCursors(t *testing.T) {
	t.Parallel()

	t.Run("without store", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		rr := serve(t, v1.Router(syncmocks.NewMockOrchestrator(ctrl), nil, nil), http.MethodGet, "/cursors")
		assert.Equal(t, http.StatusNotImplemented, rr.Code)
	})

	t.Run("committed cursors", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		store := cursor.NewMemoryStore()
		c := cursor.Initial(catalog.MoviePopular)
		c.Token = "3"
		c.Page = 2
		require.NoError(t, store.Commit(t.Context(), c))

		rr := serve(t, v1.Router(syncmocks.NewMockOrchestrator(ctrl), store, nil), http.MethodGet, "/cursors")
		require.Equal(t, http.StatusOK, rr.Code)

		var resp v1.CursorsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Cursors, 1)
		assert.Equal(t, catalog.MoviePopular, resp.Cursors[0].EntityType)
		assert.Equal(t, "3", resp.Cursors[0].Token)
		assert.Equal(t, 2, resp.Cursors[0].Page)
	})
}
