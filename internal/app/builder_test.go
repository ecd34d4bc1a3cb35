package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/tmdb-sync/internal/app/storage/mocks"
	"github.com/stacklok/tmdb-sync/internal/cursor"
	"github.com/stacklok/tmdb-sync/internal/documents"
)

func TestBaseConfig_Defaults(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithConfig(createValidTestConfig(t)))
	require.NoError(t, err)
	assert.Equal(t, defaultHTTPAddress, built.address)
	assert.Equal(t, defaultRequestTimeout, built.requestTimeout)
}

func TestBaseConfig_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := baseConfig(WithAddress(":9090"))
	assert.ErrorContains(t, err, "config cannot be nil")
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "port only", address: ":9090"},
		{name: "localhost", address: "localhost:8080"},
		{name: "ip and port", address: "10.0.0.1:80"},
		{name: "empty", address: "", wantErr: true},
		{name: "missing port", address: ":", wantErr: true},
		{name: "no separator", address: "8080", wantErr: true},
		{name: "port out of range", address: ":70000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			built, err := baseConfig(WithConfig(createValidTestConfig(t)), WithAddress(tt.address))
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, built)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.address, built.address)
		})
	}
}

func TestWithRequestTimeout(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithConfig(createValidTestConfig(t)), WithRequestTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, time.Second, built.requestTimeout)

	_, err = baseConfig(WithConfig(createValidTestConfig(t)), WithRequestTimeout(0))
	assert.Error(t, err)
}

func TestNewSyncApp_MissingToken(t *testing.T) {
	t.Setenv("TMDB_SYNC_TMDB_TOKEN", "")

	_, err := NewSyncApp(context.Background(), WithConfig(createValidTestConfig(t)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no TMDB token configured")
}

func TestNewSyncApp_StorageFailureCleansUp(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	factory := mocks.NewMockFactory(ctrl)
	factory.EXPECT().CreateDocumentStore(gomock.Any()).Return(documents.NewMemoryStore(), nil)
	factory.EXPECT().CreateCursorStore(gomock.Any()).Return(nil, assert.AnError)
	factory.EXPECT().Cleanup()

	_, err := NewSyncApp(context.Background(),
		WithConfig(createValidTestConfig(t)),
		WithStorageFactory(factory),
		WithFetcher(twoPageFetcher(t)),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNewSyncApp_RecoversInterruptedCursors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cursors := cursor.NewMemoryStore()
	interrupted := cursor.Initial("movie_popular")
	interrupted.Status = cursor.StatusRunning
	interrupted.Token = "7"
	require.NoError(t, cursors.Commit(ctx, interrupted))

	ctrl := gomock.NewController(t)
	factory := mocks.NewMockFactory(ctrl)
	factory.EXPECT().CreateDocumentStore(gomock.Any()).Return(documents.NewMemoryStore(), nil)
	factory.EXPECT().CreateCursorStore(gomock.Any()).Return(cursors, nil)
	factory.EXPECT().CreateHistory(gomock.Any()).Return(nil, nil)
	factory.EXPECT().Cleanup()

	app, err := NewSyncApp(ctx,
		WithConfig(createValidTestConfig(t)),
		WithStorageFactory(factory),
		WithFetcher(twoPageFetcher(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(5 * time.Second) })

	got, err := cursors.Get(ctx, "movie_popular")
	require.NoError(t, err)
	assert.Equal(t, cursor.StatusFailed, got.Status)
	assert.Equal(t, "7", got.Token, "the last committed token is kept")
}

func TestBuildHTTPServer(t *testing.T) {
	t.Parallel()

	app, err := NewSyncApp(context.Background(),
		WithConfig(createValidTestConfig(t)),
		WithFetcher(twoPageFetcher(t)),
		WithAddress("127.0.0.1:0"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(5 * time.Second) })

	server := app.GetHTTPServer()
	assert.Equal(t, "127.0.0.1:0", server.Addr)
	assert.Equal(t, defaultReadTimeout, server.ReadTimeout)
	assert.Equal(t, defaultWriteTimeout, server.WriteTimeout)
	assert.Equal(t, defaultIdleTimeout, server.IdleTimeout)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{method: http.MethodGet, path: "/health", status: http.StatusOK},
		{method: http.MethodGet, path: "/readiness", status: http.StatusOK},
		{method: http.MethodGet, path: "/v1/runs", status: http.StatusOK},
		{method: http.MethodGet, path: "/v1/runs/latest", status: http.StatusOK},
		{method: http.MethodGet, path: "/v1/cursors", status: http.StatusOK},
		{method: http.MethodPost, path: "/v1/sync/tv_popular", status: http.StatusNotFound},
		// prometheus is not enabled without telemetry configuration
		{method: http.MethodGet, path: "/metrics", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		server.Handler.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.status, rr.Code, "%s %s", tt.method, tt.path)
	}
}
