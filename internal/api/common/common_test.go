package common

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAndValidateURLParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		path      string
		wantValue string
		wantErr   string
	}{
		{name: "plain", path: "/movie_popular", wantValue: "movie_popular"},
		{name: "encoded", path: "/movie%5Fpopular", wantValue: "movie_popular"},
		{name: "encoded whitespace", path: "/movie%20popular", wantErr: "cannot contain whitespace"},
		{name: "only whitespace", path: "/%20%20", wantErr: "cannot be empty"},
		{name: "bad encoding", path: "/movie%ZZ", wantErr: "invalid URL encoding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotValue string
			var gotErr error
			r := chi.NewRouter()
			r.Get("/{entityType}", func(_ http.ResponseWriter, req *http.Request) {
				gotValue, gotErr = GetAndValidateURLParam(req, "entityType")
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.URL.RawPath = tt.path
			req.URL.Path = tt.path
			r.ServeHTTP(httptest.NewRecorder(), req)

			if tt.wantErr != "" {
				require.Error(t, gotErr)
				assert.Contains(t, gotErr.Error(), tt.wantErr)
				return
			}
			require.NoError(t, gotErr)
			assert.Equal(t, tt.wantValue, gotValue)
		})
	}
}

func TestQueryParams(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/?maxPages=3&reset=true&bad=-1&flag=maybe", nil)

	n, err := QueryInt(req, "maxPages")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = QueryInt(req, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = QueryInt(req, "bad")
	assert.Error(t, err)

	b, err := QueryBool(req, "reset")
	require.NoError(t, err)
	assert.True(t, b)

	_, err = QueryBool(req, "flag")
	assert.Error(t, err)
}

func TestWriteErrorResponse(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	WriteErrorResponse(rr, "nope", http.StatusConflict)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "nope", body.Error)
	assert.Empty(t, body.RunID)
}
