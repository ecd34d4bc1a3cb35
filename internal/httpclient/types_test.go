package httpclient_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/tmdb-sync/internal/httpclient"
)

func TestHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		statusCode    int
		url           string
		message       string
		expectedError string
	}{
		{
			name:          "create HTTPError with all fields",
			statusCode:    404,
			url:           "http://example.com",
			message:       "Not Found",
			expectedError: "HTTP 404 for URL http://example.com: Not Found",
		},
		{
			name:          "handle empty message",
			statusCode:    500,
			url:           "http://api.example.com/3/movie/popular",
			message:       "",
			expectedError: "HTTP 500 for URL http://api.example.com/3/movie/popular: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := httpclient.NewHTTPError(tt.statusCode, tt.url, tt.message)

			assert.Equal(t, tt.expectedError, err.Error())
			assert.Equal(t, tt.statusCode, err.StatusCode)
			assert.Equal(t, tt.url, err.URL)
		})
	}
}
