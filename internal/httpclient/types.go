package httpclient

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// HTTPError represents a non-2xx upstream response
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
	// Header holds the response headers, including rate-limit and Retry-After hints
	Header http.Header
	// Body is the (size-limited) response body, kept for error journaling
	Body []byte
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// RetryAfter parses the Retry-After header, which may hold delta-seconds or an HTTP date.
// The second return value is false when the header is absent or unparseable.
func (e *HTTPError) RetryAfter(now time.Time) (time.Duration, bool) {
	if e.Header == nil {
		return 0, false
	}
	return ParseRetryAfter(e.Header.Get("Retry-After"), now)
}

// ParseRetryAfter parses a Retry-After value relative to now
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
