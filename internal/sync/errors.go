package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/cursor"
	"github.com/stacklok/tmdb-sync/internal/documents"
)

var (
	// ErrNotRunning is returned by CancelSync when the entity type has no active run
	ErrNotRunning = errors.New("no sync run in progress")

	// ErrUnknownEntity is returned for entity types that are not configured
	ErrUnknownEntity = errors.New("entity type not configured")

	// ErrShuttingDown is returned by StartSync once Shutdown was called
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// AlreadyRunningError rejects a run for an entity type that already has one
type AlreadyRunningError struct {
	EntityType catalog.EntityType
	RunID      string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("sync of %s already running as %s", e.EntityType, e.RunID)
}

// IsAlreadyRunning reports whether err is an *AlreadyRunningError
func IsAlreadyRunning(err error) bool {
	var target *AlreadyRunningError
	return errors.As(err, &target)
}

// Failure reasons of a run
const (
	ReasonAuthFailed         = "auth-failed"
	ReasonRateLimitExhausted = "rate-limit-exhausted"
	ReasonUpstreamFailed     = "upstream-failed"
	ReasonMalformedResponse  = "malformed-response"
	ReasonStoreUnavailable   = "store-unavailable"
	ReasonCursorStoreFailed  = "cursor-store-failed"
	ReasonTimeout            = "run-timeout"
	ReasonShutdown           = "shutdown"
)

// Error is the terminal error of a failed run
type Error struct {
	Err     error
	Message string
	Reason  string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// runError classifies err and prefixes its message with the step that failed
func runError(step string, err error) *Error {
	return &Error{
		Err:     err,
		Message: fmt.Sprintf("%s: %v", step, err),
		Reason:  reasonOf(err),
	}
}

func reasonOf(err error) string {
	var storeErr *cursor.StoreError
	switch {
	case catalog.IsAuth(err):
		return ReasonAuthFailed
	case catalog.IsRateLimitExhausted(err):
		return ReasonRateLimitExhausted
	case catalog.IsMalformed(err):
		return ReasonMalformedResponse
	case errors.As(err, &storeErr):
		return ReasonCursorStoreFailed
	case errors.Is(err, documents.ErrUnavailable):
		return ReasonStoreUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonShutdown
	default:
		return ReasonUpstreamFailed
	}
}
