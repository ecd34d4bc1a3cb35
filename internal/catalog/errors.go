package catalog

import (
	"errors"
	"fmt"
	"time"
)

// TransientError is a failure that may succeed on retry: network errors,
// timeouts, 5xx responses and 429 throttling.
type TransientError struct {
	// StatusCode is 0 for transport failures
	StatusCode int
	// RetryAfter is the server-provided wait hint, if any
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient upstream error (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient upstream error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// AuthError is returned for 401 and 403 responses. It is never retried.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream rejected credential (HTTP %d): %v", e.StatusCode, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// MalformedResponseError is a schema violation in an upstream record.
// A record-level error skips the record; the rest of the page is kept.
type MalformedResponseError struct {
	RecordID string
	Reason   string
}

func (e *MalformedResponseError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("malformed upstream response: %s", e.Reason)
	}
	return fmt.Sprintf("malformed upstream record %s: %s", e.RecordID, e.Reason)
}

// RateLimitExhaustedError is returned when throttling outlasts the retry budget,
// or when the rate-limit window resets only after the caller's deadline.
type RateLimitExhaustedError struct {
	ResetAt  time.Time
	Deadline time.Time
	Attempts int
}

func (e *RateLimitExhaustedError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("rate limit exhausted after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("rate limit resets at %s, after the run deadline %s",
		e.ResetAt.Format(time.RFC3339), e.Deadline.Format(time.RFC3339))
}

// RecordError reports one record of a page that could not be used
type RecordError struct {
	// Index is the record's position in the upstream page
	Index int
	// ID is the upstream id when it could be read
	ID  string
	Err error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d (%s): %v", e.Index, e.ID, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// IsTransient returns true if the error is a TransientError.
// Uses errors.As to handle wrapped errors.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsAuth returns true if the error is an AuthError
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsMalformed returns true if the error is a MalformedResponseError
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

// IsRateLimitExhausted returns true if the error is a RateLimitExhaustedError
func IsRateLimitExhausted(err error) bool {
	var re *RateLimitExhaustedError
	return errors.As(err, &re)
}
