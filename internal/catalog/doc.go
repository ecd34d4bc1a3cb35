// Package catalog provides the client for the upstream TMDB catalog API.
//
// The client walks paginated list endpoints one page at a time. Each call to
// FetchPage returns a bounded batch of records together with the token for the
// next page; a NoMore token marks the end of the sequence. Transient failures
// (network errors, 5xx, 429) are retried with capped exponential backoff, and
// every request draws from a Budget shared by all callers using the same
// credential.
package catalog
