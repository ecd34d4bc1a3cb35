// Package integration provides end-to-end tests for the TMDB sync service.
// These tests run the full application against a fake TMDB API and drive
// syncs through the HTTP control surface.
package integration
