// Package api provides the HTTP trigger surface of the sync service.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/stacklok/tmdb-sync/internal/api/v1"
	"github.com/stacklok/tmdb-sync/internal/cursor"
	"github.com/stacklok/tmdb-sync/internal/status"
	pkgsync "github.com/stacklok/tmdb-sync/internal/sync"
)

// ServerOption configures the API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
	cursors     cursor.Store
	history     status.History
	readiness   func(context.Context) error
	metrics     http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithCursors serves committed cursors on /v1/cursors
func WithCursors(store cursor.Store) ServerOption {
	return func(cfg *serverConfig) {
		cfg.cursors = store
	}
}

// WithHistory serves the latest persisted run per entity type on /v1/runs/latest
func WithHistory(history status.History) ServerOption {
	return func(cfg *serverConfig) {
		cfg.history = history
	}
}

// WithReadinessCheck makes /readiness report the result of check
func WithReadinessCheck(check func(context.Context) error) ServerOption {
	return func(cfg *serverConfig) {
		cfg.readiness = check
	}
}

// WithMetricsHandler serves handler on /metrics
func WithMetricsHandler(handler http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metrics = handler
	}
}

// NewServer creates and configures the HTTP router with the given orchestrator and options
func NewServer(orchestrator pkgsync.Orchestrator, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		middlewares: []func(http.Handler) http.Handler{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Mount("/", HealthRouter(orchestrator, cfg.readiness))
	if cfg.metrics != nil {
		r.Handle("/metrics", cfg.metrics)
	}
	r.Mount("/v1", v1.Router(orchestrator, cfg.cursors, cfg.history))

	return r
}

// DefaultMiddlewares returns the middleware chain served in front of every route
func DefaultMiddlewares(requestTimeout time.Duration) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
		LoggingMiddleware,
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
