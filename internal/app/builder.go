package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/stacklok/tmdb-sync/internal/api"
	"github.com/stacklok/tmdb-sync/internal/app/storage"
	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/config"
	"github.com/stacklok/tmdb-sync/internal/httpclient"
	"github.com/stacklok/tmdb-sync/internal/reconcile"
	"github.com/stacklok/tmdb-sync/internal/status"
	pkgsync "github.com/stacklok/tmdb-sync/internal/sync"
	"github.com/stacklok/tmdb-sync/internal/sync/coordinator"
	"github.com/stacklok/tmdb-sync/internal/telemetry"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// SyncAppOptions is a function that configures the sync app builder
type SyncAppOptions func(*syncAppConfig) error

// syncAppConfig collects the builder inputs.
// It supports dependency injection for testing while providing sensible defaults for production.
type syncAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	fetcher        catalog.Fetcher
	storageFactory storage.Factory
	telemetry      *telemetry.Telemetry

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...SyncAppOptions) (*syncAppConfig, error) {
	cfg := &syncAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return cfg, nil
}

// NewSyncApp builds every component of the service. Cursors left running by
// a previous process are marked failed before it returns.
//
// A logr.Logger stored in ctx is used by the sync engine.
func NewSyncApp(ctx context.Context, opts ...SyncAppOptions) (*SyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	components := &AppComponents{}

	// Ensure cleanup happens on error
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			components.release(context.Background())
		}
	}()

	if err := buildTelemetry(ctx, cfg, components); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := buildStorage(ctx, cfg, components); err != nil {
		return nil, fmt.Errorf("failed to build storage components: %w", err)
	}
	if err := buildSyncComponents(ctx, cfg, components); err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	// Cleanup is now handled by the app, not in defer
	cleanupNeeded = false

	return &SyncApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithRequestTimeout bounds the handling of one API request
func WithRequestTimeout(d time.Duration) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if d <= 0 {
			return fmt.Errorf("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithFetcher replaces the TMDB client (for testing)
func WithFetcher(f catalog.Fetcher) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.fetcher = f
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithTelemetry uses already initialized telemetry instead of building it from the configuration.
// The app takes ownership and shuts it down on Stop.
func WithTelemetry(t *telemetry.Telemetry) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

func buildTelemetry(ctx context.Context, b *syncAppConfig, c *AppComponents) error {
	if b.telemetry != nil {
		c.Telemetry = b.telemetry
		return nil
	}
	tel, err := telemetry.New(ctx, b.config.Telemetry)
	if err != nil {
		return err
	}
	c.Telemetry = tel
	return nil
}

// buildStorage creates the document, cursor and history stores
func buildStorage(ctx context.Context, b *syncAppConfig, c *AppComponents) error {
	slog.Info("Initializing storage components")

	if b.storageFactory == nil {
		f, err := storage.NewStorageFactory(b.config)
		if err != nil {
			return err
		}
		b.storageFactory = f
	}
	c.Storage = b.storageFactory

	var err error
	if c.Documents, err = c.Storage.CreateDocumentStore(ctx); err != nil {
		return fmt.Errorf("failed to create document store: %w", err)
	}
	if c.Cursors, err = c.Storage.CreateCursorStore(ctx); err != nil {
		return fmt.Errorf("failed to create cursor store: %w", err)
	}
	if c.History, err = c.Storage.CreateHistory(ctx); err != nil {
		return fmt.Errorf("failed to create run history: %w", err)
	}
	return nil
}

// buildFetcher creates the TMDB client with its shared request budget
func buildFetcher(b *syncAppConfig, c *AppComponents) (catalog.Fetcher, error) {
	if b.fetcher != nil {
		return b.fetcher, nil
	}

	t := b.config.TMDB
	token, err := t.GetToken()
	if err != nil {
		return nil, err
	}

	catalogMetrics, err := telemetry.NewCatalogMetrics(c.Telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog metrics: %w", err)
	}

	budget := catalog.NewBudget(t.RateLimit.RequestsPerSecond, t.RateLimit.Burst)
	return catalog.NewClient(
		httpclient.NewDefaultClient(t.RequestTimeout.Std()),
		budget,
		token,
		catalog.WithBaseURL(t.BaseURL),
		catalog.WithLanguage(t.Language),
		catalog.WithRetryPolicy(catalog.RetryPolicy{
			InitialInterval: t.Retry.InitialInterval.Std(),
			MaxInterval:     t.Retry.MaxInterval.Std(),
			Multiplier:      t.Retry.Multiplier,
			Jitter:          t.Retry.Jitter,
			MaxRetries:      t.Retry.MaxRetries,
		}),
		catalog.WithTracer(c.Telemetry.Tracer(catalog.TracerName)),
		catalog.WithMetrics(catalogMetrics),
	), nil
}

// buildSyncComponents builds the reporter, the engine and the coordinator
func buildSyncComponents(ctx context.Context, b *syncAppConfig, c *AppComponents) error {
	slog.Info("Initializing sync components")

	fetcher, err := buildFetcher(b, c)
	if err != nil {
		return fmt.Errorf("failed to create TMDB client: %w", err)
	}

	meterProvider := c.Telemetry.MeterProvider()
	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}
	reporterMetrics, err := telemetry.NewReporterMetrics(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create reporter metrics: %w", err)
	}

	sinks := []status.Sink{status.NewLogSink(slog.Default()), status.NewMetricsSink(syncMetrics)}
	if c.History != nil {
		sinks = append(sinks, c.History)
	}
	c.Reporter = status.NewAsyncReporter(sinks,
		status.WithQueueSize(b.config.Sync.ReporterQueueSize),
		status.WithReporterMetrics(reporterMetrics),
	)

	reconciler := reconcile.New(c.Documents, reconcile.WithTracer(c.Telemetry.Tracer(reconcile.TracerName)))

	engineOpts := []pkgsync.Option{
		pkgsync.WithTracer(c.Telemetry.Tracer(pkgsync.TracerName)),
		pkgsync.WithMetrics(syncMetrics),
	}
	if c.History != nil {
		engineOpts = append(engineOpts, pkgsync.WithHistory(c.History))
	}
	if logger, err := logr.FromContext(ctx); err == nil {
		engineOpts = append(engineOpts, pkgsync.WithLogger(logger))
	}

	c.Engine, err = pkgsync.New(fetcher, reconciler, c.Cursors, c.Reporter, pkgsync.NewConfig(b.config), engineOpts...)
	if err != nil {
		return err
	}
	if err := c.Engine.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted syncs: %w", err)
	}

	c.SyncCoordinator = coordinator.New(c.Engine, coordinator.SchedulesFromConfig(b.config))
	slog.Info("Sync components initialized successfully", "entities", len(b.config.Entities))
	return nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(_ context.Context, b *syncAppConfig, c *AppComponents) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// Use default middlewares if not provided
	if b.middlewares == nil {
		b.middlewares = api.DefaultMiddlewares(b.requestTimeout)
	}

	// Metrics and tracing go first so they also see requests rejected by later middleware
	metricsMiddleware, err := telemetry.MetricsMiddleware(c.Telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
	}
	b.middlewares = append([]func(http.Handler) http.Handler{
		metricsMiddleware,
		telemetry.TracingMiddleware(c.Telemetry.TracerProvider()),
	}, b.middlewares...)

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(b.middlewares...),
		api.WithCursors(c.Cursors),
		api.WithReadinessCheck(c.readiness),
	}
	if c.History != nil {
		serverOpts = append(serverOpts, api.WithHistory(c.History))
	}
	if handler := c.Telemetry.MetricsHandler(); handler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(handler))
	}
	router := api.NewServer(c.Engine, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
