// Package app provides application lifecycle management for the sync service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/config"
	"github.com/stacklok/tmdb-sync/internal/status"
	pkgsync "github.com/stacklok/tmdb-sync/internal/sync"
)

// runPollInterval is how often RunOnce checks whether its run has finished
const runPollInterval = 200 * time.Millisecond

// SyncApp encapsulates all components needed to run the sync service.
// It provides lifecycle management and graceful shutdown capabilities.
type SyncApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start runs the scheduler and the HTTP server.
// It blocks until either stops, returning the first error.
func (app *SyncApp) Start() error {
	g, ctx := errgroup.WithContext(app.ctx)

	g.Go(func() error {
		if err := app.components.SyncCoordinator.Start(ctx); err != nil {
			return fmt.Errorf("sync coordinator failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("Server listening", "address", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	// a failed listener must also end the scheduler, and the reverse
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultWriteTimeout)
		defer cancel()
		_ = app.httpServer.Shutdown(shutdownCtx)
		return nil
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout.
// Scheduling stops first, then active runs drain (committing their in-flight
// page), then the HTTP server and the storage backends shut down.
func (app *SyncApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.components.SyncCoordinator.Stop(); err != nil {
		slog.Error("Failed to stop sync coordinator", "error", err)
	}

	var errs []error
	if err := app.components.Engine.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("sync runs interrupted: %w", err))
	}

	if app.httpServer != nil {
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
		}
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}
	app.components.release(shutdownCtx)

	slog.Info("Server shutdown complete")
	return errors.Join(errs...)
}

// RunOnce runs a single sync of entity without starting the scheduler or the
// HTTP server, and returns the run once it is terminal
func (app *SyncApp) RunOnce(ctx context.Context, entity catalog.EntityType, opts pkgsync.StartOptions) (*status.SyncRun, error) {
	engine := app.components.Engine
	runID, err := engine.StartSync(ctx, entity, opts)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(runPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := engine.CancelSync(entity); err != nil && !errors.Is(err, pkgsync.ErrNotRunning) {
				return nil, err
			}
			// wait for the in-flight page to be committed
			ctx = context.WithoutCancel(ctx)
		case <-ticker.C:
		}

		run, err := engine.GetStatus(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Phase.Terminal() && !app.isActive(runID) {
			return run, nil
		}
	}
}

func (app *SyncApp) isActive(runID string) bool {
	for _, run := range app.components.Engine.ActiveRuns() {
		if run.ID == runID {
			return true
		}
	}
	return false
}

// GetConfig returns the application configuration
func (app *SyncApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *SyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Orchestrator returns the sync engine
func (app *SyncApp) Orchestrator() pkgsync.Orchestrator {
	return app.components.Engine
}

// readiness reports whether the document and cursor stores answer
func (c *AppComponents) readiness(ctx context.Context) error {
	if err := c.Documents.Ping(ctx); err != nil {
		return fmt.Errorf("documents store: %w", err)
	}
	if _, err := c.Cursors.List(ctx); err != nil {
		return fmt.Errorf("cursor store: %w", err)
	}
	return nil
}

// release flushes pending reports and closes telemetry and storage.
// Components that were never built are skipped.
func (c *AppComponents) release(ctx context.Context) {
	if c.Reporter != nil {
		if err := c.Reporter.Close(ctx); err != nil {
			slog.Warn("Run reports were not fully flushed", "error", err)
		}
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}
	if c.Storage != nil {
		c.Storage.Cleanup()
	}
}
