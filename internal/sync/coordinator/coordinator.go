package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	pkgsync "github.com/stacklok/tmdb-sync/internal/sync"
)

// Coordinator manages background sync scheduling for the configured entity types
type Coordinator interface {
	// Start begins one scheduling loop per entity type.
	// Blocks until the context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator and all scheduling loops
	Stop() error
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	orchestrator pkgsync.Orchestrator
	schedules    []Schedule
	rnd          func() float64

	// Lifecycle management
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithRand overrides the jitter source. rnd must return values in [0, 1).
func WithRand(rnd func() float64) Option {
	return func(c *defaultCoordinator) {
		c.rnd = rnd
	}
}

// New creates a new coordinator
func New(orchestrator pkgsync.Orchestrator, schedules []Schedule, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		orchestrator: orchestrator,
		schedules:    schedules,
		rnd:          defaultRand,
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start begins background sync coordination for all scheduled entity types
func (c *defaultCoordinator) Start(ctx context.Context) error {
	slog.Info("Starting background sync coordinator", "schedule_count", len(c.schedules))

	coordCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		close(c.done)
		slog.Info("Background sync coordinator shutting down")
	}()

	var wg sync.WaitGroup
	for _, s := range c.schedules {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.loop(coordCtx, s)
		}()
	}

	<-coordCtx.Done()
	wg.Wait()
	slog.Info("Sync coordinator stopping")
	return nil
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	cancel := c.cancelFunc
	c.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping sync coordinator")
		cancel()
		// Wait for coordinator to finish
		<-c.done
	}
	return nil
}

// loop triggers s immediately and then on every jittered interval
func (c *defaultCoordinator) loop(ctx context.Context, s Schedule) {
	slog.Info("Configured entity sync interval", "entity", s.Entity, "interval", s.Interval)

	timer := time.NewTimer(jitteredInterval(s.Interval, c.rnd))
	defer timer.Stop()

	c.trigger(ctx, s)
	for {
		select {
		case <-timer.C:
			c.trigger(ctx, s)
			timer.Reset(jitteredInterval(s.Interval, c.rnd))
		case <-ctx.Done():
			return
		}
	}
}

// trigger starts a scheduled run, skipping entity types that are already running
func (c *defaultCoordinator) trigger(ctx context.Context, s Schedule) {
	runID, err := c.orchestrator.StartSync(ctx, s.Entity, pkgsync.StartOptions{})
	switch {
	case err == nil:
		slog.Info("Scheduled sync started", "entity", s.Entity, "run_id", runID)
	case pkgsync.IsAlreadyRunning(err):
		slog.Debug("Entity is already syncing, skipping scheduled run", "entity", s.Entity)
	case errors.Is(err, pkgsync.ErrShuttingDown):
		slog.Debug("Orchestrator shutting down, skipping scheduled run", "entity", s.Entity)
	default:
		slog.Error("Error starting scheduled sync", "entity", s.Entity, "error", err)
	}
}
