package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/cursor"
	"github.com/stacklok/tmdb-sync/internal/reconcile"
	"github.com/stacklok/tmdb-sync/internal/status"
	"github.com/stacklok/tmdb-sync/internal/telemetry"
)

// TracerName names the tracer for sync runs
const TracerName = "github.com/stacklok/tmdb-sync/sync"

// StartOptions tune a single run
type StartOptions struct {
	// MaxPages overrides the configured page limit when positive
	MaxPages int
	// Reset discards the committed token (and window) and starts the sequence over
	Reset bool
}

// Orchestrator is the trigger surface of the sync engine
//
//go:generate mockgen -destination=mocks/mock_orchestrator.go -package=mocks github.com/stacklok/tmdb-sync/internal/sync Orchestrator
type Orchestrator interface {
	// StartSync begins a run in the background and returns its id
	StartSync(ctx context.Context, entity catalog.EntityType, opts StartOptions) (string, error)

	// GetStatus returns an active or finished run
	GetStatus(ctx context.Context, runID string) (*status.SyncRun, error)

	// CancelSync asks the active run of entity to stop after its current page
	CancelSync(entity catalog.EntityType) error

	// ActiveRuns returns a snapshot of every run in progress
	ActiveRuns() []status.SyncRun
}

// Reconciler writes one batch of records
type Reconciler interface {
	Reconcile(ctx context.Context, entity catalog.EntityType, records []catalog.Record) (*reconcile.Result, error)
}

// Engine is the default Orchestrator
type Engine struct {
	fetcher    catalog.Fetcher
	reconciler Reconciler
	cursors    cursor.Store
	reporter   status.Reporter
	history    status.History
	cfg        Config

	slots    *semaphore.Weighted
	finished *lru.Cache[string, status.SyncRun]

	mu       gosync.Mutex
	active   map[catalog.EntityType]*activeRun
	closing  bool
	wg       gosync.WaitGroup
	baseCtx  context.Context
	stopRuns context.CancelFunc

	now     func() time.Time
	logger  logr.Logger
	tracer  trace.Tracer
	metrics *telemetry.SyncMetrics
}

var _ Orchestrator = (*Engine)(nil)

// Option configures an Engine
type Option func(*Engine)

// WithHistory makes finished runs retrievable after they leave the in-memory history
func WithHistory(h status.History) Option {
	return func(e *Engine) {
		e.history = h
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger used when the caller's context carries none
func WithLogger(logger logr.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer enables a span per run
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithMetrics sets the sync metrics
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine. A nil reporter discards reports.
func New(
	fetcher catalog.Fetcher,
	reconciler Reconciler,
	cursors cursor.Store,
	reporter status.Reporter,
	cfg Config,
	opts ...Option,
) (*Engine, error) {
	cfg.applyDefaults()
	for entity, settings := range cfg.Entities {
		if !entity.Valid() {
			return nil, fmt.Errorf("unknown entity type %q", entity)
		}
		if (settings.Mode == status.ModeIncremental) != entity.SupportsIncremental() {
			return nil, fmt.Errorf("entity type %s does not support mode %q", entity, settings.Mode)
		}
	}

	finished, err := lru.New[string, status.SyncRun](cfg.RunHistorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create run history: %w", err)
	}
	if reporter == nil {
		reporter = status.NopReporter{}
	}

	baseCtx, stopRuns := context.WithCancel(context.Background())
	e := &Engine{
		fetcher:    fetcher,
		reconciler: reconciler,
		cursors:    cursors,
		reporter:   reporter,
		cfg:        cfg,
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		finished:   finished,
		active:     make(map[catalog.EntityType]*activeRun),
		baseCtx:    baseCtx,
		stopRuns:   stopRuns,
		now:        time.Now,
		logger:     logr.FromSlogHandler(slog.Default().Handler()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Entities returns the configured entity types in sorted order
func (e *Engine) Entities() []catalog.EntityType {
	out := make([]catalog.EntityType, 0, len(e.cfg.Entities))
	for entity := range e.cfg.Entities {
		out = append(out, entity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StartSync implements Orchestrator. The run outlives ctx; only the logger
// carried by ctx is inherited.
func (e *Engine) StartSync(ctx context.Context, entity catalog.EntityType, opts StartOptions) (string, error) {
	settings, ok := e.cfg.Entities[entity]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	if opts.MaxPages > 0 {
		settings.MaxPages = opts.MaxPages
	}

	logger, err := logr.FromContext(ctx)
	if err != nil {
		logger = e.logger
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closing {
		return "", ErrShuttingDown
	}
	if r, ok := e.active[entity]; ok {
		return "", &AlreadyRunningError{EntityType: entity, RunID: r.id}
	}

	r := newActiveRun(uuid.NewString(), entity, settings, opts.Reset, e.now().UTC())
	e.active[entity] = r
	e.wg.Add(1)

	runLogger := logger.WithValues("entity", string(entity), "run_id", r.id)
	runCtx := logr.NewContext(e.baseCtx, runLogger)
	e.reporter.Report(r.snapshot())
	e.metrics.RunStarted(runCtx, string(entity))

	go e.execute(runCtx, r)

	runLogger.Info("Sync run started", "mode", string(settings.Mode), "max_pages", settings.MaxPages)
	return r.id, nil
}

// GetStatus implements Orchestrator. Runs are looked up among the active runs,
// then the in-memory history, then the configured History.
func (e *Engine) GetStatus(ctx context.Context, runID string) (*status.SyncRun, error) {
	e.mu.Lock()
	for _, r := range e.active {
		if r.id == runID {
			e.mu.Unlock()
			run := r.snapshot()
			return &run, nil
		}
	}
	e.mu.Unlock()

	if run, ok := e.finished.Get(runID); ok {
		out := run.Clone()
		return &out, nil
	}
	if e.history != nil {
		return e.history.Get(ctx, runID)
	}
	return nil, status.ErrRunNotFound
}

// CancelSync implements Orchestrator. The run moves to Draining and completes
// once the page in flight is committed.
func (e *Engine) CancelSync(entity catalog.EntityType) error {
	e.mu.Lock()
	r, ok := e.active[entity]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, entity)
	}

	if r.requestCancel() {
		e.reporter.Report(r.snapshot())
	}
	return nil
}

// ActiveRuns implements Orchestrator
func (e *Engine) ActiveRuns() []status.SyncRun {
	e.mu.Lock()
	runs := make([]*activeRun, 0, len(e.active))
	for _, r := range e.active {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	out := make([]status.SyncRun, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out
}

// Recover marks cursors left running by a previous process as failed.
// It must be called before the first StartSync.
func (e *Engine) Recover(ctx context.Context) error {
	cursors, err := e.cursors.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cursors: %w", err)
	}

	for _, c := range cursors {
		if c.Status != cursor.StatusRunning {
			continue
		}
		e.logger.Info("Previous sync was interrupted, marking cursor failed",
			"entity", string(c.EntityType), "page", c.Page)
		c.Status = cursor.StatusFailed
		c.UpdatedAt = e.now().UTC()
		if err := e.cursors.Commit(ctx, c); err != nil {
			return fmt.Errorf("failed to reset cursor of %s: %w", c.EntityType, err)
		}
	}
	return nil
}

// Shutdown rejects new runs and asks every active run to drain. If ctx ends
// first, the remaining runs are interrupted and fail with ReasonShutdown.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	runs := make([]*activeRun, 0, len(e.active))
	for _, r := range e.active {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		if r.requestCancel() {
			e.reporter.Report(r.snapshot())
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.stopRuns()
		return nil
	case <-ctx.Done():
		e.stopRuns()
		<-done
		return ctx.Err()
	}
}

// finish moves r out of the active set into the history
func (e *Engine) finish(ctx context.Context, r *activeRun) {
	run := r.snapshot()

	e.mu.Lock()
	delete(e.active, r.entity)
	e.finished.Add(run.ID, run)
	e.mu.Unlock()

	e.reporter.Report(run)
	e.metrics.RunFinished(ctx, run.EntityType)
	e.wg.Done()
}

// activeRun is the mutable state of a run in progress
type activeRun struct {
	id       string
	entity   catalog.EntityType
	settings EntitySettings
	reset    bool

	cancelled atomic.Bool

	mu  gosync.Mutex
	run status.SyncRun
}

func newActiveRun(id string, entity catalog.EntityType, settings EntitySettings, reset bool, now time.Time) *activeRun {
	return &activeRun{
		id:       id,
		entity:   entity,
		settings: settings,
		reset:    reset,
		run: status.SyncRun{
			ID:         id,
			EntityType: string(entity),
			Mode:       settings.Mode,
			Phase:      status.PhaseRunning,
			StartedAt:  now,
		},
	}
}

// requestCancel flags the run and reports whether this call changed anything
func (r *activeRun) requestCancel() bool {
	if r.cancelled.Swap(true) {
		return false
	}
	r.update(func(run *status.SyncRun) {
		if run.Phase == status.PhaseRunning {
			run.Phase = status.PhaseDraining
		}
		run.Cancelled = true
	})
	return true
}

func (r *activeRun) cancelRequested() bool {
	return r.cancelled.Load()
}

func (r *activeRun) update(fn func(*status.SyncRun)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.run)
}

func (r *activeRun) snapshot() status.SyncRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run.Clone()
}

// errorOf extracts the Error of a failed run
func errorOf(err error) *Error {
	var syncErr *Error
	if errors.As(err, &syncErr) {
		return syncErr
	}
	return runError("sync", err)
}
