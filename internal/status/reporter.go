package status

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacklok/tmdb-sync/internal/telemetry"
)

const (
	// DefaultQueueSize is the number of reports buffered before new ones are dropped
	DefaultQueueSize = 256

	// DefaultPublishTimeout bounds a single sink publish
	DefaultPublishTimeout = 5 * time.Second
)

// Reporter accepts run snapshots. Report never blocks and never fails.
//
//go:generate mockgen -destination=mocks/mock_reporter.go -package=mocks github.com/stacklok/tmdb-sync/internal/status Reporter,Sink,History
type Reporter interface {
	Report(run SyncRun)
}

// Sink receives the runs accepted by an AsyncReporter
type Sink interface {
	Name() string
	Publish(ctx context.Context, run SyncRun) error
}

// History is a sink that can read back what it stored
type History interface {
	Sink
	// Get returns the stored run with the given id or ErrRunNotFound
	Get(ctx context.Context, id string) (*SyncRun, error)
	// Latest returns the most recent run of every entity type
	Latest(ctx context.Context) ([]SyncRun, error)
}

// NopReporter discards every report
type NopReporter struct{}

// Report implements Reporter
func (NopReporter) Report(SyncRun) {}

// AsyncReporter queues reports and fans them out to sinks from one goroutine.
// Sink failures are logged. Progress reports arriving while the queue is full
// are dropped and counted; terminal reports are set aside and published after
// the queued ones, so sinks always see how a run ended.
type AsyncReporter struct {
	queue   chan SyncRun
	wake    chan struct{}
	sinks   []Sink
	timeout time.Duration
	metrics *telemetry.ReporterMetrics

	pendingMu sync.Mutex
	pending   []SyncRun

	dropped  atomic.Int64
	stopped  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var _ Reporter = (*AsyncReporter)(nil)

// ReporterOption configures an AsyncReporter
type ReporterOption func(*AsyncReporter)

// WithQueueSize sets the report buffer size
func WithQueueSize(n int) ReporterOption {
	return func(r *AsyncReporter) {
		if n > 0 {
			r.queue = make(chan SyncRun, n)
		}
	}
}

// WithPublishTimeout bounds every sink publish
func WithPublishTimeout(d time.Duration) ReporterOption {
	return func(r *AsyncReporter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithReporterMetrics counts dropped reports
func WithReporterMetrics(m *telemetry.ReporterMetrics) ReporterOption {
	return func(r *AsyncReporter) {
		r.metrics = m
	}
}

// NewAsyncReporter starts a reporter publishing to sinks
func NewAsyncReporter(sinks []Sink, opts ...ReporterOption) *AsyncReporter {
	r := &AsyncReporter{
		queue:   make(chan SyncRun, DefaultQueueSize),
		wake:    make(chan struct{}, 1),
		sinks:   sinks,
		timeout: DefaultPublishTimeout,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

// Report implements Reporter
func (r *AsyncReporter) Report(run SyncRun) {
	if r.stopped.Load() {
		r.drop()
		return
	}
	select {
	case r.queue <- run.Clone():
	default:
		if !run.Phase.Terminal() {
			r.drop()
			return
		}
		r.pendingMu.Lock()
		r.pending = append(r.pending, run.Clone())
		r.pendingMu.Unlock()
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

func (r *AsyncReporter) drop() {
	r.dropped.Add(1)
	r.metrics.RecordDropped(context.Background())
}

// Dropped returns the number of reports that never reached the sinks
func (r *AsyncReporter) Dropped() int64 {
	return r.dropped.Load()
}

// Close publishes the reports already queued and stops the reporter.
// It returns early with ctx.Err() if ctx ends first.
func (r *AsyncReporter) Close(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.stop)
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncReporter) loop() {
	defer close(r.done)
	for {
		select {
		case run := <-r.queue:
			r.publish(run)
		case <-r.wake:
			r.flush()
		case <-r.stop:
			r.flush()
			return
		}
	}
}

// flush publishes everything queued, then the terminal reports set aside
// while the queue was full
func (r *AsyncReporter) flush() {
	for drained := false; !drained; {
		select {
		case run := <-r.queue:
			r.publish(run)
		default:
			drained = true
		}
	}

	r.pendingMu.Lock()
	pending := r.pending
	r.pending = nil
	r.pendingMu.Unlock()
	for _, run := range pending {
		r.publish(run)
	}
}

func (r *AsyncReporter) publish(run SyncRun) {
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := sink.Publish(ctx, run); err != nil {
			slog.Warn("Status sink failed",
				"sink", sink.Name(),
				"run_id", run.ID,
				"entity_type", run.EntityType,
				"error", err)
		}
		cancel()
	}
}
