package status

import (
	"context"
	"log/slog"

	"github.com/stacklok/tmdb-sync/internal/telemetry"
)

// LogSink writes run transitions to a structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging through logger, or slog.Default when nil
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Name implements Sink
func (*LogSink) Name() string { return "log" }

// Publish implements Sink. Progress is logged at debug, outcomes at info or warn.
func (s *LogSink) Publish(ctx context.Context, run SyncRun) error {
	attrs := []any{
		"run_id", run.ID,
		"entity_type", run.EntityType,
		"mode", run.Mode,
		"phase", run.Phase,
		"pages", run.Pages,
		"seen", run.Seen,
		"upserted", run.Upserted,
		"skipped", run.Skipped,
		"failed", run.Failed,
	}

	switch run.Phase {
	case PhaseFailed:
		s.logger.WarnContext(ctx, "Sync run failed", append(attrs, "duration", run.Duration(), "error", run.Error)...)
	case PhaseCompleted:
		s.logger.InfoContext(ctx, "Sync run completed",
			append(attrs, "duration", run.Duration(), "cancelled", run.Cancelled)...)
	default:
		s.logger.DebugContext(ctx, "Sync run progress", attrs...)
	}
	return nil
}

// MetricsSink records the totals of finished runs
type MetricsSink struct {
	metrics *telemetry.SyncMetrics
}

// NewMetricsSink creates a sink recording to metrics. A nil metrics records nothing.
func NewMetricsSink(metrics *telemetry.SyncMetrics) *MetricsSink {
	return &MetricsSink{metrics: metrics}
}

// Name implements Sink
func (*MetricsSink) Name() string { return "metrics" }

// Publish implements Sink. Only terminal phases are recorded.
func (s *MetricsSink) Publish(ctx context.Context, run SyncRun) error {
	if !run.Phase.Terminal() {
		return nil
	}
	s.metrics.RecordRunDuration(ctx, run.EntityType, run.Duration(), string(run.Phase))
	s.metrics.RecordRecords(ctx, run.EntityType, telemetry.OutcomeInserted, run.Inserted)
	s.metrics.RecordRecords(ctx, run.EntityType, telemetry.OutcomeUpdated, run.Updated)
	s.metrics.RecordRecords(ctx, run.EntityType, telemetry.OutcomeSkipped, run.Skipped)
	s.metrics.RecordRecords(ctx, run.EntityType, telemetry.OutcomeFailed, run.Failed)
	return nil
}
