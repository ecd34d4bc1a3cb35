package telemetry

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync run meter
	SyncMetricsMeterName = "github.com/stacklok/tmdb-sync/sync"

	// CatalogMetricsMeterName is the name used for the upstream catalog meter
	CatalogMetricsMeterName = "github.com/stacklok/tmdb-sync/catalog"

	// ReporterMetricsMeterName is the name used for the status reporter meter
	ReporterMetricsMeterName = "github.com/stacklok/tmdb-sync/status"
)

// Record outcomes used as the "outcome" attribute of tmdb_sync_records_total
const (
	OutcomeInserted = "inserted"
	OutcomeUpdated  = "updated"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// SyncMetrics holds the instruments describing sync runs
type SyncMetrics struct {
	runDuration metric.Float64Histogram
	records     metric.Int64Counter
	pages       metric.Int64Counter
	activeRuns  metric.Int64UpDownCounter
}

// NewSyncMetrics creates sync run instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	runDuration, err := meter.Float64Histogram(
		"tmdb_sync_run_duration_seconds",
		metric.WithDescription("Duration of sync runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200),
	)
	if err != nil {
		return nil, err
	}

	records, err := meter.Int64Counter(
		"tmdb_sync_records_total",
		metric.WithDescription("Records processed by sync runs, by outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	pages, err := meter.Int64Counter(
		"tmdb_sync_pages_total",
		metric.WithDescription("Pages committed by sync runs"),
		metric.WithUnit("{page}"),
	)
	if err != nil {
		return nil, err
	}

	activeRuns, err := meter.Int64UpDownCounter(
		"tmdb_sync_active_runs",
		metric.WithDescription("Number of sync runs in progress"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		runDuration: runDuration,
		records:     records,
		pages:       pages,
		activeRuns:  activeRuns,
	}, nil
}

// RecordRunDuration records a finished run with its terminal phase
func (m *SyncMetrics) RecordRunDuration(ctx context.Context, entityType string, duration time.Duration, phase string) {
	if m == nil || m.runDuration == nil {
		return
	}
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("entity_type", entityType),
		attribute.String("phase", phase),
	))
}

// RecordRecords adds n records with the given outcome
func (m *SyncMetrics) RecordRecords(ctx context.Context, entityType, outcome string, n int) {
	if m == nil || m.records == nil || n <= 0 {
		return
	}
	m.records.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("entity_type", entityType),
		attribute.String("outcome", outcome),
	))
}

// RecordPage counts one committed page
func (m *SyncMetrics) RecordPage(ctx context.Context, entityType string) {
	if m == nil || m.pages == nil {
		return
	}
	m.pages.Add(ctx, 1, metric.WithAttributes(attribute.String("entity_type", entityType)))
}

// RunStarted increments the active run gauge
func (m *SyncMetrics) RunStarted(ctx context.Context, entityType string) {
	if m == nil || m.activeRuns == nil {
		return
	}
	m.activeRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("entity_type", entityType)))
}

// RunFinished decrements the active run gauge
func (m *SyncMetrics) RunFinished(ctx context.Context, entityType string) {
	if m == nil || m.activeRuns == nil {
		return
	}
	m.activeRuns.Add(ctx, -1, metric.WithAttributes(attribute.String("entity_type", entityType)))
}

// CatalogMetrics holds the instruments describing upstream traffic
type CatalogMetrics struct {
	requestDuration metric.Float64Histogram
	retries         metric.Int64Counter
	rateLimitWait   metric.Float64Histogram
}

// NewCatalogMetrics creates upstream instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewCatalogMetrics(provider metric.MeterProvider) (*CatalogMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CatalogMetricsMeterName)

	requestDuration, err := meter.Float64Histogram(
		"tmdb_sync_catalog_request_duration_seconds",
		metric.WithDescription("Duration of upstream catalog requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"tmdb_sync_catalog_retries_total",
		metric.WithDescription("Retried upstream catalog requests"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	rateLimitWait, err := meter.Float64Histogram(
		"tmdb_sync_catalog_rate_limit_wait_seconds",
		metric.WithDescription("Time spent suspended on the rate-limit budget"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	return &CatalogMetrics{
		requestDuration: requestDuration,
		retries:         retries,
		rateLimitWait:   rateLimitWait,
	}, nil
}

// RecordRequest records one upstream attempt. statusCode is 0 for transport errors.
func (m *CatalogMetrics) RecordRequest(ctx context.Context, entityType string, statusCode int, duration time.Duration) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("entity_type", entityType),
		attribute.String("status_code", strconv.Itoa(statusCode)),
	))
}

// RecordRetry counts one retry caused by statusCode
func (m *CatalogMetrics) RecordRetry(ctx context.Context, entityType string, statusCode int) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity_type", entityType),
		attribute.String("status_code", strconv.Itoa(statusCode)),
	))
}

// RecordRateLimitWait records a budget suspension. Zero waits are ignored.
func (m *CatalogMetrics) RecordRateLimitWait(ctx context.Context, entityType string, wait time.Duration) {
	if m == nil || m.rateLimitWait == nil || wait <= 0 {
		return
	}
	m.rateLimitWait.Record(ctx, wait.Seconds(), metric.WithAttributes(
		attribute.String("entity_type", entityType),
	))
}

// ReporterMetrics counts status reports that never reached the sinks
type ReporterMetrics struct {
	dropped metric.Int64Counter
}

// NewReporterMetrics creates reporter instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewReporterMetrics(provider metric.MeterProvider) (*ReporterMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	dropped, err := provider.Meter(ReporterMetricsMeterName).Int64Counter(
		"tmdb_sync_status_reports_dropped_total",
		metric.WithDescription("Status reports dropped because the reporter queue was full"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return nil, err
	}
	return &ReporterMetrics{dropped: dropped}, nil
}

// RecordDropped counts one dropped report
func (m *ReporterMetrics) RecordDropped(ctx context.Context) {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Add(ctx, 1)
}
