// Package reconcile turns upstream catalog records into document writes,
// skipping records whose stored version already matches.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/documents"
	"github.com/stacklok/tmdb-sync/internal/otel"
)

// TracerName is the instrumentation scope of reconcile spans
const TracerName = "github.com/stacklok/tmdb-sync/reconcile"

// Reason explains why a record was not written
type Reason string

const (
	// ReasonUnchanged means the stored source version already matches
	ReasonUnchanged Reason = "unchanged"
	// ReasonSuperseded means a later record in the same batch had the same id
	ReasonSuperseded Reason = "superseded"
	// ReasonMalformed means the record could not be normalized
	ReasonMalformed Reason = "malformed"
	// ReasonPersistenceError means the store rejected this document
	ReasonPersistenceError Reason = "persistence_error"
)

// Failed reports whether records skipped for r count as failures
func (r Reason) Failed() bool {
	return r == ReasonMalformed || r == ReasonPersistenceError
}

// Skip is one record of a batch that produced no write
type Skip struct {
	// ID is the upstream id
	ID     string
	Reason Reason
	Err    error
}

// Result describes the outcome of one batch
type Result struct {
	// Upserts are the documents written, in write order
	Upserts  []documents.Document
	Skipped  []Skip
	Inserted int
	Updated  int
}

// Failed counts skips that are failures
func (r *Result) Failed() int {
	n := 0
	for _, s := range r.Skipped {
		if s.Reason.Failed() {
			n++
		}
	}
	return n
}

// Reconciler writes batches of records to a document store
type Reconciler struct {
	store  documents.Store
	now    func() time.Time
	tracer trace.Tracer
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithClock sets the time source for synced_at and created_at
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithTracer sets the tracer for batch spans
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Reconciler) {
		r.tracer = tracer
	}
}

// New creates a Reconciler writing to store
func New(store documents.Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile writes every new or changed record of the batch with one upsert
// per document. Failures of a single document are reported in Skipped.
// An error is returned only when the store as a whole is unavailable, along
// with the result of the records processed before the failure.
func (r *Reconciler) Reconcile(ctx context.Context, entity catalog.EntityType, records []catalog.Record) (*Result, error) {
	ctx, span := otel.StartSpan(ctx, r.tracer, "reconcile.Batch",
		trace.WithAttributes(
			otel.AttrEntityType.String(string(entity)),
			attribute.Int("reconcile.records", len(records)),
		),
	)
	defer span.End()

	result := &Result{}
	last := make(map[string]int, len(records))
	for i, rec := range records {
		last[rec.ID] = i
	}

	for i, rec := range records {
		if last[rec.ID] != i {
			result.Skipped = append(result.Skipped, Skip{ID: rec.ID, Reason: ReasonSuperseded})
			continue
		}
		if err := r.reconcileOne(ctx, entity, rec, result); err != nil {
			otel.RecordError(span, err)
			return result, err
		}
	}

	span.SetAttributes(
		attribute.Int("reconcile.inserted", result.Inserted),
		attribute.Int("reconcile.updated", result.Updated),
		attribute.Int("reconcile.skipped", len(result.Skipped)),
	)
	return result, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, entity catalog.EntityType, rec catalog.Record, result *Result) error {
	doc, err := Normalize(entity, rec)
	if err != nil {
		result.Skipped = append(result.Skipped, Skip{ID: rec.ID, Reason: ReasonMalformed, Err: err})
		return nil
	}

	stored, exists, err := r.store.Version(ctx, doc.ID)
	if err != nil {
		if errors.Is(err, documents.ErrUnavailable) {
			return fmt.Errorf("reading version of %s %s: %w", rec.ContentType, rec.ID, err)
		}
		result.Skipped = append(result.Skipped, Skip{ID: rec.ID, Reason: ReasonPersistenceError, Err: err})
		return nil
	}
	if exists && stored == doc.SourceVersion {
		result.Skipped = append(result.Skipped, Skip{ID: rec.ID, Reason: ReasonUnchanged})
		return nil
	}

	now := r.now().UTC()
	doc.SyncedAt = now
	doc.CreatedAt = now

	inserted, err := r.store.Upsert(ctx, doc)
	if err != nil {
		if errors.Is(err, documents.ErrUnavailable) {
			return fmt.Errorf("writing %s %s: %w", rec.ContentType, rec.ID, err)
		}
		result.Skipped = append(result.Skipped, Skip{ID: rec.ID, Reason: ReasonPersistenceError, Err: err})
		return nil
	}

	if inserted {
		result.Inserted++
	} else {
		result.Updated++
	}
	result.Upserts = append(result.Upserts, *doc)
	return nil
}
