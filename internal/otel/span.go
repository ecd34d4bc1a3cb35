// Package otel provides OpenTelemetry span helpers shared by the sync engine.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by the catalog, reconcile and sync spans
const (
	AttrEntityType  = attribute.Key("sync.entity_type")
	AttrRunID       = attribute.Key("sync.run_id")
	AttrSyncMode    = attribute.Key("sync.mode")
	AttrPageNumber  = attribute.Key("catalog.page")
	AttrResultCount = attribute.Key("result.count")
	AttrFailedCount = attribute.Key("result.failed_count")
	AttrErrorType   = attribute.Key("error.type")
)

// StartSpan starts a span on tracer. A nil tracer returns the span already in
// ctx, which is a no-op span unless the caller is traced.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span failed. The status
// description is one of a few fixed classes so that upstream URLs and
// database errors stay out of it. The full error lands in the exception event.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(AttrErrorType.String(errorType(err)))
	span.SetStatus(codes.Error, statusDescription(err))
}

func statusDescription(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline exceeded"
	default:
		return "operation failed"
	}
}

// errorType names the first error in the chain that is not an fmt wrapper
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		if t := fmt.Sprintf("%T", err); t != "*fmt.wrapError" && t != "*fmt.wrapErrors" {
			return t
		}
		err = next
	}
}
