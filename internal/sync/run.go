package sync

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/cursor"
	"github.com/stacklok/tmdb-sync/internal/otel"
	"github.com/stacklok/tmdb-sync/internal/reconcile"
	"github.com/stacklok/tmdb-sync/internal/status"
)

// failureCommitTimeout bounds the commit that marks a cursor failed, which
// may run after the run context has expired
const failureCommitTimeout = 10 * time.Second

// window is the "updated since" range of an incremental run
type window struct {
	start time.Time
	end   time.Time
}

// execute runs r to a terminal phase. It owns r until finish is called.
func (e *Engine) execute(ctx context.Context, r *activeRun) {
	logger := logr.FromContextOrDiscard(ctx)

	ctx, span := otel.StartSpan(ctx, e.tracer, "sync.Run",
		trace.WithAttributes(
			otel.AttrEntityType.String(string(r.entity)),
			otel.AttrRunID.String(r.id),
			otel.AttrSyncMode.String(string(r.settings.Mode)),
		))
	defer span.End()

	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}

	err := e.walk(ctx, r)
	endedAt := e.now().UTC()
	if err != nil {
		syncErr := errorOf(err)
		otel.RecordError(span, syncErr)
		r.update(func(run *status.SyncRun) { run.Finish(status.PhaseFailed, endedAt, syncErr) })
		logger.Error(syncErr.Err, "Sync run failed", "reason", syncErr.Reason)
	} else {
		r.update(func(run *status.SyncRun) { run.Finish(status.PhaseCompleted, endedAt, nil) })
		run := r.snapshot()
		span.SetAttributes(
			attribute.Int("sync.pages", run.Pages),
			attribute.Int("sync.upserted", run.Upserted),
			attribute.Bool("sync.cancelled", run.Cancelled),
		)
		logger.Info("Sync run completed",
			"pages", run.Pages,
			"upserted", run.Upserted,
			"skipped", run.Skipped,
			"failed", run.Failed,
			"cancelled", run.Cancelled,
			"duration", run.Duration().String())
	}

	e.finish(ctx, r)
}

// walk pulls pages until the sequence is exhausted, the run is cancelled or
// the page limit is reached. The cursor is committed once per page, after the
// page was persisted. On error the cursor is left as last committed, with
// Status failed.
func (e *Engine) walk(ctx context.Context, r *activeRun) error {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return runError("wait for a worker slot", err)
	}
	defer e.slots.Release(1)

	committed, err := e.cursors.Get(ctx, r.entity)
	if err != nil {
		return runError("read cursor", err)
	}
	if r.reset {
		committed.Token = ""
		committed.Page = 0
		committed.WindowStart = time.Time{}
		committed.WindowEnd = time.Time{}
	}

	win := e.window(ctx, r, committed)
	if r.settings.Mode == status.ModeIncremental {
		// page tokens are only meaningful within the window they were issued for
		committed.WindowStart = win.start
		committed.WindowEnd = win.end
	}

	committed.Status = cursor.StatusRunning
	committed.UpdatedAt = e.now().UTC()
	if err := e.cursors.Commit(ctx, committed); err != nil {
		return runError("mark cursor running", err)
	}

	token := committed.NextToken()
	pages := 0
	for {
		if r.cancelRequested() {
			break
		}
		if r.settings.MaxPages > 0 && pages >= r.settings.MaxPages {
			break
		}
		if err := ctx.Err(); err != nil {
			e.markFailed(ctx, committed)
			return runError("run interrupted", err)
		}

		next, exhausted, err := e.step(ctx, r, committed, token, win)
		if err != nil {
			e.markFailed(ctx, committed)
			return err
		}
		committed = next
		pages++
		if exhausted {
			return nil
		}
		token = committed.NextToken()
	}

	// stopped early: keep the token so the next run resumes at the following page
	committed.Status = cursor.StatusIdle
	committed.UpdatedAt = e.now().UTC()
	if err := e.cursors.Commit(ctx, committed); err != nil {
		return runError("release cursor", err)
	}
	return nil
}

// step fetches, persists and commits one page. It returns the committed
// cursor and whether the sequence is exhausted.
func (e *Engine) step(
	ctx context.Context,
	r *activeRun,
	committed *cursor.Cursor,
	token catalog.Token,
	win window,
) (*cursor.Cursor, bool, error) {
	logger := logr.FromContextOrDiscard(ctx)

	page, err := e.fetcher.FetchPage(ctx, catalog.PageRequest{
		Entity:       r.entity,
		Token:        token,
		UpdatedSince: win.start,
		UpdatedUntil: win.end,
	})
	if err != nil {
		return nil, false, runError(fmt.Sprintf("fetch page %s", describeToken(token)), err)
	}

	result, err := e.reconcilePage(ctx, r.entity, page.Records)
	e.record(r, page, result)
	if err != nil {
		return nil, false, runError(fmt.Sprintf("persist page %d", page.Number), err)
	}

	now := e.now().UTC()
	next := *committed
	next.Page = page.Number
	next.Inserted += int64(result.Inserted)
	next.Updated += int64(result.Updated)
	next.LastCommitted = now
	next.UpdatedAt = now

	exhausted := false
	switch t := page.Next.(type) {
	case catalog.Token:
		next.Token = string(t)
	case catalog.NoMore:
		exhausted = true
		next.Token = ""
		next.Status = cursor.StatusIdle
		if r.settings.Mode == status.ModeIncremental {
			next.WindowStart = win.end.Add(-e.cfg.IncrementalOverlap)
			next.WindowEnd = time.Time{}
		} else {
			next.Page = 0
		}
	default:
		return nil, false, runError("advance cursor", fmt.Errorf("unexpected page token %T", page.Next))
	}

	if err := e.cursors.Commit(ctx, &next); err != nil {
		return nil, false, runError(fmt.Sprintf("commit page %d", page.Number), err)
	}

	r.update(func(run *status.SyncRun) { run.Pages++ })
	e.metrics.RecordPage(ctx, string(r.entity))
	e.reporter.Report(r.snapshot())
	logger.V(1).Info("Page committed",
		"page", page.Number,
		"total_pages", page.TotalPages,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"rate_limit_remaining", page.RateLimit.Remaining)

	return &next, exhausted, nil
}

// reconcilePage hands the records of one page to the reconciler in fetch
// order, at most BatchSize at a time. It stops at the first batch error; the
// result then covers the batches reconciled so far.
func (e *Engine) reconcilePage(ctx context.Context, entity catalog.EntityType, records []catalog.Record) (*reconcile.Result, error) {
	total := &reconcile.Result{}
	for batch := range slices.Chunk(records, e.cfg.BatchSize) {
		result, err := e.reconciler.Reconcile(ctx, entity, batch)
		if result != nil {
			total.Upserts = append(total.Upserts, result.Upserts...)
			total.Skipped = append(total.Skipped, result.Skipped...)
			total.Inserted += result.Inserted
			total.Updated += result.Updated
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// record adds the outcome of a page to the run
func (e *Engine) record(r *activeRun, page *catalog.Page, result *reconcile.Result) {
	failed := result.Failed() + len(page.Failed)
	skipped := len(result.Skipped) - result.Failed()
	seen := len(page.Records) + len(page.Failed)

	r.update(func(run *status.SyncRun) {
		run.AddCounts(seen, result.Inserted, result.Updated, skipped, failed)
		for _, f := range page.Failed {
			run.AddError(f.Error())
		}
		for _, s := range result.Skipped {
			if s.Reason.Failed() {
				run.AddError(fmt.Sprintf("record %s: %s: %v", s.ID, s.Reason, s.Err))
			}
		}
	})
}

// window computes the range of an incremental run. A run resuming at a page
// token keeps the window the token was issued for. A new window ends now and
// starts no earlier than the changes feed retains.
func (e *Engine) window(ctx context.Context, r *activeRun, c *cursor.Cursor) window {
	if r.settings.Mode != status.ModeIncremental {
		return window{}
	}
	if c.Token != "" && !c.WindowEnd.IsZero() {
		return window{start: c.WindowStart, end: c.WindowEnd}
	}
	end := e.now().UTC()
	earliest := end.Add(-catalog.MaxChangesWindow)
	start := c.WindowStart
	if start.Before(earliest) {
		if !start.IsZero() {
			logr.FromContextOrDiscard(ctx).Info("Incremental window clamped to the changes feed retention",
				"window_start", start, "clamped_to", earliest)
		}
		start = earliest
	}
	return window{start: start, end: end}
}

// markFailed commits the last good cursor with Status failed. The commit
// outlives the run context so that a timed out run is still recorded.
func (e *Engine) markFailed(ctx context.Context, c *cursor.Cursor) {
	failed := *c
	failed.Status = cursor.StatusFailed
	failed.UpdatedAt = e.now().UTC()

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureCommitTimeout)
	defer cancel()
	if err := e.cursors.Commit(commitCtx, &failed); err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "Failed to mark cursor failed")
	}
}

func describeToken(t catalog.Token) string {
	if t == "" {
		return "1"
	}
	return string(t)
}
