package sync_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/cursor"
	"github.com/stacklok/tmdb-sync/internal/documents"
	"github.com/stacklok/tmdb-sync/internal/reconcile"
	"github.com/stacklok/tmdb-sync/internal/status"
	pkgsync "github.com/stacklok/tmdb-sync/internal/sync"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeFetcher serves a scripted sequence of pages keyed by request token
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[catalog.Token]*catalog.Page
	errs     map[catalog.Token]error
	requests []catalog.PageRequest

	// gate, when set, holds every fetch until it is closed
	gate    chan struct{}
	started chan catalog.EntityType
}

func newFakeFetcher(pages map[catalog.Token]*catalog.Page) *fakeFetcher {
	return &fakeFetcher{
		pages:   pages,
		errs:    make(map[catalog.Token]error),
		started: make(chan catalog.EntityType, 64),
	}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, req catalog.PageRequest) (*catalog.Page, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate := f.gate
	f.mu.Unlock()

	select {
	case f.started <- req.Entity:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[req.Token]; ok {
		return nil, err
	}
	page, ok := f.pages[req.Token]
	if !ok {
		return nil, fmt.Errorf("no page for token %q", req.Token)
	}
	out := *page
	out.Entity = req.Entity
	return &out, nil
}

func (f *fakeFetcher) failOn(token catalog.Token, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[token] = err
}

func (f *fakeFetcher) tokens() []catalog.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]catalog.Token, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Token)
	}
	return out
}

func (f *fakeFetcher) lastRequest() catalog.PageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// sequence builds pages*perPage records with ids counting up from 1
func sequence(ct catalog.ContentType, pages, perPage int) map[catalog.Token]*catalog.Page {
	out := make(map[catalog.Token]*catalog.Page, pages)
	id := 1
	for n := 1; n <= pages; n++ {
		page := &catalog.Page{Number: n, TotalPages: pages, Next: catalog.NoMore{}}
		if n < pages {
			page.Next = catalog.Token(strconv.Itoa(n + 1))
		}
		for range perPage {
			page.Records = append(page.Records, catalog.Record{
				ID:          strconv.Itoa(id),
				ContentType: ct,
				Payload:     []byte(fmt.Sprintf(`{"id":%d,"title":"Title %d","name":"Title %d"}`, id, id, id)),
			})
			id++
		}
		token := catalog.Token("")
		if n > 1 {
			token = catalog.Token(strconv.Itoa(n))
		}
		out[token] = page
	}
	return out
}

// flakyDocuments fails every upsert of one upstream id
type flakyDocuments struct {
	*documents.MemoryStore
	failID string
	err    error
}

func (f *flakyDocuments) Upsert(ctx context.Context, doc *documents.Document) (bool, error) {
	if doc.UpstreamID == f.failID {
		return false, f.err
	}
	return f.MemoryStore.Upsert(ctx, doc)
}

// batchRecorder notes the size of every batch it reconciles
type batchRecorder struct {
	*reconcile.Reconciler

	mu    sync.Mutex
	sizes []int
}

func (b *batchRecorder) Reconcile(ctx context.Context, entity catalog.EntityType, records []catalog.Record) (*reconcile.Result, error) {
	b.mu.Lock()
	b.sizes = append(b.sizes, len(records))
	b.mu.Unlock()
	return b.Reconciler.Reconcile(ctx, entity, records)
}

func (b *batchRecorder) batches() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.sizes...)
}

// recordingReporter keeps every report
type recordingReporter struct {
	mu   sync.Mutex
	runs []status.SyncRun
}

func (r *recordingReporter) Report(run status.SyncRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
}

func (r *recordingReporter) phases(id string) []status.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []status.Phase
	for _, run := range r.runs {
		if run.ID == id && (len(out) == 0 || out[len(out)-1] != run.Phase) {
			out = append(out, run.Phase)
		}
	}
	return out
}

type harness struct {
	clockMu sync.Mutex
	now     time.Time

	engine     *pkgsync.Engine
	reconciler *batchRecorder
	fetcher    *fakeFetcher
	docs       documents.Store
	cursors    *cursor.MemoryStore
	reporter   *recordingReporter
}

func entities(pairs ...any) map[catalog.EntityType]pkgsync.EntitySettings {
	out := make(map[catalog.EntityType]pkgsync.EntitySettings)
	for i := 0; i < len(pairs); i += 2 {
		out[pairs[i].(catalog.EntityType)] = pairs[i+1].(pkgsync.EntitySettings)
	}
	return out
}

func newHarness(t *testing.T, fetcher *fakeFetcher, docs documents.Store, cfg pkgsync.Config) *harness {
	t.Helper()
	if docs == nil {
		docs = documents.NewMemoryStore()
	}
	if cfg.Entities == nil {
		cfg.Entities = entities(catalog.MoviePopular, pkgsync.EntitySettings{Mode: status.ModeFull})
	}
	if cfg.MaxConcurrentRuns == 0 {
		cfg.MaxConcurrentRuns = 4
	}
	if cfg.IncrementalOverlap == 0 {
		cfg.IncrementalOverlap = 24 * time.Hour
	}

	h := &harness{
		fetcher:  fetcher,
		docs:     docs,
		cursors:  cursor.NewMemoryStore(),
		reporter: &recordingReporter{},
		now:      fixedNow,
	}
	clock := h.clock
	h.reconciler = &batchRecorder{Reconciler: reconcile.New(docs, reconcile.WithClock(clock))}
	engine, err := pkgsync.New(
		fetcher,
		h.reconciler,
		h.cursors,
		h.reporter,
		cfg,
		pkgsync.WithClock(clock),
	)
	require.NoError(t, err)
	h.engine = engine
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})
	return h
}

func (h *harness) clock() time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	h.now = h.now.Add(d)
}

// run starts a sync of entity and waits until it has left the active set
func (h *harness) run(t *testing.T, entity catalog.EntityType, opts pkgsync.StartOptions) status.SyncRun {
	t.Helper()
	id, err := h.engine.StartSync(context.Background(), entity, opts)
	require.NoError(t, err)
	return h.wait(t, id)
}

func (h *harness) wait(t *testing.T, id string) status.SyncRun {
	t.Helper()
	var run *status.SyncRun
	require.Eventually(t, func() bool {
		for _, active := range h.engine.ActiveRuns() {
			if active.ID == id {
				return false
			}
		}
		var err error
		run, err = h.engine.GetStatus(context.Background(), id)
		return err == nil && run.Phase.Terminal()
	}, 5*time.Second, 2*time.Millisecond)
	return *run
}

func (h *harness) cursor(t *testing.T, entity catalog.EntityType) *cursor.Cursor {
	t.Helper()
	c, err := h.cursors.Get(context.Background(), entity)
	require.NoError(t, err)
	return c
}
