package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/tmdb-sync/internal/httpclient"
	"github.com/stacklok/tmdb-sync/internal/otel"
	"github.com/stacklok/tmdb-sync/internal/telemetry"
)

const (
	// DefaultBaseURL is the TMDB v3 API root
	DefaultBaseURL = "https://api.themoviedb.org/3"

	// MaxChangesWindow is the longest date range a changes feed accepts
	MaxChangesWindow = 14 * 24 * time.Hour

	// TracerName names the tracer for upstream requests
	TracerName = "github.com/stacklok/tmdb-sync/catalog"

	dateLayout = "2006-01-02"
)

// PageRequest asks for one page of an entity type
type PageRequest struct {
	Entity EntityType
	// Token is empty for the first page, otherwise a Token returned by a previous page
	Token Token
	// UpdatedSince and UpdatedUntil bound the window of incremental entity types
	UpdatedSince time.Time
	UpdatedUntil time.Time
}

// Page is one bounded batch of records
type Page struct {
	Entity     EntityType
	Number     int
	TotalPages int
	Records    []Record
	// Failed lists records that were skipped as unusable
	Failed    []RecordError
	Next      PageToken
	RateLimit RateLimitInfo
}

// Fetcher retrieves pages from the upstream catalog
//
//go:generate mockgen -destination=mocks/mock_fetcher.go -package=mocks github.com/stacklok/tmdb-sync/internal/catalog Fetcher
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}

// Client is the TMDB implementation of Fetcher
type Client struct {
	http     httpclient.Client
	budget   *Budget
	header   http.Header
	baseURL  string
	language string
	retry    RetryPolicy

	now   func() time.Time
	sleep Sleeper
	rnd   func() float64

	tracer  trace.Tracer
	metrics *telemetry.CatalogMetrics
}

var _ Fetcher = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the API root
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLanguage sets the language query parameter on every request
func WithLanguage(language string) Option {
	return func(c *Client) {
		c.language = language
	}
}

// WithRetryPolicy sets the backoff used for transient failures
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithClock injects the clock and sleeper used for backoff waits
func WithClock(now func() time.Time, sleep Sleeper) Option {
	return func(c *Client) {
		c.now = now
		c.sleep = sleep
	}
}

// WithRand injects the jitter source, returning values in [0, 1)
func WithRand(rnd func() float64) Option {
	return func(c *Client) {
		c.rnd = rnd
	}
}

// WithTracer enables request spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// WithMetrics enables request metrics
func WithMetrics(metrics *telemetry.CatalogMetrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// NewClient creates a catalog client authenticating with the bearer token.
// The budget must be shared with every other client using the same token.
func NewClient(httpClient httpclient.Client, budget *Budget, token string, opts ...Option) *Client {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	c := &Client{
		http:    httpClient,
		budget:  budget,
		header:  header,
		baseURL: DefaultBaseURL,
		retry:   DefaultRetryPolicy(),
		now:     time.Now,
		sleep:   SleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.Multiplier <= 1 || c.retry.MaxInterval < c.retry.InitialInterval {
		c.retry = DefaultRetryPolicy()
	}
	return c
}

// FetchPage returns the page named by req.Token.
//
// Failures are typed: AuthError ends the run, TransientError means retries were
// exhausted, RateLimitExhaustedError means throttling outlasted the retry budget
// or the caller's deadline, and MalformedResponseError means the page envelope
// itself could not be read. Unusable records never fail the page.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	spec, ok := entities[req.Entity]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", req.Entity)
	}
	pageNum, err := req.Token.page()
	if err != nil {
		return nil, err
	}

	ctx, span := otel.StartSpan(ctx, c.tracer, "catalog.FetchPage",
		trace.WithAttributes(
			otel.AttrEntityType.String(string(req.Entity)),
			otel.AttrPageNumber.Int(pageNum),
		))
	defer span.End()

	query := url.Values{}
	for k, v := range spec.params {
		query.Set(k, v)
	}
	if c.language != "" {
		query.Set("language", c.language)
	}
	query.Set("page", strconv.Itoa(pageNum))
	if spec.changes {
		if req.UpdatedSince.IsZero() {
			return nil, fmt.Errorf("entity type %s requires an updated-since window", req.Entity)
		}
		until := req.UpdatedUntil
		if until.IsZero() {
			until = c.now()
		}
		query.Set("start_date", req.UpdatedSince.UTC().Format(dateLayout))
		query.Set("end_date", until.UTC().Format(dateLayout))
	}

	resp, waited, err := c.get(ctx, req.Entity, c.baseURL+spec.path+"?"+query.Encode())
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	decoded, err := decodeListPage(resp.Body, spec.contentType)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	page := &Page{
		Entity:     req.Entity,
		Number:     pageNum,
		TotalPages: decoded.totalPages,
		Records:    decoded.records,
		Failed:     decoded.failed,
		Next:       nextToken(pageNum, decoded.totalPages),
	}
	page.RateLimit = c.budget.Observe(resp.Header)

	if spec.changes {
		hydrated, failed, hydrateWaited, err := c.hydrate(ctx, req.Entity, spec, page.Records)
		if err != nil {
			otel.RecordError(span, err)
			return nil, err
		}
		page.Records = hydrated
		page.Failed = append(page.Failed, failed...)
		waited += hydrateWaited
	}

	page.RateLimit.Waited = waited
	span.SetAttributes(
		otel.AttrResultCount.Int(len(page.Records)),
		otel.AttrFailedCount.Int(len(page.Failed)),
	)
	return page, nil
}

// hydrate replaces the id-only entries of a changes feed with full detail records
func (c *Client) hydrate(
	ctx context.Context,
	entity EntityType,
	spec entitySpec,
	refs []Record,
) ([]Record, []RecordError, time.Duration, error) {
	var (
		records []Record
		failed  []RecordError
		waited  time.Duration
	)
	query := url.Values{}
	if c.language != "" {
		query.Set("language", c.language)
	}

	for i, id := range changedIDs(refs) {
		endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, spec.contentType, id)
		if len(query) > 0 {
			endpoint += "?" + query.Encode()
		}
		resp, w, err := c.get(ctx, entity, endpoint)
		waited += w
		if err != nil {
			var httpErr *httpclient.HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
				failed = append(failed, RecordError{Index: i, ID: id, Err: err})
				continue
			}
			return nil, nil, waited, err
		}
		if !gjson.ValidBytes(resp.Body) {
			failed = append(failed, RecordError{
				Index: i, ID: id,
				Err: &MalformedResponseError{RecordID: id, Reason: "detail body is not valid JSON"},
			})
			continue
		}
		rec, err := decodeRecord(gjson.ParseBytes(resp.Body), spec.contentType)
		if err != nil {
			failed = append(failed, RecordError{Index: i, ID: id, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, failed, waited, nil
}

// get performs one logical request: it waits on the budget, sends, and
// retries transient failures on the backoff schedule.
func (c *Client) get(ctx context.Context, entity EntityType, endpoint string) (*httpclient.Response, time.Duration, error) {
	schedule := newRetrySchedule(c.retry, c.rnd)
	var waited time.Duration

	for attempt := 0; ; attempt++ {
		w, err := c.budget.Wait(ctx)
		waited += w
		c.metrics.RecordRateLimitWait(ctx, string(entity), w)
		if err != nil {
			return nil, waited, err
		}

		start := c.now()
		resp, err := c.http.Get(ctx, endpoint, c.header)
		if err == nil {
			c.metrics.RecordRequest(ctx, string(entity), resp.StatusCode, c.now().Sub(start))
			return resp, waited, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, waited, fmt.Errorf("upstream request aborted: %w", ctxErr)
		}

		classified := c.classify(err)
		var te *TransientError
		if !errors.As(classified, &te) {
			c.metrics.RecordRequest(ctx, string(entity), statusOf(err), c.now().Sub(start))
			return nil, waited, classified
		}
		c.metrics.RecordRequest(ctx, string(entity), te.StatusCode, c.now().Sub(start))

		throttled := te.StatusCode == http.StatusTooManyRequests
		if throttled && te.RetryAfter > 0 {
			c.budget.BlockFor(te.RetryAfter)
		}

		if attempt >= c.retry.MaxRetries {
			if throttled {
				return nil, waited, &RateLimitExhaustedError{Attempts: attempt + 1}
			}
			return nil, waited, classified
		}

		wait := schedule.next(te.RetryAfter)
		if deadline, ok := ctx.Deadline(); ok && c.now().Add(wait).After(deadline) {
			if throttled {
				return nil, waited, &RateLimitExhaustedError{ResetAt: c.now().Add(wait), Deadline: deadline}
			}
			return nil, waited, classified
		}

		slog.WarnContext(ctx, "Transient upstream error, retrying",
			"entity", entity,
			"attempt", attempt+1,
			"status", te.StatusCode,
			"wait", wait,
			"error", te.Err)
		c.metrics.RecordRetry(ctx, string(entity), te.StatusCode)

		if err := c.sleep(ctx, wait); err != nil {
			return nil, waited, fmt.Errorf("upstream retry aborted: %w", err)
		}
		waited += wait
	}
}

// classify maps a transport or HTTP error onto the catalog error taxonomy
func (c *Client) classify(err error) error {
	var httpErr *httpclient.HTTPError
	if !errors.As(err, &httpErr) {
		return &TransientError{Err: err}
	}
	retryAfter, _ := httpErr.RetryAfter(c.now())
	switch code := httpErr.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &AuthError{StatusCode: code, Err: err}
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return &TransientError{StatusCode: code, RetryAfter: retryAfter, Err: err}
	default:
		return err
	}
}

func statusOf(err error) int {
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
