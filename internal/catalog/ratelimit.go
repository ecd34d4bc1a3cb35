package catalog

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitInfo is the rate-limit state observed on the last response of a page
type RateLimitInfo struct {
	// Limit and Remaining are -1 when the upstream did not report them
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Waited is the total time the page spent suspended on the budget and in backoff
	Waited time.Duration
}

// Sleeper suspends the caller for d, returning early with ctx.Err() on cancellation
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Budget is the request budget for one upstream credential. It is safe for
// concurrent use and must be shared by every client using that credential.
//
// Two mechanisms gate requests: a token bucket pacing steady-state traffic, and
// a block window set from server signals (Retry-After on 429, or
// X-RateLimit-Remaining: 0 with X-RateLimit-Reset) during which nobody may send.
type Budget struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	blockedUntil time.Time

	now   func() time.Time
	sleep Sleeper
}

// BudgetOption configures a Budget
type BudgetOption func(*Budget)

// WithBudgetClock injects the clock and sleeper, mainly for tests
func WithBudgetClock(now func() time.Time, sleep Sleeper) BudgetOption {
	return func(b *Budget) {
		b.now = now
		b.sleep = sleep
	}
}

// NewBudget creates a budget allowing requestsPerSecond with the given burst.
// A non-positive rate disables pacing; server block windows still apply.
func NewBudget(requestsPerSecond float64, burst int, opts ...BudgetOption) *Budget {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	b := &Budget{
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
		sleep:   SleepContext,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Wait suspends until a request may be sent and returns how long it waited.
// If the block window ends after the context deadline it fails immediately
// with a RateLimitExhaustedError instead of sleeping into the deadline.
func (b *Budget) Wait(ctx context.Context) (time.Duration, error) {
	b.mu.Lock()
	now := b.now()
	start := now
	if b.blockedUntil.After(start) {
		start = b.blockedUntil
	}
	if deadline, ok := ctx.Deadline(); ok && start.After(deadline) {
		resetAt := b.blockedUntil
		b.mu.Unlock()
		return 0, &RateLimitExhaustedError{ResetAt: resetAt, Deadline: deadline}
	}
	reservation := b.limiter.ReserveN(start, 1)
	b.mu.Unlock()

	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return 0, nil
	}
	if err := b.sleep(ctx, delay); err != nil {
		reservation.CancelAt(b.now())
		return 0, err
	}
	return delay, nil
}

// BlockUntil stops all requests until t. Earlier deadlines never shorten a block.
func (b *Budget) BlockUntil(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.After(b.blockedUntil) {
		b.blockedUntil = t
	}
}

// BlockFor stops all requests for d from now
func (b *Budget) BlockFor(d time.Duration) {
	b.BlockUntil(b.now().Add(d))
}

// BlockedUntil returns the end of the current block window
func (b *Budget) BlockedUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockedUntil
}

// Observe updates the budget from the rate-limit headers of a response
func (b *Budget) Observe(header http.Header) RateLimitInfo {
	info := parseRateLimit(header)
	if info.Remaining == 0 && !info.ResetAt.IsZero() {
		b.BlockUntil(info.ResetAt)
	}
	return info
}

func parseRateLimit(header http.Header) RateLimitInfo {
	info := RateLimitInfo{Limit: -1, Remaining: -1}
	if header == nil {
		return info
	}
	if v, err := strconv.Atoi(header.Get("X-RateLimit-Limit")); err == nil {
		info.Limit = v
	}
	if v, err := strconv.Atoi(header.Get("X-RateLimit-Remaining")); err == nil {
		info.Remaining = v
	}
	if v, err := strconv.ParseInt(header.Get("X-RateLimit-Reset"), 10, 64); err == nil && v > 0 {
		info.ResetAt = time.Unix(v, 0)
	}
	return info
}
