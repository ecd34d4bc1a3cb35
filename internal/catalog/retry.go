package catalog

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy configures backoff for transient upstream failures
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter adds up to this fraction of each interval at random. It must stay
	// below Multiplier-1 so that waits keep increasing.
	Jitter     float64
	MaxRetries int
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
		MaxRetries:      5,
	}
}

// retrySchedule produces the waits between attempts of one request.
// Waits strictly increase until they reach MaxInterval and then hold there.
// A server hint (Retry-After) longer than the computed wait replaces it, and
// later waits never drop below an earlier one.
type retrySchedule struct {
	policy RetryPolicy
	exp    *backoff.ExponentialBackOff
	rnd    func() float64
	prev   time.Duration
}

func newRetrySchedule(policy RetryPolicy, rnd func() float64) *retrySchedule {
	if rnd == nil {
		//nolint:gosec // G404: jitter does not need cryptographic randomness
		rnd = rand.Float64
	}
	return &retrySchedule{
		policy: policy,
		exp: &backoff.ExponentialBackOff{
			InitialInterval:     policy.InitialInterval,
			RandomizationFactor: 0,
			Multiplier:          policy.Multiplier,
			MaxInterval:         policy.MaxInterval,
		},
		rnd: rnd,
	}
}

// next returns the wait before the next attempt
func (s *retrySchedule) next(hint time.Duration) time.Duration {
	base := s.exp.NextBackOff()
	d := base + time.Duration(s.policy.Jitter*s.rnd()*float64(base))
	if d > s.policy.MaxInterval {
		d = s.policy.MaxInterval
	}
	if hint > d {
		d = hint
	}
	if d <= s.prev {
		if s.prev >= s.policy.MaxInterval {
			d = s.prev
		} else {
			d = min(time.Duration(float64(s.prev)*s.policy.Multiplier), s.policy.MaxInterval)
		}
	}
	s.prev = d
	return d
}
