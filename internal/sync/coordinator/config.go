package coordinator

import (
	"math/rand/v2"
	"time"

	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/config"
)

// jitterDivisor sets the maximum offset applied to each interval to ±interval/10
const jitterDivisor = 10

// Schedule triggers runs of one entity type at a fixed interval
type Schedule struct {
	Entity   catalog.EntityType
	Interval time.Duration
}

// SchedulesFromConfig returns a schedule for every entity with an interval.
// Entities without one are triggered manually only.
func SchedulesFromConfig(cfg *config.Config) []Schedule {
	var out []Schedule
	for _, e := range cfg.Entities {
		if e.Interval <= 0 {
			continue
		}
		out = append(out, Schedule{Entity: catalog.EntityType(e.Name), Interval: e.Interval.Std()})
	}
	return out
}

// jitteredInterval returns interval shifted by up to ±10%.
// rnd must return values in [0, 1).
func jitteredInterval(interval time.Duration, rnd func() float64) time.Duration {
	spread := interval / jitterDivisor
	return interval + time.Duration((rnd()*2-1)*float64(spread))
}

func defaultRand() float64 {
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for schedule jitter
	return rand.Float64()
}
