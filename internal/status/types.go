// Package status describes sync runs and publishes them to observability sinks.
package status

import (
	"errors"
	"slices"
	"time"
)

// MaxRunErrors bounds the per-record error messages kept on a run
const MaxRunErrors = 50

// ErrRunNotFound is returned when no run with the requested id is known
var ErrRunNotFound = errors.New("sync run not found")

// Phase represents the state of a sync run
type Phase string

const (
	// PhaseRunning means pages are being fetched and written
	PhaseRunning Phase = "Running"

	// PhaseDraining means cancellation was requested and the in-flight page is finishing
	PhaseDraining Phase = "Draining"

	// PhaseCompleted means the run ended normally, including cancelled runs
	PhaseCompleted Phase = "Completed"

	// PhaseFailed means the run stopped on an error
	PhaseFailed Phase = "Failed"
)

// Terminal reports whether no further transitions follow p
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Mode selects how a run walks the upstream sequence
type Mode string

const (
	// ModeFull walks every page and starts over once the sequence is exhausted
	ModeFull Mode = "full"

	// ModeIncremental walks the records changed since the cursor watermark
	ModeIncremental Mode = "incremental"
)

// SyncRun is the observable record of one sync run
type SyncRun struct {
	ID         string     `json:"id"`
	EntityType string     `json:"entityType"`
	Mode       Mode       `json:"mode"`
	Phase      Phase      `json:"phase"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`

	// Seen counts records received from upstream, including malformed ones
	Seen     int `json:"seen"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	// Upserted is Inserted plus Updated
	Upserted int `json:"upserted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Pages    int `json:"pages"`

	Cancelled bool `json:"cancelled"`
	// Error is the terminal error of a failed run
	Error string `json:"error,omitempty"`
	// Errors holds up to MaxRunErrors per-record failures
	Errors []string `json:"errors,omitempty"`
}

// Duration is the elapsed time of the run, up to now while it is running
func (r *SyncRun) Duration() time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// AddCounts adds the outcome of one batch
func (r *SyncRun) AddCounts(seen, inserted, updated, skipped, failed int) {
	r.Seen += seen
	r.Inserted += inserted
	r.Updated += updated
	r.Upserted = r.Inserted + r.Updated
	r.Skipped += skipped
	r.Failed += failed
}

// AddError records a per-record error message, dropping it once MaxRunErrors is reached
func (r *SyncRun) AddError(msg string) {
	if len(r.Errors) < MaxRunErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// Finish moves the run to a terminal phase
func (r *SyncRun) Finish(phase Phase, at time.Time, err error) {
	r.Phase = phase
	r.EndedAt = &at
	if err != nil {
		r.Error = err.Error()
	}
}

// Clone returns a deep copy
func (r *SyncRun) Clone() SyncRun {
	out := *r
	out.Errors = slices.Clone(r.Errors)
	if r.EndedAt != nil {
		ended := *r.EndedAt
		out.EndedAt = &ended
	}
	return out
}
