package sync

import (
	"time"

	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/config"
	"github.com/stacklok/tmdb-sync/internal/status"
)

// DefaultBatchSize is the reconcile batch used when none is configured
const DefaultBatchSize = 20

// EntitySettings enables one entity type
type EntitySettings struct {
	Mode status.Mode
	// MaxPages ends a run after this many pages, 0 for no limit
	MaxPages int
}

// Config holds the limits of an Engine
type Config struct {
	Entities map[catalog.EntityType]EntitySettings

	// MaxConcurrentRuns caps runs executing at once across entity types
	MaxConcurrentRuns int
	// BatchSize bounds the records handed to the reconciler at once; a page
	// holding more is reconciled in consecutive batches
	BatchSize int
	// RunTimeout bounds a single run; 0 disables the bound
	RunTimeout time.Duration
	// IncrementalOverlap is subtracted from the window end when an incremental run completes
	IncrementalOverlap time.Duration
	// RunHistorySize is the number of finished runs kept in memory
	RunHistorySize int
}

// NewConfig derives the engine configuration from the service configuration.
// Entity names must have been validated by config.Parse.
func NewConfig(cfg *config.Config) Config {
	out := Config{
		Entities:           make(map[catalog.EntityType]EntitySettings, len(cfg.Entities)),
		MaxConcurrentRuns:  cfg.Sync.MaxConcurrentRuns,
		BatchSize:          cfg.Sync.BatchSize,
		RunTimeout:         cfg.Sync.RunTimeout.Std(),
		IncrementalOverlap: cfg.Sync.IncrementalOverlap.Std(),
		RunHistorySize:     cfg.Sync.RunHistorySize,
	}
	for _, e := range cfg.Entities {
		out.Entities[catalog.EntityType(e.Name)] = EntitySettings{
			Mode:     status.Mode(e.Mode),
			MaxPages: e.MaxPages,
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentRuns < 1 {
		c.MaxConcurrentRuns = 1
	}
	if c.BatchSize < 1 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RunHistorySize < 1 {
		c.RunHistorySize = 128
	}
}
