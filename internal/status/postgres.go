package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresHistory stores every run snapshot in the sync_runs table
type PostgresHistory struct {
	pool *pgxpool.Pool
}

var _ History = (*PostgresHistory)(nil)

// NewPostgresHistory creates a history on an existing pool
func NewPostgresHistory(pool *pgxpool.Pool) *PostgresHistory {
	return &PostgresHistory{pool: pool}
}

// Name implements Sink
func (*PostgresHistory) Name() string { return "postgres" }

const selectRunSQL = `
SELECT id, entity_type, mode, phase, started_at, ended_at, seen, inserted, updated,
       skipped, failed, pages, cancelled, error, errors
FROM sync_runs`

// Publish implements Sink. Later snapshots of a run replace earlier ones.
func (p *PostgresHistory) Publish(ctx context.Context, run SyncRun) error {
	id, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", run.ID, err)
	}
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}

	_, err = p.pool.Exec(ctx, `
INSERT INTO sync_runs (id, entity_type, mode, phase, started_at, ended_at, seen, inserted, updated,
                       skipped, failed, pages, cancelled, error, errors, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())
ON CONFLICT (id) DO UPDATE SET
    phase      = EXCLUDED.phase,
    ended_at   = EXCLUDED.ended_at,
    seen       = EXCLUDED.seen,
    inserted   = EXCLUDED.inserted,
    updated    = EXCLUDED.updated,
    skipped    = EXCLUDED.skipped,
    failed     = EXCLUDED.failed,
    pages      = EXCLUDED.pages,
    cancelled  = EXCLUDED.cancelled,
    error      = EXCLUDED.error,
    errors     = EXCLUDED.errors,
    updated_at = now()`,
		id, run.EntityType, string(run.Mode), string(run.Phase), run.StartedAt, run.EndedAt,
		run.Seen, run.Inserted, run.Updated, run.Skipped, run.Failed, run.Pages,
		run.Cancelled, run.Error, errs,
	)
	if err != nil {
		return fmt.Errorf("failed to store run %s: %w", run.ID, err)
	}
	return nil
}

// Get implements History
func (p *PostgresHistory) Get(ctx context.Context, id string) (*SyncRun, error) {
	runID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrRunNotFound
	}
	run, err := scanRun(p.pool.QueryRow(ctx, selectRunSQL+` WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	return run, nil
}

// Latest implements History
func (p *PostgresHistory) Latest(ctx context.Context) ([]SyncRun, error) {
	rows, err := p.pool.Query(ctx, `
SELECT DISTINCT ON (entity_type) id, entity_type, mode, phase, started_at, ended_at, seen, inserted,
       updated, skipped, failed, pages, cancelled, error, errors
FROM sync_runs
ORDER BY entity_type, started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*SyncRun, error) {
	var (
		run         SyncRun
		id          uuid.UUID
		mode, phase string
		endedAt     *time.Time
		errs        []byte
	)
	err := row.Scan(&id, &run.EntityType, &mode, &phase, &run.StartedAt, &endedAt, &run.Seen,
		&run.Inserted, &run.Updated, &run.Skipped, &run.Failed, &run.Pages, &run.Cancelled,
		&run.Error, &errs)
	if err != nil {
		return nil, err
	}
	run.ID = id.String()
	run.Mode = Mode(mode)
	run.Phase = Phase(phase)
	run.EndedAt = endedAt
	run.Upserted = run.Inserted + run.Updated
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &run.Errors); err != nil {
			return nil, err
		}
	}
	if len(run.Errors) == 0 {
		run.Errors = nil
	}
	return &run, nil
}
