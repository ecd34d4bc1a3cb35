package cursor

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/tmdb-sync/internal/catalog"
)

// PostgresStore keeps cursors in the sync_cursors table
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on an existing pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const selectCursorSQL = `
SELECT entity_type, token, page, window_start, window_end, last_committed, status, inserted, updated, updated_at
FROM sync_cursors`

// Get implements Store
func (p *PostgresStore) Get(ctx context.Context, entity catalog.EntityType) (*Cursor, error) {
	c, err := scanPgCursor(p.pool.QueryRow(ctx, selectCursorSQL+` WHERE entity_type = $1`, string(entity)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Initial(entity), nil
	}
	if err != nil {
		return nil, storeError("get", entity, err)
	}
	return c, nil
}

// Commit implements Store
func (p *PostgresStore) Commit(ctx context.Context, c *Cursor) error {
	windowStart, windowEnd := nullableTime(c.WindowStart), nullableTime(c.WindowEnd)
	_, err := p.pool.Exec(ctx, `
INSERT INTO sync_cursors (entity_type, token, page, window_start, window_end, last_committed, status, inserted, updated, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (entity_type) DO UPDATE SET
    token          = EXCLUDED.token,
    page           = EXCLUDED.page,
    window_start   = EXCLUDED.window_start,
    window_end     = EXCLUDED.window_end,
    last_committed = EXCLUDED.last_committed,
    status         = EXCLUDED.status,
    inserted       = EXCLUDED.inserted,
    updated        = EXCLUDED.updated,
    updated_at     = EXCLUDED.updated_at`,
		string(c.EntityType), c.Token, c.Page, windowStart, windowEnd, c.LastCommitted, string(c.Status),
		c.Inserted, c.Updated, c.UpdatedAt,
	)
	if err != nil {
		return storeError("commit", c.EntityType, err)
	}
	return nil
}

// List implements Store
func (p *PostgresStore) List(ctx context.Context) ([]*Cursor, error) {
	rows, err := p.pool.Query(ctx, selectCursorSQL+` ORDER BY entity_type`)
	if err != nil {
		return nil, storeError("list", "", err)
	}
	defer rows.Close()

	var out []*Cursor
	for rows.Next() {
		c, err := scanPgCursor(rows)
		if err != nil {
			return nil, storeError("list", "", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list", "", err)
	}
	return out, nil
}

func scanPgCursor(row pgx.Row) (*Cursor, error) {
	var (
		c                      Cursor
		entity, status         string
		windowStart, windowEnd *time.Time
	)
	err := row.Scan(&entity, &c.Token, &c.Page, &windowStart, &windowEnd, &c.LastCommitted, &status,
		&c.Inserted, &c.Updated, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.EntityType = catalog.EntityType(entity)
	c.Status = Status(status)
	if windowStart != nil {
		c.WindowStart = *windowStart
	}
	if windowEnd != nil {
		c.WindowEnd = *windowEnd
	}
	return &c, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
