package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/stacklok/tmdb-sync/internal/catalog"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS sync_cursors (
	entity_type    TEXT PRIMARY KEY,
	token          TEXT NOT NULL DEFAULT '',
	page           INTEGER NOT NULL DEFAULT 0,
	window_start   TEXT NOT NULL DEFAULT '',
	window_end     TEXT NOT NULL DEFAULT '',
	last_committed TEXT NOT NULL,
	status         TEXT NOT NULL,
	inserted       INTEGER NOT NULL DEFAULT 0,
	updated        INTEGER NOT NULL DEFAULT 0,
	updated_at     TEXT NOT NULL
)`

// SQLiteStore keeps cursors in a single-file SQLite database
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the database at path. ":memory:" opens a
// private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("creating cursor database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cursor database: %w", err)
	}
	// One connection avoids "database is locked" and keeps :memory: a single database
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL", sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initializing cursor database: %w", err)
		}
	}
	if err := addSQLiteWindowEnd(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upgrading cursor database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// addSQLiteWindowEnd upgrades databases created before cursors kept a window end
func addSQLiteWindowEnd(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('sync_cursors') WHERE name = 'window_end'`).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.Exec(`ALTER TABLE sync_cursors ADD COLUMN window_end TEXT NOT NULL DEFAULT ''`)
	return err
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Store
func (s *SQLiteStore) Get(ctx context.Context, entity catalog.EntityType) (*Cursor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT entity_type, token, page, window_start, window_end, last_committed,
		status, inserted, updated, updated_at FROM sync_cursors WHERE entity_type = ?`, string(entity))
	c, err := scanSQLiteCursor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Initial(entity), nil
	}
	if err != nil {
		return nil, storeError("get", entity, err)
	}
	return c, nil
}

// Commit implements Store
func (s *SQLiteStore) Commit(ctx context.Context, c *Cursor) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sync_cursors (entity_type, token, page, window_start,
		window_end, last_committed, status, inserted, updated, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type) DO UPDATE SET
			token = excluded.token,
			page = excluded.page,
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			last_committed = excluded.last_committed,
			status = excluded.status,
			inserted = excluded.inserted,
			updated = excluded.updated,
			updated_at = excluded.updated_at`,
		string(c.EntityType), c.Token, c.Page, formatSQLiteTime(c.WindowStart),
		formatSQLiteTime(c.WindowEnd), formatSQLiteTime(c.LastCommitted), string(c.Status), c.Inserted, c.Updated,
		formatSQLiteTime(c.UpdatedAt),
	)
	if err != nil {
		return storeError("commit", c.EntityType, err)
	}
	return nil
}

// List implements Store
func (s *SQLiteStore) List(ctx context.Context) ([]*Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entity_type, token, page, window_start, window_end, last_committed,
		status, inserted, updated, updated_at FROM sync_cursors ORDER BY entity_type`)
	if err != nil {
		return nil, storeError("list", "", err)
	}
	defer rows.Close()

	var out []*Cursor
	for rows.Next() {
		c, err := scanSQLiteCursor(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCursor(row rowScanner) (*Cursor, error) {
	var (
		c                                                Cursor
		entity, status                                   string
		windowStart, windowEnd, lastCommitted, updatedAt string
	)
	if err := row.Scan(&entity, &c.Token, &c.Page, &windowStart, &windowEnd, &lastCommitted, &status,
		&c.Inserted, &c.Updated, &updatedAt); err != nil {
		return nil, err
	}
	c.EntityType = catalog.EntityType(entity)
	c.Status = Status(status)

	var err error
	if c.WindowStart, err = parseSQLiteTime(windowStart); err != nil {
		return nil, err
	}
	if c.WindowEnd, err = parseSQLiteTime(windowEnd); err != nil {
		return nil, err
	}
	if c.LastCommitted, err = parseSQLiteTime(lastCommitted); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func formatSQLiteTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseSQLiteTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}
