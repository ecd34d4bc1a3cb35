package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists documents in the documents table as JSONB
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on an existing pool. The schema is created
// by the database migrations.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const upsertDocumentSQL = `
INSERT INTO documents (
    id, upstream_id, content_type, entity_type, fields, payload, local,
    source_version, synced_at, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    upstream_id    = EXCLUDED.upstream_id,
    content_type   = EXCLUDED.content_type,
    entity_type    = EXCLUDED.entity_type,
    fields         = EXCLUDED.fields,
    payload        = EXCLUDED.payload,
    source_version = EXCLUDED.source_version,
    synced_at      = EXCLUDED.synced_at
RETURNING (xmax = 0)`

// Version implements Store
func (p *PostgresStore) Version(ctx context.Context, id string) (string, bool, error) {
	docID, err := uuid.Parse(id)
	if err != nil {
		return "", false, fmt.Errorf("invalid document id %q: %w", id, err)
	}

	var version string
	err = p.pool.QueryRow(ctx, `SELECT source_version FROM documents WHERE id = $1`, docID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classifyPgError(err)
	}
	return version, true, nil
}

// Upsert implements Store
func (p *PostgresStore) Upsert(ctx context.Context, doc *Document) (bool, error) {
	docID, err := uuid.Parse(doc.ID)
	if err != nil {
		return false, fmt.Errorf("invalid document id %q: %w", doc.ID, err)
	}
	payload := doc.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	local := doc.Local
	if local == nil {
		local = map[string]any{}
	}
	fields := doc.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	var inserted bool
	err = p.pool.QueryRow(ctx, upsertDocumentSQL,
		docID, doc.UpstreamID, doc.ContentType, doc.EntityType, fields, payload, local,
		doc.SourceVersion, doc.SyncedAt, doc.CreatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, classifyPgError(err)
	}
	return inserted, nil
}

// Get implements Store
func (p *PostgresStore) Get(ctx context.Context, id string) (*Document, error) {
	docID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid document id %q: %w", id, err)
	}

	var (
		doc     Document
		storeID uuid.UUID
		payload []byte
	)
	err = p.pool.QueryRow(ctx, `
SELECT id, upstream_id, content_type, entity_type, fields, payload, local,
       source_version, synced_at, created_at
FROM documents WHERE id = $1`, docID).Scan(
		&storeID, &doc.UpstreamID, &doc.ContentType, &doc.EntityType, &doc.Fields, &payload, &doc.Local,
		&doc.SourceVersion, &doc.SyncedAt, &doc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyPgError(err)
	}
	doc.ID = storeID.String()
	doc.Payload = payload
	return &doc, nil
}

// Ping implements Store
func (p *PostgresStore) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// classifyPgError wraps failures of the database as a whole in ErrUnavailable.
// Statement-level errors are returned as they are.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08: connection exception, 53: insufficient resources, 57P: operator intervention
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53") ||
			strings.HasPrefix(pgErr.Code, "57P") {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.Timeout(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
