// Package postgres provides a Postgres-backed idempotency store.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/crawl-admission/internal/database"
	"github.com/JakeFAU/crawl-admission/internal/idempotency"
)

// DefaultTable is used when no table name is configured.
const DefaultTable = "idempotency_keys"

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Store implements idempotency.Store on a table with a unique
// (tenant_id, idempotency_key) constraint.
type Store struct {
	pool  pool
	table string
}

// NewStoreWithPool constructs a store on an open pool, typically from database.Open.
func NewStoreWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := database.TableName(table, DefaultTable)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, table: table}, nil
}

// EnsureSchema creates the records table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	tenant_id TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	body_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	job_id TEXT,
	PRIMARY KEY (tenant_id, idempotency_key)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create idempotency table: %w", err)
	}
	return nil
}

// Register inserts rec, relying on the primary key to pick one winner among
// concurrent callers. Losers read back the stored record.
func (s *Store) Register(ctx context.Context, rec idempotency.Record) (idempotency.Record, bool, error) {
	insert := fmt.Sprintf(`
INSERT INTO %s (tenant_id, idempotency_key, body_hash, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, insert, rec.TenantID, rec.Key, rec.BodyHash, rec.CreatedAt)
	if err != nil {
		return idempotency.Record{}, false, fmt.Errorf("register idempotency key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return rec, true, nil
	}

	lookup := fmt.Sprintf(`
SELECT body_hash, created_at, COALESCE(job_id, '')
FROM %s
WHERE tenant_id = $1 AND idempotency_key = $2`, s.table)
	existing := idempotency.Record{TenantID: rec.TenantID, Key: rec.Key}
	err = s.pool.QueryRow(ctx, lookup, rec.TenantID, rec.Key).
		Scan(&existing.BodyHash, &existing.CreatedAt, &existing.JobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return idempotency.Record{}, false, fmt.Errorf("lookup idempotency key: %w", idempotency.ErrNotFound)
	}
	if err != nil {
		return idempotency.Record{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return existing, false, nil
}

// Bind sets job_id on a registered, still unbound record.
func (s *Store) Bind(ctx context.Context, tenantID, key, jobID string) error {
	query := fmt.Sprintf(`
UPDATE %s SET job_id = $3
WHERE tenant_id = $1 AND idempotency_key = $2 AND job_id IS NULL`, s.table)
	tag, err := s.pool.Exec(ctx, query, tenantID, key, jobID)
	if err != nil {
		return fmt.Errorf("update idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrAlreadyBound
	}
	return nil
}
