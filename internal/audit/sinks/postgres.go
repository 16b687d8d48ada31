package sinks

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/crawl-admission/internal/audit"
	"github.com/JakeFAU/crawl-admission/internal/database"
)

// DefaultTable is used when no audit table is configured.
const DefaultTable = "admission_log"

var columns = []string{"tenant_id", "job_id", "outcome", "reason", "status", "stage", "url", "decided_at"}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
}

// PostgresSink appends decisions to an audit table with COPY.
type PostgresSink struct {
	pool  pool
	table string
}

// NewPostgresSink constructs a sink on an open pool.
func NewPostgresSink(p pool, table string) (*PostgresSink, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := database.TableName(table, DefaultTable)
	if err != nil {
		return nil, err
	}
	return &PostgresSink{pool: p, table: table}, nil
}

// EnsureSchema creates the audit table and its tenant index.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	outcome TEXT NOT NULL,
	reason TEXT NOT NULL,
	status INTEGER NOT NULL,
	stage TEXT NOT NULL,
	url TEXT NOT NULL,
	decided_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_tenant_decided_idx ON %[1]s (tenant_id, decided_at)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

// Consume copies the batch in a single round trip.
func (s *PostgresSink) Consume(ctx context.Context, batch []audit.Event) error {
	if len(batch) == 0 {
		return nil
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{s.table}, columns,
		pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			evt := batch[i]
			return []any{evt.TenantID, evt.JobID, evt.Outcome, evt.Reason, evt.Status, evt.Stage, evt.URL, evt.TS}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy audit events: %w", err)
	}
	if n != int64(len(batch)) {
		return fmt.Errorf("copy audit events: wrote %d of %d rows", n, len(batch))
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresSink) Close(context.Context) error {
	return nil
}
