// Package postgres provides a Postgres-backed credit ledger.
//
// Balances live in credit_balances(tenant_id, remaining). Each reservation is
// a row in credit_holds(id, tenant_id, units, state, created_at) whose state
// moves from held to committed or released exactly once.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/crawl-admission/internal/admission"
	"github.com/JakeFAU/crawl-admission/internal/billing"
	"github.com/JakeFAU/crawl-admission/internal/database"
)

// Default table names.
const (
	DefaultBalancesTable = "credit_balances"
	DefaultHoldsTable    = "credit_holds"
)

const (
	holdHeld      = "held"
	holdCommitted = "committed"
	holdReleased  = "released"
)

type execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

// Tables names the ledger tables.
type Tables struct {
	Balances string
	Holds    string
}

// Ledger implements billing.Ledger with single-statement reservations, so the
// balance check and the deduction cannot interleave with another request.
type Ledger struct {
	pool     execer
	balances string
	holds    string
	ids      admission.IDGenerator
	clock    admission.Clock
}

// NewLedger constructs a Ledger on an open pool.
func NewLedger(p execer, tables Tables, ids admission.IDGenerator, clock admission.Clock) (*Ledger, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	balances, err := database.TableName(tables.Balances, DefaultBalancesTable)
	if err != nil {
		return nil, err
	}
	holds, err := database.TableName(tables.Holds, DefaultHoldsTable)
	if err != nil {
		return nil, err
	}
	return &Ledger{pool: p, balances: balances, holds: holds, ids: ids, clock: clock}, nil
}

// EnsureSchema creates the ledger tables when missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	tenant_id TEXT PRIMARY KEY,
	remaining BIGINT NOT NULL CHECK (remaining >= 0)
)`, l.balances),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	units BIGINT NOT NULL,
	state TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`, l.holds),
	}
	for _, stmt := range statements {
		if _, err := l.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create ledger table: %w", err)
		}
	}
	return nil
}

// Reserve deducts units and records a hold when the balance covers them.
func (l *Ledger) Reserve(ctx context.Context, tenantID string, units int) (admission.CreditHold, error) {
	holdID, err := l.ids.NewID()
	if err != nil {
		return admission.CreditHold{}, fmt.Errorf("generate hold id: %w", err)
	}
	query := fmt.Sprintf(`
WITH debit AS (
	UPDATE %s SET remaining = remaining - $2
	WHERE tenant_id = $1 AND remaining >= $2
	RETURNING tenant_id
)
INSERT INTO %s (id, tenant_id, units, state, created_at)
SELECT $3, tenant_id, $2, '%s', $4 FROM debit`, l.balances, l.holds, holdHeld)
	tag, err := l.pool.Exec(ctx, query, tenantID, units, holdID, l.clock.Now())
	if err != nil {
		return admission.CreditHold{}, fmt.Errorf("reserve credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return admission.CreditHold{
			TenantID: tenantID,
			Units:    units,
			Message:  "no balance row covers the reservation",
		}, nil
	}
	return admission.CreditHold{ID: holdID, TenantID: tenantID, Units: units, Admitted: true}, nil
}

// Commit marks a held reservation as spent.
func (l *Ledger) Commit(ctx context.Context, holdID string) error {
	query := fmt.Sprintf(`UPDATE %s SET state = '%s' WHERE id = $1 AND state = '%s'`,
		l.holds, holdCommitted, holdHeld)
	tag, err := l.pool.Exec(ctx, query, holdID)
	if err != nil {
		return fmt.Errorf("commit hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrUnknownHold
	}
	return nil
}

// Release refunds a held reservation to its tenant.
func (l *Ledger) Release(ctx context.Context, holdID string) error {
	query := fmt.Sprintf(`
WITH released AS (
	UPDATE %s SET state = '%s'
	WHERE id = $1 AND state = '%s'
	RETURNING tenant_id, units
)
UPDATE %s AS b SET remaining = b.remaining + r.units
FROM released r WHERE b.tenant_id = r.tenant_id`, l.holds, holdReleased, holdHeld, l.balances)
	tag, err := l.pool.Exec(ctx, query, holdID)
	if err != nil {
		return fmt.Errorf("release hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrUnknownHold
	}
	return nil
}

// Grant adds credits to a tenant's balance, creating the row if needed.
func (l *Ledger) Grant(ctx context.Context, tenantID string, units int) error {
	query := fmt.Sprintf(`
INSERT INTO %s (tenant_id, remaining) VALUES ($1, $2)
ON CONFLICT (tenant_id) DO UPDATE SET remaining = %s.remaining + EXCLUDED.remaining`, l.balances, l.balances)
	if _, err := l.pool.Exec(ctx, query, tenantID, units); err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	return nil
}
