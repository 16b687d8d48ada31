// Package billing enforces per-tenant crawl credits using reserve-then-commit
// holds against a ledger.
package billing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-admission/internal/admission"
)

// ErrUnknownHold is returned when a hold was already settled or never existed.
var ErrUnknownHold = errors.New("credit hold not found")

// Ledger reserves and settles credits. Reserve must check and deduct the
// balance atomically; a refused reservation is returned with Admitted=false
// and a nil error.
type Ledger interface {
	Reserve(ctx context.Context, tenantID string, units int) (admission.CreditHold, error)
	Commit(ctx context.Context, holdID string) error
	Release(ctx context.Context, holdID string) error
}

// Enforcer implements admission.QuotaEnforcer over a Ledger.
type Enforcer struct {
	ledger Ledger
	logger *zap.Logger
}

// NewEnforcer constructs an Enforcer.
func NewEnforcer(ledger Ledger, logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{ledger: ledger, logger: logger}
}

// Check reserves units for the caller.
func (e *Enforcer) Check(ctx context.Context, caller admission.CallerContext, units int) (admission.CreditHold, error) {
	if units <= 0 {
		return admission.CreditHold{}, fmt.Errorf("reserve credits: invalid unit count %d", units)
	}
	hold, err := e.ledger.Reserve(ctx, caller.TenantID, units)
	if err != nil {
		return admission.CreditHold{}, fmt.Errorf("reserve credits: %w", err)
	}
	hold.TenantID = caller.TenantID
	hold.Units = units
	if !hold.Admitted {
		e.logger.Info("credit reservation refused",
			zap.String("tenant_id", caller.TenantID),
			zap.Int("units", units),
		)
	}
	return hold, nil
}

// Commit makes an admitted hold permanent.
func (e *Enforcer) Commit(ctx context.Context, hold admission.CreditHold) error {
	if !hold.Admitted || hold.ID == "" {
		return nil
	}
	if err := e.ledger.Commit(ctx, hold.ID); err != nil {
		return fmt.Errorf("commit credit hold: %w", err)
	}
	return nil
}

// Release returns an admitted hold's units to the tenant balance.
func (e *Enforcer) Release(ctx context.Context, hold admission.CreditHold) error {
	if !hold.Admitted || hold.ID == "" {
		return nil
	}
	if err := e.ledger.Release(ctx, hold.ID); err != nil {
		return fmt.Errorf("release credit hold: %w", err)
	}
	e.logger.Debug("credit hold released",
		zap.String("tenant_id", hold.TenantID),
		zap.String("hold_id", hold.ID),
	)
	return nil
}

// Unlimited admits every reservation without tracking it.
type Unlimited struct{}

// Reserve always admits.
func (Unlimited) Reserve(_ context.Context, tenantID string, units int) (admission.CreditHold, error) {
	return admission.CreditHold{TenantID: tenantID, Units: units, Admitted: true}, nil
}

// Commit is a no-op.
func (Unlimited) Commit(context.Context, string) error { return nil }

// Release is a no-op.
func (Unlimited) Release(context.Context, string) error { return nil }
