// Package memory provides an in-process credit ledger.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-admission/internal/admission"
	"github.com/JakeFAU/crawl-admission/internal/billing"
)

type hold struct {
	tenantID string
	units    int
}

// Ledger tracks balances in memory. Tenants without an explicit balance start
// with the default balance.
type Ledger struct {
	mu             sync.Mutex
	balances       map[string]int
	holds          map[string]hold
	defaultBalance int
	ids            admission.IDGenerator
}

// NewLedger constructs a Ledger seeded with balances.
func NewLedger(balances map[string]int, defaultBalance int, ids admission.IDGenerator) *Ledger {
	copied := make(map[string]int, len(balances))
	for tenant, credits := range balances {
		copied[tenant] = credits
	}
	return &Ledger{
		balances:       copied,
		holds:          make(map[string]hold),
		defaultBalance: defaultBalance,
		ids:            ids,
	}
}

// Reserve deducts units when the balance allows it.
func (l *Ledger) Reserve(_ context.Context, tenantID string, units int) (admission.CreditHold, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[tenantID]
	if !ok {
		balance = l.defaultBalance
	}
	if balance < units {
		return admission.CreditHold{
			TenantID: tenantID,
			Units:    units,
			Message:  fmt.Sprintf("remaining credits %d below required %d", balance, units),
		}, nil
	}
	id, err := l.ids.NewID()
	if err != nil {
		return admission.CreditHold{}, fmt.Errorf("generate hold id: %w", err)
	}
	l.balances[tenantID] = balance - units
	l.holds[id] = hold{tenantID: tenantID, units: units}
	return admission.CreditHold{ID: id, TenantID: tenantID, Units: units, Admitted: true}, nil
}

// Commit settles a hold.
func (l *Ledger) Commit(_ context.Context, holdID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.holds[holdID]; !ok {
		return billing.ErrUnknownHold
	}
	delete(l.holds, holdID)
	return nil
}

// Release refunds a hold.
func (l *Ledger) Release(_ context.Context, holdID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.holds[holdID]
	if !ok {
		return billing.ErrUnknownHold
	}
	delete(l.holds, holdID)
	l.balances[h.tenantID] += h.units
	return nil
}

// Balance returns the tenant's remaining credits.
func (l *Ledger) Balance(tenantID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if balance, ok := l.balances[tenantID]; ok {
		return balance
	}
	return l.defaultBalance
}
