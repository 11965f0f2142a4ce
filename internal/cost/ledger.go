package cost

import (
	"context"
	"errors"
	"sync"
)

// ErrBudgetExceeded is returned by Reserve when the amount does not fit the
// tenant's per-request or monthly ceiling.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Ledger is the authoritative per-tenant budget store. Reserve is a single
// atomic check-and-increment at the store boundary; callers never do their
// own read-compare-write.
type Ledger interface {
	// Policy returns the tenant's policy, or UnlimitedPolicy when none exists.
	Policy(ctx context.Context, tenantID string) (Policy, error)
	// Reserve adds amount to the month's spend if it fits both ceilings and
	// returns the policy after the reservation.
	Reserve(ctx context.Context, tenantID string, amount float64) (Policy, error)
	// Adjust corrects spend by delta, e.g. to release a reservation or to
	// replace an estimate with the actual cost. Spend never goes below zero.
	Adjust(ctx context.Context, tenantID string, delta float64) error
	// SetPolicy creates or replaces a tenant's ceilings, keeping current spend.
	SetPolicy(ctx context.Context, p Policy) error
	// ResetMonth zeroes the spend of every tenant.
	ResetMonth(ctx context.Context) error
	Close() error
}

// MemoryLedger is an in-process Ledger for tests and single-node CLI use.
type MemoryLedger struct {
	mu       sync.Mutex
	policies map[string]Policy
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(policies ...Policy) *MemoryLedger {
	m := &MemoryLedger{policies: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		m.policies[p.TenantID] = p
	}
	return m
}

func (m *MemoryLedger) Policy(_ context.Context, tenantID string) (Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.policies[tenantID]; ok {
		return p, nil
	}
	return UnlimitedPolicy(tenantID), nil
}

func (m *MemoryLedger) Reserve(_ context.Context, tenantID string, amount float64) (Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[tenantID]
	if !ok {
		p = UnlimitedPolicy(tenantID)
	}
	if !p.fits(amount) {
		return p, ErrBudgetExceeded
	}
	p.CurrentMonthSpend += amount
	m.policies[tenantID] = p
	return p, nil
}

func (m *MemoryLedger) Adjust(_ context.Context, tenantID string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[tenantID]
	if !ok {
		p = UnlimitedPolicy(tenantID)
	}
	p.CurrentMonthSpend += delta
	if p.CurrentMonthSpend < 0 {
		p.CurrentMonthSpend = 0
	}
	m.policies[tenantID] = p
	return nil
}

func (m *MemoryLedger) SetPolicy(_ context.Context, p Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.policies[p.TenantID]; ok {
		p.CurrentMonthSpend = existing.CurrentMonthSpend
	}
	m.policies[p.TenantID] = p
	return nil
}

func (m *MemoryLedger) ResetMonth(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.policies {
		p.CurrentMonthSpend = 0
		m.policies[id] = p
	}
	return nil
}

func (m *MemoryLedger) Close() error { return nil }
