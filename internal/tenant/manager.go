// Package tenant validates incoming requests per tenant: membership and a
// token-bucket rate limit.
package tenant

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

var (
	ErrTenantNotFound    = errors.New("tenant not found")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Manager holds one limiter per tenant, created on first use.
type Manager struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	overrides map[string]int
	known     map[string]bool
	rate      int
}

// NewManager creates a manager allowing ratePerSec requests per second per
// tenant with a burst of two seconds' worth. A rate of 0 disables limiting.
// When tenants are given, any other tenant is rejected.
func NewManager(ratePerSec int, tenants ...string) *Manager {
	m := &Manager{
		limiters:  make(map[string]*rate.Limiter),
		overrides: make(map[string]int),
		known:     make(map[string]bool, len(tenants)),
		rate:      ratePerSec,
	}
	for _, t := range tenants {
		m.known[t] = true
	}
	return m
}

// SetRate overrides the rate for one tenant. It takes effect on the next
// request.
func (m *Manager) SetRate(tenantID string, ratePerSec int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[tenantID] = ratePerSec
	delete(m.limiters, tenantID)
}

// ValidateRequest checks membership and consumes one token.
func (m *Manager) ValidateRequest(_ context.Context, tenantID string) error {
	if tenantID == "" {
		return ErrTenantNotFound
	}
	m.mu.Lock()
	if len(m.known) > 0 && !m.known[tenantID] {
		m.mu.Unlock()
		return ErrTenantNotFound
	}
	lim := m.limiterLocked(tenantID)
	m.mu.Unlock()

	if lim != nil && !lim.Allow() {
		return ErrRateLimitExceeded
	}
	return nil
}

func (m *Manager) limiterLocked(tenantID string) *rate.Limiter {
	if lim, ok := m.limiters[tenantID]; ok {
		return lim
	}
	r := m.rate
	if o, ok := m.overrides[tenantID]; ok {
		r = o
	}
	if r <= 0 {
		return nil
	}
	lim := rate.NewLimiter(rate.Limit(r), r*2)
	m.limiters[tenantID] = lim
	return lim
}
