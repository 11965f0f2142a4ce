package execution

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a tenant's agent has been suspended after
// repeated backend failures.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal: requests flow through
	CircuitOpen                         // Tripped: requests denied immediately
	CircuitHalfOpen                     // Probe: one request allowed to test recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker counts consecutive backend failures per tenant and agent and
// opens the circuit when they reach the threshold.
type CircuitBreaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

type circuit struct {
	failures      int
	state         CircuitState
	openedAt      time.Time
	probeInFlight bool // when half-open, only one request is allowed until the probe reports
}

// NewCircuitBreaker creates a breaker. threshold defaults to 5 consecutive
// failures and cooldown to 60s.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &CircuitBreaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func circuitKey(tenantID, agentType string) string {
	return tenantID + ":" + agentType
}

// Check returns nil if the call may proceed. After the cooldown an open
// circuit lets exactly one probe through.
func (cb *CircuitBreaker) Check(tenantID, agentType string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[circuitKey(tenantID, agentType)]
	if !ok {
		return nil
	}

	switch c.state {
	case CircuitOpen:
		if cb.now().Sub(c.openedAt) >= cb.cooldown {
			c.state = CircuitHalfOpen
			c.probeInFlight = true
			return nil
		}
		return fmt.Errorf("%w: agent %s suspended after %d consecutive backend failures", ErrCircuitOpen, agentType, c.failures)
	case CircuitHalfOpen:
		if c.probeInFlight {
			return fmt.Errorf("%w: probe already in progress for agent %s", ErrCircuitOpen, agentType)
		}
		c.probeInFlight = true
	}
	return nil
}

// RecordFailure records a backend failure. A failed half-open probe reopens
// the circuit immediately.
func (cb *CircuitBreaker) RecordFailure(tenantID, agentType string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	key := circuitKey(tenantID, agentType)
	c, ok := cb.circuits[key]
	if !ok {
		c = &circuit{}
		cb.circuits[key] = c
	}

	c.failures++
	if c.state == CircuitHalfOpen || c.failures >= cb.threshold {
		c.state = CircuitOpen
		c.openedAt = cb.now()
		c.probeInFlight = false
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess(tenantID, agentType string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.circuits, circuitKey(tenantID, agentType))
}

// Release gives up a half-open probe slot without reporting an outcome, so a
// probe abandoned before it reached the backend does not wedge the circuit.
// It is a no-op once RecordSuccess or RecordFailure has run.
func (cb *CircuitBreaker) Release(tenantID, agentType string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if c, ok := cb.circuits[circuitKey(tenantID, agentType)]; ok && c.state == CircuitHalfOpen {
		c.probeInFlight = false
	}
}

// Reset manually closes the circuit (operator override).
func (cb *CircuitBreaker) Reset(tenantID, agentType string) {
	cb.RecordSuccess(tenantID, agentType)
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State(tenantID, agentType string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[circuitKey(tenantID, agentType)]
	if !ok {
		return CircuitClosed
	}
	return c.state
}
