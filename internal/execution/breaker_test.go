package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(threshold, cooldown)
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure("tenant-a", "de-escalator")
	}
	require.NoError(t, cb.Check("tenant-a", "de-escalator"), "under threshold should be closed")

	cb.RecordFailure("tenant-a", "de-escalator")
	err := cb.Check("tenant-a", "de-escalator")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, CircuitOpen, cb.State("tenant-a", "de-escalator"))

	assert.NoError(t, cb.Check("tenant-b", "de-escalator"), "other tenants are unaffected")
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	cb.RecordFailure("t", "a")
	cb.RecordFailure("t", "a")
	cb.RecordSuccess("t", "a")
	cb.RecordFailure("t", "a")
	cb.RecordFailure("t", "a")
	assert.NoError(t, cb.Check("t", "a"))
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Minute)
	cb.RecordFailure("t", "a")
	cb.RecordFailure("t", "a")

	clock.advance(30 * time.Second)
	assert.ErrorIs(t, cb.Check("t", "a"), ErrCircuitOpen)

	clock.advance(31 * time.Second)
	require.NoError(t, cb.Check("t", "a"), "cooldown elapsed lets one probe through")
	assert.Equal(t, CircuitHalfOpen, cb.State("t", "a"))
	assert.ErrorIs(t, cb.Check("t", "a"), ErrCircuitOpen, "second caller waits for the probe")

	cb.RecordFailure("t", "a")
	assert.Equal(t, CircuitOpen, cb.State("t", "a"), "failed probe reopens")

	clock.advance(2 * time.Minute)
	require.NoError(t, cb.Check("t", "a"))
	cb.RecordSuccess("t", "a")
	assert.Equal(t, CircuitClosed, cb.State("t", "a"))
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(0, 0)
	assert.Equal(t, 5, cb.threshold)
	assert.Equal(t, 60*time.Second, cb.cooldown)
	assert.Equal(t, "closed", cb.State("x", "y").String())
	cb.Reset("x", "y")
}

func TestCircuitBreaker_ReleaseFreesProbeSlot(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute)
	cb.RecordFailure("t", "a")
	clock.advance(time.Minute)

	require.NoError(t, cb.Check("t", "a"))
	assert.ErrorIs(t, cb.Check("t", "a"), ErrCircuitOpen)

	cb.Release("t", "a")
	assert.Equal(t, CircuitHalfOpen, cb.State("t", "a"))
	require.NoError(t, cb.Check("t", "a"), "released slot admits the next probe")

	cb.RecordSuccess("t", "a")
	cb.Release("t", "a")
	assert.Equal(t, CircuitClosed, cb.State("t", "a"))
}

func TestCircuitBreaker_ReleaseAfterFailedProbeKeepsOpen(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute)
	cb.RecordFailure("t", "a")
	clock.advance(time.Minute)
	require.NoError(t, cb.Check("t", "a"))

	cb.RecordFailure("t", "a")
	cb.Release("t", "a")
	assert.Equal(t, CircuitOpen, cb.State("t", "a"))
	assert.ErrorIs(t, cb.Check("t", "a"), ErrCircuitOpen)
}
