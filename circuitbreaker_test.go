package reqorch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 50*time.Millisecond, 1)

	for i := 0; i < 2; i++ {
		require.True(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitClosed, cb.State())

	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond, 1)

	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())

	time.Sleep(15 * time.Millisecond)

	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	assert.False(t, cb.Allow(), "half-open should admit only one probe at a time")

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond, 1)

	cb.Allow()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Second, 1)

	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordSuccess()

	// Two prior failures should not carry over after a success resets
	// the closed-state failure count.
	cb.Allow()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
}
