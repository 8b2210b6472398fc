package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 50*time.Millisecond)

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenAfterBreakDuration(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	allowed := cb.Allow()
	assert.True(t, allowed)

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow()

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitOpenError_ImplementsCircuitOpen(t *testing.T) {
	var err error = &CircuitOpenError{Name: "test"}
	opener, ok := err.(interface{ CircuitOpen() bool })
	assert.True(t, ok)
	assert.True(t, opener.CircuitOpen())
}
