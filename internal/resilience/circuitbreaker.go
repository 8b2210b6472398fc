package resilience

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker trips to Open after FailureThreshold consecutive
// failures, refusing calls until DurationOfBreak has elapsed, then lets
// a single trial call through in HalfOpen before deciding whether to
// close again or reopen.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	durationOfBreak  time.Duration

	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedAt    time.Time
	halfOpenTry bool
}

// NewCircuitBreaker creates a closed breaker named name (used only in
// CircuitOpenError messages and logging).
func NewCircuitBreaker(name string, failureThreshold int, durationOfBreak time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		durationOfBreak:  durationOfBreak,
		state:            StateClosed,
	}
}

// Allow reports whether a call may proceed, transitioning Open->HalfOpen
// once durationOfBreak has elapsed. Callers must report the outcome via
// RecordSuccess/RecordFailure.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.durationOfBreak {
			return false
		}
		cb.state = StateHalfOpen
		cb.halfOpenTry = true
		return true
	case StateHalfOpen:
		// the trial call is already in flight
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = StateClosed
	cb.halfOpenTry = false
}

// RecordFailure increments the failure count, opening the breaker once
// failureThreshold is reached (or immediately, from HalfOpen).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.halfOpenTry = false
		return
	}

	cb.failures++
	if cb.failures >= cb.failureThreshold {
		cb.state = StateOpen
		cb.openedAt = time.Now()
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitOpenError is returned when the breaker refuses a call. It
// implements CircuitOpen() so the root package's error classifier can
// recognize it without an import cycle back into this package.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return "circuit breaker " + e.Name + " is open"
}

func (e *CircuitOpenError) CircuitOpen() bool { return true }
