// Package circuitbreaker guards the settlement lookup endpoint so a
// degraded collaborator is not hammered by every concurrent
// reconciliation run at once.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

const (
	defaultFailureThreshold         = 5                // consecutive failures to open the circuit
	defaultOpenStateTimeout         = 30 * time.Second // time before transitioning from Open to HalfOpen
	defaultHalfOpenSuccessThreshold = 2                // successes in HalfOpen to close the circuit
)

// CircuitBreaker tracks the health of the single lookup endpoint.
type CircuitBreaker struct {
	mu                       sync.Mutex
	state                    State
	consecutiveFailures      int
	consecutiveSuccesses     int
	openUntil                time.Time
	failureThreshold         int
	openStateTimeout         time.Duration
	halfOpenSuccessThreshold int
}

// NewCircuitBreaker creates a CircuitBreaker with default settings.
func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithSettings(defaultFailureThreshold, defaultOpenStateTimeout, defaultHalfOpenSuccessThreshold)
}

// NewCircuitBreakerWithSettings creates a CircuitBreaker with custom settings.
func NewCircuitBreakerWithSettings(failThreshold int, openTimeout time.Duration, halfOpenSuccess int) *CircuitBreaker {
	return &CircuitBreaker{
		state:                    Closed,
		failureThreshold:         failThreshold,
		openStateTimeout:         openTimeout,
		halfOpenSuccessThreshold: halfOpenSuccess,
	}
}

// Allow reports whether a lookup call may be issued. An expired Open
// state transitions to HalfOpen here.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if time.Now().After(cb.openUntil) {
			cb.state = HalfOpen
			cb.consecutiveSuccesses = 0
			return true
		}
		return false
	case HalfOpen:
		// Probe requests are allowed; Record* decides what happens next.
		return true
	default:
		cb.state = Closed
		return true
	}
}

// RecordFailure records a failed lookup call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.state = Open
			cb.openUntil = time.Now().Add(cb.openStateTimeout)
		}
	case HalfOpen:
		// A failed probe re-opens the circuit immediately.
		cb.state = Open
		cb.openUntil = time.Now().Add(cb.openStateTimeout)
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses = 0
	case Open:
	}
}

// RecordSuccess records a successful lookup call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.consecutiveFailures = 0
	case HalfOpen:
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.halfOpenSuccessThreshold {
			cb.state = Closed
			cb.consecutiveFailures = 0
			cb.consecutiveSuccesses = 0
		}
	case Open:
	}
}

// GetState returns the current state without triggering transitions.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
