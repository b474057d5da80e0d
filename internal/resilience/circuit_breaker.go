package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected because the breaker
// considers its dependency down.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker.
// The numeric values feed the state gauge: 0 closed, 1 open, 2 half-open.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreaker guards one downstream dependency, an STT vendor or a
// summarization provider. After maxFailures consecutive failures the
// breaker opens and calls fail fast with ErrCircuitOpen; once resetTimeout
// has passed, a small budget of probe calls decides whether it closes
// again or reopens.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probeBudget  int

	mu           sync.Mutex
	state        CircuitState
	failures     int // consecutive failures while closed
	probes       int // probe calls admitted while half-open
	probeSuccess int
	openedAt     time.Time
}

// NewCircuitBreaker creates a closed breaker for the named dependency
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		probeBudget:  3,
		state:        StateClosed,
	}
}

// Name returns the dependency name the breaker was created with
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call runs fn under the breaker. While the circuit is open the call is
// rejected immediately with ErrCircuitOpen and fn is never invoked.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.observe(err == nil)
	return err
}

// admit decides whether a call may proceed in the current state
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false
		}
		// Cool-down elapsed: switch to half-open and admit the first probe
		cb.state = StateHalfOpen
		cb.probes = 1
		cb.probeSuccess = 0
		return true

	case StateHalfOpen:
		if cb.probes < cb.probeBudget {
			cb.probes++
			return true
		}
		return false
	}

	return false
}

// observe records a call result and drives state transitions
func (cb *CircuitBreaker) observe(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if success {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.trip()
		}

	case StateHalfOpen:
		if !success {
			// A failed probe reopens the circuit and restarts the cool-down
			cb.trip()
			return
		}
		cb.probeSuccess++
		if cb.probeSuccess >= cb.probeBudget {
			cb.state = StateClosed
			cb.failures = 0
		}
	}
}

// trip opens the circuit; callers must hold the lock
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = time.Now()
	cb.failures = 0
	cb.probes = 0
	cb.probeSuccess = 0
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed, clearing all counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeSuccess = 0
}
