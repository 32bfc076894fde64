package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState string

const (
	// CircuitBreakerStateClosed means events pass through normally
	CircuitBreakerStateClosed CircuitBreakerState = "closed"
	// CircuitBreakerStateOpen means events are rejected immediately
	CircuitBreakerStateOpen CircuitBreakerState = "open"
)

// ErrCircuitBreakerOpen is returned when the circuit breaker is open
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// ErrInvalidCircuitBreakerConfig is returned when circuit breaker config is invalid
var ErrInvalidCircuitBreakerConfig = errors.New("invalid circuit breaker configuration")

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	// Threshold is the failure count at which the circuit opens
	Threshold uint32
	// Timeout is how long the circuit stays open after the last failure
	// before it closes again with the failure count reset
	Timeout time.Duration
}

// Validate checks if the circuit breaker configuration is valid
func (c *CircuitBreakerConfig) Validate() error {
	if c.Threshold == 0 {
		return errors.New("Threshold must be greater than 0")
	}
	if c.Timeout <= 0 {
		return errors.New("Timeout must be greater than 0")
	}
	return nil
}

// DefaultCircuitBreakerConfig returns sensible defaults
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold: 5,
		Timeout:   30 * time.Second,
	}
}

// CircuitBreaker protects downstream capacity by rejecting work after
// repeated failures.
//
// State machine: Closed -> Open when failures reach Threshold and the last
// failure is more recent than Timeout. Once Timeout has elapsed since the
// last failure, the next Allow() transitions straight back to Closed with
// failures reset to 0. There is no half-open trial phase: recovery is a
// hard reset. Each success decrements the failure count (floor 0), so
// intermittent failures under healthy traffic never accumulate to the
// threshold.
type CircuitBreaker struct {
	config       CircuitBreakerConfig
	state        CircuitBreakerState
	failures     uint32
	lastFailTime time.Time
	mu           sync.RWMutex
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCircuitBreakerConfig, err)
	}

	return &CircuitBreaker{
		config:   config,
		state:    CircuitBreakerStateClosed,
		failures: 0,
	}, nil
}

// MustNewCircuitBreaker creates a new circuit breaker or panics if config is invalid.
// Use this for initialization paths where startup validation is acceptable.
func MustNewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	cb, err := NewCircuitBreaker(config)
	if err != nil {
		panic(err)
	}
	return cb
}

// Allow checks if an event is allowed through the circuit breaker
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitBreakerStateOpen {
		if time.Since(cb.lastFailTime) > cb.config.Timeout {
			// Timeout elapsed: close and reset, no trial phase
			cb.state = CircuitBreakerStateClosed
			cb.failures = 0
			return nil
		}
		return ErrCircuitBreakerOpen
	}

	return nil
}

// RecordSuccess records a successfully processed event, decrementing the
// failure count toward zero.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.failures > 0 {
		cb.failures--
	}
}

// RecordFailure records a hard failure (a panic or thrown error),
// refreshing the failure timestamp. Opens the circuit once the failure
// count reaches the threshold.
// Returns the old and new state atomically to prevent race conditions.
func (cb *CircuitBreaker) RecordFailure() (oldState, newState CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState = cb.state
	cb.lastFailTime = time.Now()
	cb.failures++

	if cb.state == CircuitBreakerStateClosed && cb.failures >= cb.config.Threshold {
		cb.state = CircuitBreakerStateOpen
	}

	newState = cb.state
	return
}

// RecordSlowFailure counts an over-budget event toward the threshold
// without refreshing the failure timestamp. Slow events only open the
// circuit while a recent hard failure keeps the window fresh, and once
// the circuit is open a trickle of slow events cannot extend it.
func (cb *CircuitBreaker) RecordSlowFailure() (oldState, newState CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState = cb.state
	cb.failures++

	if cb.state == CircuitBreakerStateClosed &&
		cb.failures >= cb.config.Threshold &&
		time.Since(cb.lastFailTime) < cb.config.Timeout {
		cb.state = CircuitBreakerStateOpen
	}

	newState = cb.state
	return
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the current failure count
func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitBreakerStateClosed
	cb.failures = 0
}
