package llm

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is the breaker position.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive provider failures that open the circuit.
	Threshold int
	// ResetAfter is how long an open circuit waits before admitting one probe.
	ResetAfter time.Duration
	// OnStateChange, when set, is called after every transition outside the lock.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig opens after 5 failures and probes after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{Threshold: 5, ResetAfter: 30 * time.Second}
}

// CircuitBreaker stops the oracle from calling a provider that keeps
// failing. Only provider failures count; malformed replies do not.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = DefaultCircuitBreakerConfig().Threshold
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may go out. Once ResetAfter has passed an
// open circuit goes half-open and admits a single probe; further calls are
// refused until the probe is recorded.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	from := cb.state
	var err error
	switch cb.state {
	case CircuitOpen:
		since := cb.now().Sub(cb.lastFailure)
		if since > cb.cfg.ResetAfter {
			cb.state = CircuitHalfOpen
			break
		}
		err = NewError(ErrorTypeCircuit,
			fmt.Sprintf("oracle circuit open after %d failures, last %v ago", cb.failures, since.Round(time.Second)),
			false, nil)
	case CircuitHalfOpen:
		err = NewError(ErrorTypeCircuit, "oracle circuit half-open, probe in flight", false, nil)
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return err == nil, err
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.transition(func() {
		cb.failures = 0
		cb.state = CircuitClosed
	})
}

// RecordFailure counts a provider failure. The circuit opens at the
// threshold, or at once when a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.transition(func() {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.Threshold {
			cb.state = CircuitOpen
		}
	})
}

func (cb *CircuitBreaker) transition(apply func()) {
	cb.mu.Lock()
	from := cb.state
	apply()
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// State returns the current position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the provider failures since the last success.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
