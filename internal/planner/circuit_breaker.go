package planner

import (
	"sync"
	"time"

	"github.com/rendis/cascade/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Zero disables the breaker.
	FailureThreshold int `json:"failure_threshold"`
	// Cooldown is how long the circuit stays open before half-opening.
	Cooldown time.Duration `json:"cooldown"`
	// HalfOpenMax is the number of probe requests allowed while half-open.
	HalfOpenMax int `json:"half_open_max"`
}

// DefaultCircuitBreakerConfig opens after five straight failures.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type circuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenAttempts    int
}

// Breakers keeps one circuit breaker per planner endpoint.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	config   CircuitBreakerConfig
	now      func() time.Time
}

// NewBreakers creates a registry with the given config.
func NewBreakers(config CircuitBreakerConfig) *Breakers {
	if config.HalfOpenMax < 1 {
		config.HalfOpenMax = 1
	}
	return &Breakers{
		breakers: make(map[string]*circuitBreaker),
		config:   config,
		now:      time.Now,
	}
}

// Allow returns nil if a call to endpoint may proceed, or a CIRCUIT_OPEN
// error.
func (r *Breakers) Allow(endpoint string) error {
	if r.config.FailureThreshold <= 0 {
		return nil
	}
	cb := r.get(endpoint)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		elapsed := r.now().Sub(cb.lastFailure)
		if elapsed >= r.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open for %s endpoint after %d consecutive failures", endpoint, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"endpoint":             endpoint,
				"consecutive_failures": cb.consecutiveFailures,
				"cooldown_remaining":   (r.config.Cooldown - elapsed).String(),
			})

	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= r.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for %s endpoint: probe already in flight", endpoint)
		}
		cb.halfOpenAttempts++
	}
	return nil
}

// Success closes the circuit for endpoint.
func (r *Breakers) Success(endpoint string) {
	cb := r.get(endpoint)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

// Failure records a failed call and returns the resulting state.
func (r *Breakers) Failure(endpoint string) CircuitState {
	cb := r.get(endpoint)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailure = r.now()

	if cb.state == CircuitHalfOpen ||
		(r.config.FailureThreshold > 0 && cb.consecutiveFailures >= r.config.FailureThreshold) {
		cb.state = CircuitOpen
	}
	return cb.state
}

// State returns the circuit state for endpoint.
func (r *Breakers) State(endpoint string) CircuitState {
	cb := r.get(endpoint)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && r.now().Sub(cb.lastFailure) >= r.config.Cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

func (r *Breakers) get(endpoint string) *circuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[endpoint]
	if !ok {
		cb = &circuitBreaker{state: CircuitClosed}
		r.breakers[endpoint] = cb
	}
	return cb
}
