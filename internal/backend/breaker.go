package backend

import (
	"strings"
	"sync"
	"time"

	"github.com/sigmoyd/flowcraft/pkg/schema"
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

// BreakerConfig configures the per-endpoint circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transport failures
	// before the circuit opens. Negative disables the breakers.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a test request.
	Cooldown time.Duration
	// HalfOpenMax is the number of test requests allowed in half-open state.
	HalfOpenMax int
}

// DefaultBreakerConfig is used when Config.Breaker is zero.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// circuitBreaker tracks failure state for a single endpoint.
type circuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              BreakerConfig
}

// Breakers manages per-endpoint circuit breakers.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	config   BreakerConfig
	now      func() time.Time
}

// NewBreakers creates a new registry with the given config.
func NewBreakers(config BreakerConfig) *Breakers {
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &Breakers{
		breakers: make(map[string]*circuitBreaker),
		config:   config,
		now:      time.Now,
	}
}

// Allow checks whether a request to endpoint may be sent.
// Returns nil if allowed, or a CIRCUIT_OPEN FlowError.
func (b *Breakers) Allow(endpoint string) error {
	if b.config.FailureThreshold < 0 {
		return nil
	}
	cb := b.getOrCreate(endpoint)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		elapsed := b.now().Sub(cb.lastFailureTime)
		if elapsed >= cb.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1 // this request is the first test request
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"backend endpoint %s unavailable after %d consecutive failures", endpoint, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"endpoint":             endpoint,
				"consecutive_failures": cb.consecutiveFailures,
				"cooldown_remaining":   (cb.config.Cooldown - elapsed).String(),
			})

	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= cb.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"backend endpoint %s is already testing recovery", endpoint)
		}
		cb.halfOpenAttempts++
	}
	return nil
}

// Record feeds the outcome of a request into the endpoint's breaker.
// failed marks network errors and 5xx replies; any other reply proves the
// backend is reachable.
func (b *Breakers) Record(endpoint string, failed bool) CircuitState {
	if b.config.FailureThreshold < 0 {
		return CircuitClosed
	}
	cb := b.getOrCreate(endpoint)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !failed {
		cb.consecutiveFailures = 0
		cb.halfOpenAttempts = 0
		cb.state = CircuitClosed
		return cb.state
	}

	cb.consecutiveFailures++
	cb.lastFailureTime = b.now()
	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
	}
	return cb.state
}

// State returns the current state of the circuit for an endpoint.
func (b *Breakers) State(endpoint string) CircuitState {
	cb := b.getOrCreate(endpoint)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && b.now().Sub(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}
	return cb.state
}

func (b *Breakers) getOrCreate(endpoint string) *circuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[endpoint]
	if !ok {
		cb = &circuitBreaker{state: CircuitClosed, config: b.config}
		b.breakers[endpoint] = cb
	}
	return cb
}

// endpointOf keys a request path by its first segment, so every
// /delete_workflow/{id} shares one breaker.
func endpointOf(path string) string {
	p := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return "/" + p
}
