package executors

import (
	"sync"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
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

// BreakerConfig configures per-destination circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// Cooldown is how long a circuit stays open before allowing a trial request.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the breaker settings used by NewBuiltinRegistry.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

type breaker struct {
	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	trialing bool
}

// Breakers tracks one circuit per destination host. An open circuit fails
// calls fast with a retriable CIRCUIT_OPEN error, so the run is retried
// after backoff instead of hammering a failing service.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig
	now      func() time.Time
}

// NewBreakers creates an empty set of circuits.
func NewBreakers(cfg BreakerConfig) *Breakers {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &Breakers{
		breakers: make(map[string]*breaker),
		config:   cfg,
		now:      time.Now,
	}
}

// Allow reports whether a call to host may proceed.
func (b *Breakers) Allow(host string) error {
	cb := b.get(host)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if b.now().Sub(cb.openedAt) < b.config.Cooldown {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit open for %s after %d consecutive failures", host, cb.failures).
				WithDetails(map[string]any{
					"host":               host,
					"cooldown_remaining": (b.config.Cooldown - b.now().Sub(cb.openedAt)).String(),
				})
		}
		cb.state = CircuitHalfOpen
		cb.trialing = true
		return nil
	case CircuitHalfOpen:
		if cb.trialing {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen, "circuit half-open for %s: trial request in flight", host)
		}
		cb.trialing = true
	}
	return nil
}

// Success closes the circuit for host.
func (b *Breakers) Success(host string) {
	cb := b.get(host)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.trialing = false
}

// Failure records a failed call and returns the resulting state.
func (b *Breakers) Failure(host string) CircuitState {
	cb := b.get(host)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.trialing = false
	if cb.state == CircuitHalfOpen || cb.failures >= b.config.FailureThreshold {
		cb.state = CircuitOpen
		cb.openedAt = b.now()
	}
	return cb.state
}

// State returns the current state of host's circuit.
func (b *Breakers) State(host string) CircuitState {
	cb := b.get(host)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (b *Breakers) get(host string) *breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[host]
	if !ok {
		cb = &breaker{}
		b.breakers[host] = cb
	}
	return cb
}
