package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
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

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// MaxProbes caps concurrent calls while half-open.
	MaxProbes int
}

// DefaultCircuitBreakerConfig suits a remote log upload: give up after a
// few failed runs and retry a minute later.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         time.Minute,
		MaxProbes:        1,
	}
}

// CircuitBreaker stops calling a failing dependency for a cooldown period.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	now    func() time.Time

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	probes    int
	openedAt  time.Time
	lastErr   error
}

func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	if config.MaxProbes < 1 {
		config.MaxProbes = 1
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
	}
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state. An open circuit whose cooldown has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// must hold mu
func (cb *CircuitBreaker) currentState() CircuitState {
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.config.Cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

// Execute runs fn unless the circuit is open. Context cancellation is not
// counted as a failure of the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.before(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		cb.mu.Lock()
		if cb.state == CircuitHalfOpen {
			cb.probes--
		}
		cb.mu.Unlock()
		return err
	}
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case CircuitOpen:
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.state == CircuitOpen {
			cb.state = CircuitHalfOpen
			cb.probes = 0
			cb.successes = 0
		}
		if cb.probes >= cb.config.MaxProbes {
			return ErrCircuitOpen
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.probes--
	}

	if err != nil {
		cb.lastErr = err
		cb.successes = 0
		cb.failures++
		if cb.state == CircuitHalfOpen || cb.failures >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
			cb.openedAt = cb.now()
			cb.probes = 0
		}
		return
	}

	cb.failures = 0
	if cb.state == CircuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = CircuitClosed
			cb.successes = 0
			cb.probes = 0
		}
	}
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0
	cb.lastErr = nil
}

// LastError returns the error that most recently counted as a failure.
func (cb *CircuitBreaker) LastError() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastErr
}
