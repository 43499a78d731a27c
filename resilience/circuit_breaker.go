package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bidwise/rfpcore/core"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows limited requests for testing recovery
	StateHalfOpen
)

// String returns the string representation of the state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MetricsCollector interface for circuit breaker metrics
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

// noopMetrics is a no-op metrics implementation
type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(name string)                      {}
func (n *noopMetrics) RecordFailure(name string)                      {}
func (n *noopMetrics) RecordStateChange(name string, from, to string) {}
func (n *noopMetrics) RecordRejection(name string)                    {}

// BreakerConfig holds configuration for the circuit breaker.
type BreakerConfig struct {
	// Name identifies the circuit breaker, typically the downstream agent.
	Name string

	// FailureThreshold is the number of consecutive failures in closed
	// state before opening.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in
	// half_open state before closing.
	SuccessThreshold int

	// OpenTimeout is how long the breaker stays open before admitting
	// a half-open probe.
	OpenTimeout time.Duration

	// Logger for state transitions. Defaults to NoOpLogger.
	Logger core.Logger

	// Metrics collector for monitoring. Defaults to no-op.
	Metrics MetricsCollector
}

// DefaultBreakerConfig returns a production-ready default configuration.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Name:             "default",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}
}

// Validate checks the configuration for usable thresholds.
func (c *BreakerConfig) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive")
	}
	if c.SuccessThreshold <= 0 {
		return fmt.Errorf("success threshold must be positive")
	}
	if c.OpenTimeout <= 0 {
		return fmt.Errorf("open timeout must be positive")
	}
	return nil
}

// CircuitBreaker is a three-state guard that fast-fails calls to a
// downstream after repeated consecutive failures.
//
// Transitions: closed→open at FailureThreshold consecutive failures;
// open→half_open lazily once OpenTimeout has elapsed, evaluated at the
// next state check; half_open→closed at SuccessThreshold consecutive
// successes; half_open→open on any failure.
type CircuitBreaker struct {
	config *BreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int // counted only in half_open
	lastFailure time.Time
	openedAt    time.Time
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(config *BreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &noopMetrics{}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}, nil
}

// Name returns the breaker's configured name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// State returns the current state, applying the lazy open→half_open
// transition when the open timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// IsOpen reports whether calls should be rejected right now.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// CanExecute reports whether a call may proceed (closed or half-open probe).
func (cb *CircuitBreaker) CanExecute() bool {
	return !cb.IsOpen()
}

// maybeHalfOpen applies open→half_open when the timeout elapsed.
// Caller holds the lock.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.config.OpenTimeout {
		cb.setState(StateHalfOpen)
		cb.failures = 0
		cb.successes = 0
	}
}

// RecordSuccess notes a successful downstream call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	cb.config.Metrics.RecordSuccess(cb.config.Name)

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
			cb.failures = 0
			cb.successes = 0
		}
	}
}

// RecordFailure notes a failed downstream call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	cb.config.Metrics.RecordFailure(cb.config.Name)
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.open()
		}
	case StateHalfOpen:
		// Any failure during a probe reopens the breaker.
		cb.open()
	}
}

// open transitions to the open state. Caller holds the lock.
func (cb *CircuitBreaker) open() {
	cb.setState(StateOpen)
	cb.openedAt = time.Now()
	cb.successes = 0
}

// setState transitions and logs the change. Caller holds the lock.
func (cb *CircuitBreaker) setState(next CircuitState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.config.Metrics.RecordStateChange(cb.config.Name, prev.String(), next.String())
	cb.config.Logger.Info("Circuit breaker state change", map[string]interface{}{
		"operation":       "circuit_breaker_transition",
		"circuit_breaker": cb.config.Name,
		"from":            prev.String(),
		"to":              next.String(),
		"failures":        cb.failures,
	})
}

// Trip forces the breaker open. Operator control.
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.open()
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failures = 0
	cb.successes = 0
}

// LastFailure returns the time of the most recent recorded failure.
func (cb *CircuitBreaker) LastFailure() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastFailure
}

// Execute runs the function with circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.CanExecute() {
		cb.config.Metrics.RecordRejection(cb.config.Name)
		return fmt.Errorf("circuit breaker '%s' is open: %w", cb.config.Name, core.ErrCircuitBreakerOpen)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
