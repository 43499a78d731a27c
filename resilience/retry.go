// Package resilience provides retry with pluggable backoff strategies and a
// circuit breaker shielding unreliable downstream agents.
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/bidwise/rfpcore/core"
)

// Strategy selects how the delay grows between attempts.
type Strategy string

const (
	StrategyImmediate   Strategy = "immediate"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
	StrategyFibonacci   Strategy = "fibonacci"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Strategy      Strategy
	Base          float64 // exponential base, default 2
	JitterEnabled bool
}

// DefaultRetryConfig provides sensible defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Strategy:      StrategyExponential,
		Base:          2.0,
		JitterEnabled: true,
	}
}

// DelayForAttempt computes the backoff before retrying after the given
// attempt (1-indexed). The deterministic schedule is capped at MaxDelay,
// then jitter multiplies by a uniform factor in [0.5, 1.5) when enabled.
func (c *RetryConfig) DelayForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch c.Strategy {
	case StrategyImmediate:
		return 0
	case StrategyLinear:
		delay = c.InitialDelay * time.Duration(attempt)
	case StrategyFibonacci:
		delay = time.Duration(fib(attempt)) * c.InitialDelay
	default: // exponential
		base := c.Base
		if base <= 0 {
			base = 2.0
		}
		delay = time.Duration(float64(c.InitialDelay) * math.Pow(base, float64(attempt-1)))
	}

	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	if c.JitterEnabled && delay > 0 {
		// Uniform in [0.5, 1.5) to break synchronized retries across
		// clients (thundering herd mitigation).
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
	}
	return delay
}

// fib returns the nth Fibonacci number with fib(1)=1, fib(2)=1.
func fib(n int) int64 {
	if n <= 2 {
		return 1
	}
	var a, b int64 = 1, 1
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

// Retry executes a function with retry logic. The operation runs at most
// MaxAttempts times; the last error is surfaced wrapped in
// core.ErrMaxRetriesExceeded.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		// Don't sleep after the last attempt
		if attempt == config.MaxAttempts {
			break
		}

		delay := config.DelayForAttempt(attempt)
		if delay == 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}

// RetryWithCircuitBreaker combines retry logic with circuit breaker.
// An open breaker fails fast with core.ErrCircuitBreakerOpen without
// invoking the operation.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		if !cb.CanExecute() {
			return fmt.Errorf("circuit breaker '%s': %w", cb.Name(), core.ErrCircuitBreakerOpen)
		}

		err := fn()
		if err != nil {
			cb.RecordFailure()
			return err
		}

		cb.RecordSuccess()
		return nil
	})
}
