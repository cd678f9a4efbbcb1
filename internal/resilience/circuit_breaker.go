// Package resilience provides circuit breaking and retry helpers for calls
// into external embedding providers and the catalog database.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vectorpipe/embedworker/internal/observability"
)

// ErrCircuitOpen is returned when the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrMaxRetriesExceeded is returned when RetryWithBackoff exhausts attempts.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// State is the circuit breaker's current state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	MaxFailures         int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig returns sensible defaults for a provider call.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		ResetTimeout:        60 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// CircuitBreaker implements the standard closed/open/half-open pattern, one
// instance per embedding provider so a single provider outage does not
// affect other vectorizers using a different provider.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger observability.Logger

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	requests    int
	lastAttempt time.Time
}

// NewCircuitBreaker creates a named CircuitBreaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger observability.Logger) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 3
	}
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	return &CircuitBreaker{name: name, config: config, logger: logger.WithPrefix("circuit-breaker." + name)}
}

// Execute runs fn under circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	}
	err := fn()
	cb.recordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastAttempt) > cb.config.ResetTimeout {
			cb.state = StateHalfOpen
			cb.requests, cb.successes = 0, 0
			cb.logger.Info("transitioning to half-open", nil)
			return true
		}
		return false
	case StateHalfOpen:
		return cb.requests < cb.config.HalfOpenMaxRequests
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	cb.lastAttempt = time.Now()

	if success {
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.config.HalfOpenMaxRequests {
			cb.state = StateClosed
			cb.failures, cb.successes, cb.requests = 0, 0, 0
			cb.logger.Info("closed after successful recovery", nil)
		}
		return
	}

	cb.failures++
	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.logger.Warn("re-opened after failure in half-open state", nil)
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.state = StateOpen
			cb.logger.Warn("opened", map[string]interface{}{"failures": cb.failures})
		}
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RetryConfig configures RetryWithBackoff.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0}
}

// RetryWithBackoff executes fn with exponential backoff, used by the
// Supervisor when the catalog database is unreachable (spec §4.F).
func RetryWithBackoff(ctx context.Context, config RetryConfig, logger observability.Logger, fn func() error) error {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == config.MaxRetries {
			break
		}

		logger.Warn("retrying after error", map[string]interface{}{
			"attempt": attempt + 1, "max_attempts": config.MaxRetries, "delay": delay.String(), "error": lastErr.Error(),
		})

		select {
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * config.Multiplier)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}
