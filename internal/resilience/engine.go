// Package resilience executes caller-supplied units of work under named
// recovery policies: retry with exponential backoff, per-key circuit
// breaking, and prioritized fallback chains with background health checks.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prefeitura-rio/app-sync/internal/logging"
	"go.uber.org/zap"
)

// Policy selects the recovery behavior for a call.
type Policy string

const (
	PolicyRetry               Policy = "retry"
	PolicyFallback            Policy = "fallback"
	PolicyCircuitBreaker      Policy = "circuit_breaker"
	PolicyGracefulDegradation Policy = "graceful_degradation"
	PolicyManual              Policy = "manual"
)

// ErrCircuitOpen is returned when the breaker for a key fast-fails a call.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Operation is a caller-supplied unit of work.
type Operation func(ctx context.Context) (any, error)

// Config holds the tunables of the engine. Zero values are replaced by the
// defaults from DefaultConfig.
type Config struct {
	MaxRetries              int
	BaseDelay               time.Duration
	MaxDelay                time.Duration
	Multiplier              float64
	Jitter                  bool
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerCooldown         time.Duration
	PolicyTimeout           time.Duration
	HealthCheckInterval     time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:              3,
		BaseDelay:               1 * time.Second,
		MaxDelay:                30 * time.Second,
		Multiplier:              2,
		Jitter:                  true,
		BreakerFailureThreshold: 5,
		BreakerSuccessThreshold: 3,
		BreakerCooldown:         60 * time.Second,
		PolicyTimeout:           120 * time.Second,
		HealthCheckInterval:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = defaults.BaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = defaults.Multiplier
	}
	if c.BreakerFailureThreshold == 0 {
		c.BreakerFailureThreshold = defaults.BreakerFailureThreshold
	}
	if c.BreakerSuccessThreshold == 0 {
		c.BreakerSuccessThreshold = defaults.BreakerSuccessThreshold
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = defaults.BreakerCooldown
	}
	if c.PolicyTimeout == 0 {
		c.PolicyTimeout = defaults.PolicyTimeout
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = defaults.HealthCheckInterval
	}
	return c
}

// Engine executes operations under resilience policies. Breaker and
// fallback state are engine-wide, keyed by operation identity.
type Engine struct {
	cfg    Config
	logger *logging.SafeLogger

	mu        sync.RWMutex
	breakers  map[string]*breaker
	fallbacks map[string][]*providerState

	active          int64
	breakerListener func(key string, state State)

	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewEngine creates a resilience engine.
func NewEngine(cfg Config, logger *logging.SafeLogger) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		logger:    logger,
		breakers:  make(map[string]*breaker),
		fallbacks: make(map[string][]*providerState),
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// SetBreakerListener registers a callback invoked on breaker open/close
// transitions. Must be called before the engine is shared.
func (e *Engine) SetBreakerListener(fn func(key string, state State)) {
	e.breakerListener = fn
}

// Execute runs op for the given key under the selected policy.
//
// Each attempt first consults the circuit breaker; an open breaker
// fast-fails without invoking op. Transient failures are retried with
// exponential backoff until the retry budget or the overall policy timeout
// is exhausted. Policies fallback and graceful_degradation then consult the
// fallback chain; manual makes a single attempt with no recovery.
func (e *Engine) Execute(ctx context.Context, key string, policy Policy, op Operation, metadata map[string]any) (any, error) {
	atomic.AddInt64(&e.active, 1)
	defer atomic.AddInt64(&e.active, -1)

	start := e.now()
	bo := e.newBackOff()

	maxAttempts := e.cfg.MaxRetries + 1
	if policy == PolicyManual {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		// An open breaker fails the call immediately, without invoking the
		// unit of work and without consuming the backoff schedule.
		if !e.allow(key) {
			lastErr = fmt.Errorf("%w: %s", ErrCircuitOpen, key)
			e.logger.Debug("breaker open, fast-failing",
				zap.String("key", key),
				zap.Int("attempt", attempt))
			break
		}

		result, err := op(ctx)
		if err == nil {
			e.recordSuccess(key)
			return result, nil
		}
		e.recordFailure(key)
		lastErr = err

		e.logger.Debug("attempt failed",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if !Retriable(lastErr) {
			break
		}
		if attempt >= maxAttempts {
			break
		}
		if e.now().Sub(start) >= e.cfg.PolicyTimeout {
			break
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if policy == PolicyFallback || policy == PolicyGracefulDegradation {
		if result, err := e.tryFallbacks(ctx, key, lastErr, metadata); err == nil {
			return result, nil
		}
	}

	return nil, lastErr
}

func (e *Engine) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.BaseDelay
	bo.MaxInterval = e.cfg.MaxDelay
	bo.Multiplier = e.cfg.Multiplier
	bo.MaxElapsedTime = e.cfg.PolicyTimeout
	if e.cfg.Jitter {
		bo.RandomizationFactor = 0.1
	} else {
		bo.RandomizationFactor = 0
	}
	bo.Reset()
	return bo
}

// RecoveryStatus summarizes engine state for diagnostics.
type RecoveryStatus struct {
	ActiveRecoveries int              `json:"active_recoveries"`
	BreakerStates    map[string]State `json:"breaker_states"`
	HealthyFallbacks int              `json:"healthy_fallbacks"`
	TotalFallbacks   int              `json:"total_fallbacks"`
}

// RecoveryStatus returns a snapshot of active calls, breaker states and
// fallback health.
func (e *Engine) RecoveryStatus() RecoveryStatus {
	status := RecoveryStatus{
		ActiveRecoveries: int(atomic.LoadInt64(&e.active)),
		BreakerStates:    e.BreakerStates(),
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, providers := range e.fallbacks {
		for _, p := range providers {
			status.TotalFallbacks++
			if p.healthy {
				status.HealthyFallbacks++
			}
		}
	}
	return status
}

// Stop terminates the background health-check loop.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
}
