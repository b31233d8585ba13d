package resilience

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prefeitura-rio/app-sync/internal/observability"
	"go.uber.org/zap"
)

// FallbackProvider is an alternate execution path for an operation key,
// consulted after the primary unit of work and its retries are exhausted.
type FallbackProvider struct {
	Name string

	// Priority orders providers within a key; lower runs first.
	Priority int

	// Applies decides whether the provider can handle the given failure.
	// A nil predicate accepts every error.
	Applies func(err error, metadata map[string]any) bool

	// Execute runs the alternate path.
	Execute func(ctx context.Context) (any, error)

	// HealthCheck probes the provider. A nil check means always healthy.
	HealthCheck func(ctx context.Context) error
}

type providerState struct {
	provider    FallbackProvider
	healthy     bool
	lastChecked time.Time
}

// RegisterFallback registers a provider for an operation key. Providers are
// kept sorted ascending by priority and start out healthy until the first
// check says otherwise.
func (e *Engine) RegisterFallback(key string, provider FallbackProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.fallbacks[key] = append(e.fallbacks[key], &providerState{
		provider: provider,
		healthy:  true,
	})
	sort.SliceStable(e.fallbacks[key], func(i, j int) bool {
		return e.fallbacks[key][i].provider.Priority < e.fallbacks[key][j].provider.Priority
	})

	e.logger.Info("fallback provider registered",
		zap.String("key", key),
		zap.String("provider", provider.Name),
		zap.Int("priority", provider.Priority))
}

// tryFallbacks walks the provider chain for key in priority order and
// returns the first successful result. When no provider succeeds the
// original error is propagated.
func (e *Engine) tryFallbacks(ctx context.Context, key string, cause error, metadata map[string]any) (any, error) {
	e.mu.RLock()
	providers := make([]*providerState, len(e.fallbacks[key]))
	copy(providers, e.fallbacks[key])
	e.mu.RUnlock()

	for _, state := range providers {
		if !state.healthy {
			e.logger.Debug("skipping unhealthy fallback provider",
				zap.String("key", key),
				zap.String("provider", state.provider.Name))
			continue
		}
		if state.provider.Applies != nil && !state.provider.Applies(cause, metadata) {
			continue
		}

		result, err := state.provider.Execute(ctx)
		if err == nil {
			observability.FallbackExecutions.WithLabelValues(key, "success").Inc()
			e.logger.Info("fallback provider succeeded",
				zap.String("key", key),
				zap.String("provider", state.provider.Name))
			return result, nil
		}

		observability.FallbackExecutions.WithLabelValues(key, "failure").Inc()
		e.logger.Warn("fallback provider failed",
			zap.String("key", key),
			zap.String("provider", state.provider.Name),
			zap.Error(err))
	}

	if cause == nil {
		cause = fmt.Errorf("no fallback provider succeeded for %s", key)
	}
	return nil, cause
}

// StartHealthChecks runs the background health-check loop on the configured
// interval until Stop is called. An immediate round runs first so cached
// health does not stay stale until the first tick.
func (e *Engine) StartHealthChecks() {
	e.logger.Info("starting fallback health checks",
		zap.Duration("interval", e.cfg.HealthCheckInterval))

	e.runHealthChecks()

	ticker := time.NewTicker(e.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.runHealthChecks()
		case <-e.stopChan:
			e.logger.Info("fallback health checks stopped")
			return
		}
	}
}

// runHealthChecks probes every registered provider once and caches the
// result. A panicking check marks the provider unhealthy rather than
// crashing the loop.
func (e *Engine) runHealthChecks() {
	e.mu.RLock()
	var states []*providerState
	for _, providers := range e.fallbacks {
		states = append(states, providers...)
	}
	e.mu.RUnlock()

	for _, state := range states {
		healthy := e.probeProvider(state.provider)

		e.mu.Lock()
		state.healthy = healthy
		state.lastChecked = e.now()
		e.mu.Unlock()

		if !healthy {
			e.logger.Warn("fallback provider unhealthy",
				zap.String("provider", state.provider.Name))
		}
	}
}

func (e *Engine) probeProvider(provider FallbackProvider) (healthy bool) {
	if provider.HealthCheck == nil {
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("fallback health check panicked",
				zap.String("provider", provider.Name),
				zap.Any("panic", r))
			healthy = false
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return provider.HealthCheck(ctx) == nil
}
