package resilience

import (
	"time"

	"go.uber.org/zap"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// breaker holds per-key circuit breaker state. All transitions happen under
// the engine mutex.
type breaker struct {
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	nextAttemptTime time.Time
}

func newBreaker() *breaker {
	return &breaker{state: StateClosed}
}

func (e *Engine) breakerFor(key string) *breaker {
	br, ok := e.breakers[key]
	if !ok {
		br = newBreaker()
		e.breakers[key] = br
	}
	return br
}

// allow reports whether a call for key may proceed. An open breaker whose
// cooldown has elapsed transitions to half-open and permits the probe.
func (e *Engine) allow(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	br := e.breakerFor(key)
	if br.state != StateOpen {
		return true
	}
	if e.now().Before(br.nextAttemptTime) {
		return false
	}

	br.state = StateHalfOpen
	br.successCount = 0
	e.logger.Info("circuit breaker half-open, probing",
		zap.String("key", key))
	return true
}

// recordSuccess registers a successful call for key.
func (e *Engine) recordSuccess(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	br := e.breakerFor(key)
	switch br.state {
	case StateHalfOpen:
		br.successCount++
		if br.successCount >= e.cfg.BreakerSuccessThreshold {
			br.state = StateClosed
			br.failureCount = 0
			br.successCount = 0
			e.logger.Info("circuit breaker closed", zap.String("key", key))
			e.notifyBreaker(key, StateClosed)
		}
	case StateClosed:
		br.failureCount = 0
	}
}

// recordFailure registers a failed call for key. A half-open breaker reopens
// on any failure; a closed breaker opens once the failure threshold is hit.
func (e *Engine) recordFailure(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	br := e.breakerFor(key)
	br.failureCount++
	br.lastFailureTime = now

	switch br.state {
	case StateHalfOpen:
		br.state = StateOpen
		br.successCount = 0
		br.nextAttemptTime = now.Add(e.cfg.BreakerCooldown)
		e.logger.Warn("circuit breaker reopened",
			zap.String("key", key),
			zap.Time("next_attempt", br.nextAttemptTime))
		e.notifyBreaker(key, StateOpen)
	case StateClosed:
		if br.failureCount >= e.cfg.BreakerFailureThreshold {
			br.state = StateOpen
			br.nextAttemptTime = now.Add(e.cfg.BreakerCooldown)
			e.logger.Warn("circuit breaker opened",
				zap.String("key", key),
				zap.Int("failure_count", br.failureCount),
				zap.Time("next_attempt", br.nextAttemptTime))
			e.notifyBreaker(key, StateOpen)
		}
	}
}

func (e *Engine) notifyBreaker(key string, state State) {
	if e.breakerListener != nil {
		e.breakerListener(key, state)
	}
}

// BreakerStates returns a snapshot of all breaker states keyed by operation.
func (e *Engine) BreakerStates() map[string]State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]State, len(e.breakers))
	for key, br := range e.breakers {
		out[key] = br.state
	}
	return out
}
