package service

import "time"

// ConfigPatch is a partial update to a running service's configuration.
// Only non-nil fields are applied; fields the caller did not set are left
// untouched, so an update carrying an unrecognized or partial field set
// never discards unrelated configuration the way a blind map-merge would.
type ConfigPatch struct {
	CheckInterval               *time.Duration
	MaxRetries                  *int
	CircuitBreakerFailureThreshold *int
	CircuitBreakerResetTimeout   *time.Duration
	CircuitBreakerEnabled        *bool
}

// UpdateConfig applies patch to the live configuration under lock. It takes
// effect on the next tick, except that a new CheckInterval changes the tick
// period only from the next Start: a running loop keeps the ticker it
// started with. An in-flight operation is unaffected.
func (b *Base) UpdateConfig(patch ConfigPatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if patch.CheckInterval != nil {
		if *patch.CheckInterval <= 0 {
			return &LifecycleError{Service: b.identity.Name, Op: "update_config", Reason: "check interval must be positive"}
		}
		b.config.CheckInterval = *patch.CheckInterval
	}
	if patch.MaxRetries != nil {
		b.config.MaxRetries = *patch.MaxRetries
	}
	if patch.CircuitBreakerFailureThreshold != nil {
		b.config.CircuitBreaker.FailureThreshold = *patch.CircuitBreakerFailureThreshold
	}
	if patch.CircuitBreakerResetTimeout != nil {
		b.config.CircuitBreaker.ResetTimeout = *patch.CircuitBreakerResetTimeout
	}
	if patch.CircuitBreakerEnabled != nil {
		b.config.CircuitBreaker.Enabled = *patch.CircuitBreakerEnabled
	}
	return nil
}

// ResetCircuitBreaker forcibly closes the breaker, clearing failure and
// recovery-attempt counters, and emits a service:circuit_breaker closed
// event. Used by the orchestrator's administrative circuit-breaker-reset
// action.
func (b *Base) ResetCircuitBreaker() {
	b.recoveryTimerMu.Lock()
	if b.recoveryTimer != nil {
		b.recoveryTimer.Stop()
		b.recoveryTimer = nil
	}
	b.recoveryTimerMu.Unlock()

	b.mu.Lock()
	b.stats.CircuitBreaker.IsOpen = false
	b.stats.CircuitBreaker.Failures = 0
	b.stats.CircuitBreaker.RecoveryAttempts = 0
	b.stats.CircuitBreaker.LastReset = time.Now()
	snapshot := b.stats.CircuitBreaker
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.Emit("service:circuit_breaker", b.identity.Name, circuitBreakerEvent{
			Status: "closed",
			Stats:  snapshot,
		})
	}
}
