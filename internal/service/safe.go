package service

// SafeConfig is the bounded shallow copy of a service's configuration that
// is safe to hand to the event dispatcher, the orchestrator's persisted
// view, and the control surface. Lifecycle, heartbeat and error payloads
// go through SafeConfig/SafeStats; the service:circuit_breaker event
// carries its own status plus a copy of the breaker counters instead.
type SafeConfig struct {
	Name               string
	CheckIntervalMs    int64
	MaxRetries         int
	CircuitBreakerInfo SafeBreakerConfig
	Layer              Layer
	CriticalLevel      int
}

// SafeBreakerConfig is the bounded view of breakerpolicy.BreakerConfig.
type SafeBreakerConfig struct {
	Enabled             bool
	FailureThreshold    int
	ResetTimeoutMs      int64
	MaxRecoveryAttempts int
}

// SafeStats is the bounded shallow copy of a service's runtime stats.
type SafeStats struct {
	Operations     OperationStats
	Performance    PerformanceStats
	CircuitBreaker SafeCircuitStats
	History        SafeHistoryStats
}

// SafeCircuitStats omits nothing sensitive (breaker stats are already
// small and bounded) but is copied by value, never by pointer into live
// state.
type SafeCircuitStats struct {
	IsOpen           bool
	Failures         int
	RecoveryAttempts int
}

// SafeHistoryStats caps LastError's length so a pathologically long error
// message from a misbehaving Operation cannot blow the serialization
// budget on its own.
type SafeHistoryStats struct {
	LastError           string
	ConsecutiveFailures int
}

const maxSafeErrorLen = 500

// SafeConfig returns a bounded shallow copy of the service's configuration.
func (b *Base) SafeConfig() SafeConfig {
	b.mu.Lock()
	defer b.mu.Unlock()

	return SafeConfig{
		Name:            b.config.Name,
		CheckIntervalMs: b.config.CheckInterval.Milliseconds(),
		MaxRetries:      b.config.MaxRetries,
		CircuitBreakerInfo: SafeBreakerConfig{
			Enabled:             b.config.CircuitBreaker.Enabled,
			FailureThreshold:    b.config.CircuitBreaker.FailureThreshold,
			ResetTimeoutMs:      b.config.CircuitBreaker.ResetTimeout.Milliseconds(),
			MaxRecoveryAttempts: b.config.CircuitBreaker.MaxRecoveryAttempts,
		},
		Layer:         b.config.Layer,
		CriticalLevel: b.config.CriticalLevel,
	}
}

// SafeStats returns a bounded shallow copy of the service's runtime stats.
func (b *Base) SafeStats() SafeStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	lastError := b.stats.History.LastError
	if len(lastError) > maxSafeErrorLen {
		lastError = lastError[:maxSafeErrorLen] + "..."
	}

	return SafeStats{
		Operations:  b.stats.Operations,
		Performance: b.stats.Performance,
		CircuitBreaker: SafeCircuitStats{
			IsOpen:           b.stats.CircuitBreaker.IsOpen,
			Failures:         b.stats.CircuitBreaker.Failures,
			RecoveryAttempts: b.stats.CircuitBreaker.RecoveryAttempts,
		},
		History: SafeHistoryStats{
			LastError:           lastError,
			ConsecutiveFailures: b.stats.History.ConsecutiveFailures,
		},
	}
}
