package breakerpolicy

import (
	"testing"
	"time"
)

func testConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:             true,
		FailureThreshold:    3,
		ResetTimeout:        60 * time.Second,
		HealthCheckInterval: 5 * time.Second,
		MonitoringWindow:    5 * time.Minute,
		MaxRecoveryAttempts: 5,
		BackoffMultiplier:   2.0,
	}
}

func TestIsHealthyOpenBreaker(t *testing.T) {
	now := time.Now()
	stats := CircuitStats{IsOpen: true, LastSuccess: now}
	if IsHealthy(stats, testConfig(), now) {
		t.Fatal("expected unhealthy while breaker is open")
	}
}

func TestIsHealthyWithinResetWindow(t *testing.T) {
	now := time.Now()
	cfg := testConfig()
	stats := CircuitStats{LastFailure: now.Add(-10 * time.Second), LastSuccess: now}
	if IsHealthy(stats, cfg, now) {
		t.Fatal("expected unhealthy within reset timeout of last failure")
	}
}

func TestIsHealthyStaleNoRecentSuccess(t *testing.T) {
	now := time.Now()
	cfg := testConfig()
	stats := CircuitStats{LastSuccess: now.Add(-10 * time.Minute)}
	if IsHealthy(stats, cfg, now) {
		t.Fatal("expected unhealthy with no success inside monitoring window")
	}
}

func TestIsHealthyGood(t *testing.T) {
	now := time.Now()
	cfg := testConfig()
	stats := CircuitStats{LastSuccess: now, LastFailure: now.Add(-2 * time.Minute)}
	if !IsHealthy(stats, cfg, now) {
		t.Fatal("expected healthy")
	}
}

func TestShouldResetClosedBreaker(t *testing.T) {
	now := time.Now()
	stats := CircuitStats{IsOpen: false}
	if ShouldReset(stats, testConfig(), now) {
		t.Fatal("a closed breaker should never report shouldReset")
	}
}

func TestShouldResetBeforeTimeout(t *testing.T) {
	now := time.Now()
	stats := CircuitStats{IsOpen: true, LastFailure: now.Add(-1 * time.Second)}
	if ShouldReset(stats, testConfig(), now) {
		t.Fatal("expected no reset before resetTimeout elapses")
	}
}

func TestShouldResetAfterTimeout(t *testing.T) {
	now := time.Now()
	stats := CircuitStats{IsOpen: true, LastFailure: now.Add(-61 * time.Second)}
	if !ShouldReset(stats, testConfig(), now) {
		t.Fatal("expected reset after resetTimeout elapses")
	}
}

func TestShouldResetBackoffAfterMaxRecoveryAttempts(t *testing.T) {
	now := time.Now()
	cfg := testConfig()
	// Exceeded max recovery attempts: the effective timeout grows, so the
	// ordinary resetTimeout is no longer sufficient.
	stats := CircuitStats{
		IsOpen:           true,
		LastFailure:      now.Add(-61 * time.Second),
		RecoveryAttempts: cfg.MaxRecoveryAttempts + 1,
	}
	if ShouldReset(stats, cfg, now) {
		t.Fatal("expected backed-off reset timeout to not yet be satisfied")
	}
}

func TestCalculateBackoffDelayMonotonic(t *testing.T) {
	cfg := testConfig()
	d0 := CalculateBackoffDelay(0, cfg)
	d1 := CalculateBackoffDelay(1, cfg)
	d2 := CalculateBackoffDelay(2, cfg)

	if d0 <= 0 {
		t.Fatal("backoff delay must be positive")
	}
	if d1 < d0 || d2 < d1 {
		t.Fatalf("expected monotonic growth, got %v, %v, %v", d0, d1, d2)
	}
}

func TestCalculateBackoffDelayCappedAtMonitoringWindow(t *testing.T) {
	cfg := testConfig()
	d := CalculateBackoffDelay(20, cfg)
	if d > cfg.MonitoringWindow {
		t.Fatalf("expected delay capped at monitoring window, got %v", d)
	}
}

func TestCalculateBackoffDelayFloor(t *testing.T) {
	cfg := testConfig()
	cfg.ResetTimeout = 1 * time.Millisecond
	cfg.BackoffMultiplier = 1.01
	d := CalculateBackoffDelay(0, cfg)
	if d < minRecoveryDelay {
		t.Fatalf("expected delay clamped to >=1s floor, got %v", d)
	}
}

func TestEvaluateStatus(t *testing.T) {
	now := time.Now()
	cfg := testConfig()

	open := EvaluateStatus(CircuitStats{IsOpen: true}, cfg, now)
	if open.Status != StatusOpen {
		t.Fatalf("expected open status, got %s", open.Status)
	}

	degraded := EvaluateStatus(CircuitStats{Failures: 1}, cfg, now)
	if degraded.Status != StatusDegraded {
		t.Fatalf("expected degraded status, got %s", degraded.Status)
	}

	closed := EvaluateStatus(CircuitStats{LastSuccess: now}, cfg, now)
	if closed.Status != StatusClosed {
		t.Fatalf("expected closed status, got %s", closed.Status)
	}
}
