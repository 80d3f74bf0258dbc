package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/degenduel/supervisor/internal/breakerpolicy"
	"github.com/degenduel/supervisor/internal/eventbus"
)

func testIdentity() Identity {
	return Identity{Name: "test-service", Layer: LayerData}
}

func testConfig() Config {
	return Config{
		Name:          "test-service",
		CheckInterval: 10 * time.Millisecond,
		Backoff:       BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Second, Factor: 2},
		CircuitBreaker: breakerpolicy.BreakerConfig{
			Enabled:             true,
			FailureThreshold:    3,
			ResetTimeout:        50 * time.Millisecond,
			HealthCheckInterval: 10 * time.Millisecond,
			MonitoringWindow:    time.Minute,
			MaxRecoveryAttempts: 5,
			BackoffMultiplier:   2.0,
		},
		Layer: LayerData,
	}
}

func TestNewBasePanicsOnInvalidIdentity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on empty identity name")
		}
	}()
	NewBase(Identity{Layer: LayerData}, testConfig(), eventbus.New(nil))
}

func TestInitializeTransitionsToInitializedAndEmits(t *testing.T) {
	bus := eventbus.New(nil)
	var gotEvent bool
	bus.On("service:initialized", func(eventbus.Event) { gotEvent = true })

	b := NewBase(testIdentity(), testConfig(), bus)
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != StateInitialized {
		t.Fatalf("expected Initialized state, got %s", b.State())
	}
	if !gotEvent {
		t.Fatal("expected service:initialized to be emitted")
	}
}

func TestInitializeAlwaysClearsOpenBreaker(t *testing.T) {
	b := NewBase(testIdentity(), testConfig(), eventbus.New(nil))
	b.stats.CircuitBreaker.IsOpen = true
	b.stats.CircuitBreaker.Failures = 10

	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := b.SafeStats()
	if stats.CircuitBreaker.IsOpen {
		t.Fatal("expected breaker cleared on fresh initialize")
	}
	if stats.CircuitBreaker.Failures != 0 {
		t.Fatal("expected failures reset on fresh initialize")
	}
}

func TestThresholdOpensBreakerAfterConsecutiveFailures(t *testing.T) {
	bus := eventbus.New(nil)
	var errorEvents int
	bus.On("service:error", func(eventbus.Event) { errorEvents++ })

	cfg := testConfig()
	b := NewBase(testIdentity(), cfg, bus)
	b.Operation = func(ctx context.Context) error { return errors.New("boom") }

	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b.handleError(errors.New("boom"))
	b.handleError(errors.New("boom"))
	b.handleError(errors.New("boom"))

	stats := b.SafeStats()
	if !stats.CircuitBreaker.IsOpen {
		t.Fatal("expected breaker open after reaching failure threshold")
	}
	if stats.CircuitBreaker.Failures != 3 {
		t.Fatalf("expected 3 failures recorded, got %d", stats.CircuitBreaker.Failures)
	}
	if errorEvents != 3 {
		t.Fatalf("expected 3 service:error events, got %d", errorEvents)
	}
}

func TestRecoveryAttemptRescheduledBeforeResetTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.CircuitBreaker.ResetTimeout = time.Hour
	b := NewBase(testIdentity(), cfg, eventbus.New(nil))
	b.Operation = func(ctx context.Context) error { return nil }

	b.mu.Lock()
	b.stats.CircuitBreaker.IsOpen = true
	b.stats.CircuitBreaker.LastFailure = time.Now()
	b.mu.Unlock()

	b.attemptCircuitRecovery(context.Background())

	stats := b.SafeStats()
	if !stats.CircuitBreaker.IsOpen {
		t.Fatal("expected breaker to remain open before reset timeout elapses")
	}

	b.recoveryTimerMu.Lock()
	hasTimer := b.recoveryTimer != nil
	b.recoveryTimerMu.Unlock()
	if !hasTimer {
		t.Fatal("expected a recovery timer to be scheduled")
	}
}

func TestCleanRecoveryClosesBreaker(t *testing.T) {
	bus := eventbus.New(nil)
	var gotClosed bool
	bus.On("service:circuit_breaker", func(e eventbus.Event) {
		if evt, ok := e.Payload.(circuitBreakerEvent); ok && evt.Status == "closed" {
			gotClosed = true
		}
	})

	cfg := testConfig()
	b := NewBase(testIdentity(), cfg, bus)
	b.Operation = func(ctx context.Context) error { return nil }

	b.mu.Lock()
	b.stats.CircuitBreaker.IsOpen = true
	b.stats.CircuitBreaker.LastFailure = time.Now().Add(-time.Hour)
	b.mu.Unlock()

	b.attemptCircuitRecovery(context.Background())

	stats := b.SafeStats()
	if stats.CircuitBreaker.IsOpen {
		t.Fatal("expected breaker closed after successful recovery probe")
	}
	if !gotClosed {
		t.Fatal("expected a service:circuit_breaker closed event")
	}
}

func TestTickSkipsWhenBreakerOpen(t *testing.T) {
	b := NewBase(testIdentity(), testConfig(), eventbus.New(nil))
	var calls int32
	b.Operation = func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	b.mu.Lock()
	b.stats.CircuitBreaker.IsOpen = true
	b.mu.Unlock()

	b.tick(context.Background())

	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("expected Operation to not run while breaker is open")
	}
}

func TestTickSkipsWhenDisabled(t *testing.T) {
	b := NewBase(testIdentity(), testConfig(), eventbus.New(nil))
	var calls int32
	b.Operation = func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	b.SetDisabled(true)

	b.tick(context.Background())

	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("expected Operation to not run while disabled")
	}
}

func TestTickNeverOverlapsItsPredecessor(t *testing.T) {
	b := NewBase(testIdentity(), testConfig(), eventbus.New(nil))
	started := make(chan struct{})
	release := make(chan struct{})
	var concurrent int32

	b.Operation = func(ctx context.Context) error {
		atomic.AddInt32(&concurrent, 1)
		started <- struct{}{}
		<-release
		atomic.AddInt32(&concurrent, -1)
		return nil
	}

	go b.tick(context.Background())
	<-started

	b.tick(context.Background())

	if atomic.LoadInt32(&concurrent) != 1 {
		t.Fatalf("expected overlapping tick to be skipped, got %d concurrent", concurrent)
	}
	close(release)
}

func TestRecordSuccessResetsConsecutiveFailures(t *testing.T) {
	b := NewBase(testIdentity(), testConfig(), eventbus.New(nil))
	b.mu.Lock()
	b.stats.History.ConsecutiveFailures = 5
	b.stats.CircuitBreaker.Failures = 2
	b.mu.Unlock()

	b.recordSuccess(time.Millisecond)

	stats := b.SafeStats()
	if stats.History.ConsecutiveFailures != 0 {
		t.Fatal("expected consecutive failures reset on success")
	}
	if stats.CircuitBreaker.Failures != 0 {
		t.Fatal("expected breaker failure count reset on success")
	}
	if stats.Operations.Successful != 1 {
		t.Fatalf("expected one successful operation recorded, got %d", stats.Operations.Successful)
	}
}

func TestStopCancelsRecoveryTimer(t *testing.T) {
	b := NewBase(testIdentity(), testConfig(), eventbus.New(nil))
	b.scheduleRecovery(context.Background(), time.Hour)

	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b.recoveryTimerMu.Lock()
	defer b.recoveryTimerMu.Unlock()
	if b.recoveryTimer != nil {
		t.Fatal("expected recovery timer cleared after Stop")
	}
}

type recordingMetrics struct {
	operations    []string
	breakerStates []bool
}

func (m *recordingMetrics) RecordOperation(ctx context.Context, service, outcome string, durationSeconds float64) {
	m.operations = append(m.operations, outcome)
}

func (m *recordingMetrics) RecordCircuitBreakerState(ctx context.Context, service string, open, degraded bool) {
	m.breakerStates = append(m.breakerStates, open)
}

func TestTickReportsOperationMetricOnSuccessAndFailure(t *testing.T) {
	metrics := &recordingMetrics{}
	b := NewBase(testIdentity(), testConfig(), eventbus.New(nil), WithMetrics(metrics))
	calls := 0
	b.Operation = func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("boom")
		}
		return nil
	}

	b.tick(context.Background())
	b.tick(context.Background())

	if len(metrics.operations) != 2 || metrics.operations[0] != "error" || metrics.operations[1] != "success" {
		t.Fatalf("expected [error success] outcomes recorded, got %v", metrics.operations)
	}
}

func TestHandleErrorReportsBreakerStateOnTrip(t *testing.T) {
	metrics := &recordingMetrics{}
	cfg := testConfig()
	b := NewBase(testIdentity(), cfg, eventbus.New(nil), WithMetrics(metrics))

	b.handleError(errors.New("boom"))
	b.handleError(errors.New("boom"))
	b.handleError(errors.New("boom"))

	if len(metrics.breakerStates) != 3 {
		t.Fatalf("expected a breaker state report per handleError call, got %d", len(metrics.breakerStates))
	}
	if !metrics.breakerStates[2] {
		t.Fatal("expected the breaker state reported on trip to be open")
	}
}

func TestSafeStatsTruncatesLongErrors(t *testing.T) {
	b := NewBase(testIdentity(), testConfig(), eventbus.New(nil))
	longErr := make([]byte, maxSafeErrorLen*2)
	for i := range longErr {
		longErr[i] = 'x'
	}
	b.mu.Lock()
	b.stats.History.LastError = string(longErr)
	b.mu.Unlock()

	safe := b.SafeStats()
	if len(safe.History.LastError) > maxSafeErrorLen+3 {
		t.Fatalf("expected truncated error, got length %d", len(safe.History.LastError))
	}
}
