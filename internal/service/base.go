package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/degenduel/supervisor/internal/breakerpolicy"
	"github.com/degenduel/supervisor/internal/eventbus"
)

// Operation is the extension point every concrete service supplies. It
// replaces an onPerformOperation() interface method: concrete services
// compose *Base and assign Operation rather than implementing a method,
// per the base-as-struct-plus-required-field design. Operation must be
// idempotent, since Stop does not wait for an in-flight call to return.
type Operation func(ctx context.Context) error

// PersistencePort is the narrow restore contract Base consults during
// Initialize. It intentionally exposes only the curated fields a service
// is allowed to restore, not a full persisted record: the rest of a
// persisted state document belongs to the orchestrator and the
// persistence port proper (internal/settingsstore), which Base never
// touches directly.
type PersistencePort interface {
	LoadRestoredState(ctx context.Context, serviceName string) (RestoredState, bool, error)
}

// RestoredState is the curated subset of prior persisted state a service
// is allowed to restore at initialize time.
type RestoredState struct {
	OperationsTotal      int64
	OperationsSuccessful int64
	OperationsFailed     int64
	LastStarted          time.Time
	LastStopped          time.Time
	LastError            string
	LastErrorTime        time.Time
	WasBreakerOpen       bool
	WhitelistedConfig    map[string]any
}

// AlertPort notifies an operator channel when the breaker trips. Alert
// failures are always best-effort: Base logs and swallows them, since an
// alerting outage must never block error handling.
type AlertPort interface {
	Alert(ctx context.Context, serviceName, message string) error
}

// MetricsRecorder is the narrow metrics sink Base reports tick outcomes and
// circuit breaker transitions to. internal/metrics.Recorder implements
// this; kept as a local interface so this package never imports
// internal/metrics.
type MetricsRecorder interface {
	RecordOperation(ctx context.Context, service, outcome string, durationSeconds float64)
	RecordCircuitBreakerState(ctx context.Context, service string, open, degraded bool)
}

// Base is the concrete lifecycle state machine, periodic operation loop,
// stats tracker, and circuit breaker host shared by every supervised
// service. Concrete services embed *Base and supply Operation.
type Base struct {
	identity Identity
	config   Config

	bus         *eventbus.Bus
	persistence PersistencePort
	alerts      AlertPort
	metrics     MetricsRecorder
	log         *slog.Logger

	Operation Operation

	mu       sync.Mutex
	stats    Stats
	runtime  Runtime
	disabled bool

	ticking        atomic.Bool
	cancelLoop     context.CancelFunc
	recoveryTimer  *time.Timer
	recoveryTimerMu sync.Mutex
}

// Option configures a Base at construction time.
type Option func(*Base)

// WithPersistence injects the persistence port consulted during Initialize.
func WithPersistence(p PersistencePort) Option {
	return func(b *Base) { b.persistence = p }
}

// WithAlerts injects the best-effort operator alert channel.
func WithAlerts(a AlertPort) Option {
	return func(b *Base) { b.alerts = a }
}

// WithMetrics injects the sink that tick outcomes and circuit breaker
// transitions are reported to.
func WithMetrics(m MetricsRecorder) Option {
	return func(b *Base) { b.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Base) { b.log = log }
}

// NewBase validates identity and config (panicking on programmer error,
// per Identity.Validate/Config.Validate) and constructs a Base wired to
// bus for event emission.
func NewBase(identity Identity, cfg Config, bus *eventbus.Bus, opts ...Option) *Base {
	identity.Validate()
	cfg.Validate()

	b := &Base{
		identity: identity,
		config:   cfg,
		bus:      bus,
		log:      slog.Default(),
		runtime:  Runtime{State: StateUninstalled},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Identity returns the service's immutable metadata.
func (b *Base) Identity() Identity { return b.identity }

// State returns the current lifecycle state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runtime.State
}

// SetDisabled marks the service as disabled by the active configuration
// profile. The orchestrator sets this, instead of calling Initialize, when
// the profile excludes this service; a disabled service's ticks are no-ops.
func (b *Base) SetDisabled(disabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disabled = disabled
}

// Initialize consults the persistence port for prior state, restores only
// the curated fields, and transitions Uninstalled -> Initialized. It
// always clears any previously-open breaker (isOpen=false, failures=0,
// lastReset=now) so a fresh process never inherits a stuck-open breaker;
// if the restored state indicates the breaker was open, a recovery attempt
// is scheduled instead, per spec.
func (b *Base) Initialize(ctx context.Context) error {
	now := time.Now()
	var wasOpen bool

	if b.persistence != nil {
		restored, found, err := b.persistence.LoadRestoredState(ctx, b.identity.Name)
		if err != nil {
			b.log.Warn("service: failed to load restored state, starting fresh",
				"service", b.identity.Name, "error", err)
		} else if found {
			b.mu.Lock()
			b.stats.Operations.Total = restored.OperationsTotal
			b.stats.Operations.Successful = restored.OperationsSuccessful
			b.stats.Operations.Failed = restored.OperationsFailed
			b.stats.History.LastStarted = restored.LastStarted
			b.stats.History.LastStopped = restored.LastStopped
			b.stats.History.LastError = restored.LastError
			b.stats.History.LastErrorTime = restored.LastErrorTime
			b.mu.Unlock()
			wasOpen = restored.WasBreakerOpen
		}
	}

	b.mu.Lock()
	b.stats.CircuitBreaker.IsOpen = false
	b.stats.CircuitBreaker.Failures = 0
	b.stats.CircuitBreaker.LastReset = now
	b.runtime.IsInitialized = true
	b.runtime.State = StateInitialized
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.Emit("service:initialized", b.identity.Name, b.SafeStats())
	}

	if wasOpen {
		b.attemptCircuitRecovery(ctx)
	}

	return nil
}

// Start transitions Initialized -> Started and begins the periodic
// operation loop.
func (b *Base) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.runtime.IsStarted = true
	b.runtime.State = StateStarted
	b.stats.History.LastStarted = time.Now()
	b.mu.Unlock()

	b.cancelLoop = cancel
	go b.runLoop(loopCtx)

	if b.bus != nil {
		b.bus.Emit("service:started", b.identity.Name, b.SafeStats())
	}
	return nil
}

// Stop cancels the operation timer and any pending recovery timer. It does
// not wait for an in-flight operation to return — Operation implementations
// must be idempotent.
func (b *Base) Stop(ctx context.Context) error {
	if b.cancelLoop != nil {
		b.cancelLoop()
	}
	b.recoveryTimerMu.Lock()
	if b.recoveryTimer != nil {
		b.recoveryTimer.Stop()
		b.recoveryTimer = nil
	}
	b.recoveryTimerMu.Unlock()

	b.mu.Lock()
	b.runtime.IsStarted = false
	b.runtime.State = StateStopped
	b.stats.History.LastStopped = time.Now()
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.Emit("service:stopped", b.identity.Name, b.SafeStats())
	}
	return nil
}

func (b *Base) runLoop(ctx context.Context) {
	ticker := time.NewTicker(b.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

// tick runs at most one operation at a time per service: if the previous
// tick's operation is still in flight, this tick is skipped entirely
// rather than queued.
func (b *Base) tick(ctx context.Context) {
	if !b.ticking.CompareAndSwap(false, true) {
		return
	}
	defer b.ticking.Store(false)

	b.mu.Lock()
	disabled := b.disabled
	breakerOpen := b.stats.CircuitBreaker.IsOpen
	b.mu.Unlock()

	if disabled || breakerOpen {
		return
	}

	if b.Operation == nil {
		return
	}

	start := time.Now()
	err := b.Operation(ctx)
	elapsed := time.Since(start)

	if err != nil {
		b.recordMetricOutcome(ctx, "error", elapsed)
		b.handleError(err)
	} else {
		b.recordMetricOutcome(ctx, "success", elapsed)
		b.recordSuccess(elapsed)
	}
}

// recordMetricOutcome reports one tick's outcome and duration to the
// metrics sink, if one is configured.
func (b *Base) recordMetricOutcome(ctx context.Context, outcome string, elapsed time.Duration) {
	if b.metrics != nil {
		b.metrics.RecordOperation(ctx, b.identity.Name, outcome, elapsed.Seconds())
	}
}

// recordMetricBreakerState reports the current circuit breaker state to
// the metrics sink, if one is configured.
func (b *Base) recordMetricBreakerState(ctx context.Context, stats breakerpolicy.CircuitStats) {
	if b.metrics == nil {
		return
	}
	degraded := !stats.IsOpen && stats.Failures > 0 && stats.Failures < b.config.CircuitBreaker.FailureThreshold
	b.metrics.RecordCircuitBreakerState(ctx, b.identity.Name, stats.IsOpen, degraded)
}

// recordSuccess updates operation counters on a successful tick and emits
// service:heartbeat.
func (b *Base) recordSuccess(elapsed time.Duration) {
	b.mu.Lock()
	b.stats.Operations.Total++
	b.stats.Operations.Successful++
	b.stats.Performance.LastOperationTime = elapsed
	b.stats.Performance.AverageOperationTime = averageDuration(
		b.stats.Performance.AverageOperationTime, elapsed, b.stats.Operations.Total)
	b.stats.CircuitBreaker.LastSuccess = time.Now()
	b.stats.CircuitBreaker.Failures = 0
	b.stats.History.ConsecutiveFailures = 0
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.Emit("service:heartbeat", b.identity.Name, b.SafeStats())
	}
}

// handleError updates failure counters and, once the failure threshold is
// reached, opens the breaker, sends a best-effort operator alert, and
// kicks off a recovery attempt.
func (b *Base) handleError(opErr error) {
	now := time.Now()
	var tripped bool

	b.mu.Lock()
	b.stats.Operations.Total++
	b.stats.Operations.Failed++
	b.stats.History.ConsecutiveFailures++
	b.stats.History.LastError = opErr.Error()
	b.stats.History.LastErrorTime = now
	b.stats.CircuitBreaker.Failures++
	b.stats.CircuitBreaker.LastFailure = now

	if b.stats.CircuitBreaker.Failures >= b.config.CircuitBreaker.FailureThreshold && !b.stats.CircuitBreaker.IsOpen {
		b.stats.CircuitBreaker.IsOpen = true
		tripped = true
	}
	snapshot := b.stats.CircuitBreaker
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.Emit("service:error", b.identity.Name, b.SafeStats())
	}
	b.recordMetricBreakerState(context.Background(), snapshot)

	if tripped {
		if b.alerts != nil {
			if alertErr := b.alerts.Alert(context.Background(), b.identity.Name, opErr.Error()); alertErr != nil {
				b.log.Warn("service: operator alert failed", "service", b.identity.Name, "error", alertErr)
			}
		}
		b.attemptCircuitRecovery(context.Background())
	}
}

// attemptCircuitRecovery implements the recovery probe: if the backoff
// window hasn't elapsed yet, it reschedules itself; otherwise it probes
// Operation once with the breaker provisionally closed, and either commits
// the close or reopens and reschedules.
func (b *Base) attemptCircuitRecovery(ctx context.Context) {
	now := time.Now()

	b.mu.Lock()
	statsSnapshot := b.stats.CircuitBreaker
	cfg := b.config.CircuitBreaker
	b.mu.Unlock()

	if !breakerpolicy.ShouldReset(statsSnapshot, cfg, now) {
		delay := breakerpolicy.CalculateBackoffDelay(statsSnapshot.RecoveryAttempts, cfg)
		b.scheduleRecovery(ctx, delay)
		return
	}

	b.mu.Lock()
	b.stats.CircuitBreaker.IsOpen = false
	b.mu.Unlock()

	var opErr error
	if b.Operation != nil {
		opErr = b.Operation(ctx)
	}

	recovered := opErr == nil

	b.mu.Lock()
	if recovered {
		b.stats.CircuitBreaker.IsOpen = false
		b.stats.CircuitBreaker.Failures = 0
		b.stats.CircuitBreaker.LastReset = now
		b.stats.CircuitBreaker.LastSuccess = now
		b.stats.CircuitBreaker.RecoveryAttempts = 0
		b.stats.History.ConsecutiveFailures = 0
	} else {
		b.stats.CircuitBreaker.IsOpen = true
		b.stats.CircuitBreaker.Failures++
		b.stats.CircuitBreaker.LastFailure = now
		b.stats.CircuitBreaker.RecoveryAttempts++
	}
	snapshot := b.stats.CircuitBreaker
	b.mu.Unlock()

	if b.bus != nil {
		status := "open"
		if recovered {
			status = "closed"
		}
		b.bus.Emit("service:circuit_breaker", b.identity.Name, circuitBreakerEvent{
			Status: status,
			Stats:  snapshot,
		})
	}
	b.recordMetricBreakerState(ctx, snapshot)

	if !recovered {
		delay := breakerpolicy.CalculateBackoffDelay(snapshot.RecoveryAttempts, b.config.CircuitBreaker)
		b.scheduleRecovery(ctx, delay)
	}
}

type circuitBreakerEvent struct {
	Status string
	Stats  breakerpolicy.CircuitStats
}

func (b *Base) scheduleRecovery(ctx context.Context, delay time.Duration) {
	delay = breakerpolicy.ClampRecoveryDelay(delay)

	b.recoveryTimerMu.Lock()
	defer b.recoveryTimerMu.Unlock()

	if b.recoveryTimer != nil {
		b.recoveryTimer.Stop()
	}
	b.recoveryTimer = time.AfterFunc(delay, func() {
		b.attemptCircuitRecovery(ctx)
	})
}

func averageDuration(prevAvg, latest time.Duration, count int64) time.Duration {
	if count <= 1 {
		return latest
	}
	total := prevAvg.Nanoseconds()*(count-1) + latest.Nanoseconds()
	return time.Duration(total / count)
}
