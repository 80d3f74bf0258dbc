// Package orchestrator holds the service registry and dependency graph: it
// computes initialization order, drives initializeAll/cleanup, persists
// sanitized per-service state, reacts to dispatcher events, and routes
// administrative start/stop/restart/config actions through an audit port.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/degenduel/supervisor/internal/eventbus"
	"github.com/degenduel/supervisor/internal/settingsstore"
)

// failureKind distinguishes a non-fatal profile-disabled service from a
// hard initialization failure; both land in the failed set, but only the
// latter should propagate a DependencyError to dependents.
type failureKind int

const (
	failureHard failureKind = iota
	failureDisabledByConfig
)

// MetricsPort is the narrow interface the orchestrator reports service
// operation outcomes and circuit breaker state to, driven off the same
// lifecycle events wireEventReactions already persists. internal/metrics.
// Recorder implements this; kept as a local interface so this package
// never imports internal/metrics.
type MetricsPort interface {
	RecordOperation(ctx context.Context, service, outcome string, durationSeconds float64)
	RecordCircuitBreakerState(ctx context.Context, service string, open, degraded bool)
}

// Orchestrator owns the dependency registry, the in-memory (full, not
// sanitized) state view, and the administrative surface. The persisted
// view held by the settings store is always the sanitized view.
type Orchestrator struct {
	mu sync.Mutex

	reg *registry

	profile     map[string]bool
	initialized map[string]struct{}
	failed      map[string]failureKind

	state map[string]PersistedState

	persistence settingsstore.Store
	bus         *eventbus.Bus
	audit       AuditPort
	forwarder   StateForwarder
	metrics     MetricsPort
	log         *slog.Logger

	serviceStopTimeout time.Duration
}

// New constructs an Orchestrator. forwarder may be nil until the control
// surface is wired at the composition root.
func New(persistence settingsstore.Store, bus *eventbus.Bus, audit AuditPort, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		reg:                newRegistry(),
		profile:            make(map[string]bool),
		initialized:        make(map[string]struct{}),
		failed:             make(map[string]failureKind),
		state:              make(map[string]PersistedState),
		persistence:        persistence,
		bus:                bus,
		audit:              audit,
		log:                log,
		serviceStopTimeout: 10 * time.Second,
	}
	o.wireEventReactions()
	return o
}

// SetForwarder wires the control surface's state fan-out. Called once at
// composition time after both the orchestrator and control server exist.
func (o *Orchestrator) SetForwarder(f StateForwarder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forwarder = f
}

// SetMetrics wires the metrics sink fed by every subsequent lifecycle
// event. Called once at composition time; a service that records its own
// metrics directly via service.WithMetrics should not also be registered
// with an orchestrator that has SetMetrics wired, or operations double-count.
func (o *Orchestrator) SetMetrics(m MetricsPort) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metrics = m
}

// SetProfile marks the named services as disabled by the active
// configuration profile. Must be called before InitializeAll for profile
// decisions to take effect.
func (o *Orchestrator) SetProfile(disabledServiceNames []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, name := range disabledServiceNames {
		o.profile[name] = true
	}
}

// Register adds svc to the registry, rejecting it on a denied identifier
// or an introduced dependency cycle.
func (o *Orchestrator) Register(svc ManagedService, extraDeps map[string]struct{}) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reg.register(svc, extraDeps)
}

// InitializeAll walks the registry in layer order (infrastructure -> data
// -> contest -> wallet), recursively initializing each service's
// dependencies first, and starting every service that initializes
// successfully. It returns every failure (InitializationError or
// DependencyError) joined with errors.Join, or nil if there were none.
func (o *Orchestrator) InitializeAll(ctx context.Context) error {
	o.mu.Lock()
	order := o.reg.layerOrder()
	o.mu.Unlock()

	var errs []error
	for _, name := range order {
		if err := o.initializeService(ctx, name); err != nil {
			o.log.Error("orchestrator: service failed to initialize", "service", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) initializeService(ctx context.Context, name string) error {
	o.mu.Lock()
	if _, done := o.initialized[name]; done {
		o.mu.Unlock()
		return nil
	}
	if _, done := o.failed[name]; done {
		o.mu.Unlock()
		return nil
	}
	svc, ok := o.reg.services[name]
	deps := o.reg.deps[name]
	disabled := o.profile[name]
	o.mu.Unlock()

	if !ok {
		return &InitializationError{Service: name, Err: ErrUnknownService}
	}

	for dep := range deps {
		// The recursive call's own return value is not propagated directly:
		// a dependency's failure must surface to its dependent as a
		// DependencyError, not as the dependency's own InitializationError.
		_ = o.initializeService(ctx, dep)

		o.mu.Lock()
		kind, depFailed := o.failed[dep]
		o.mu.Unlock()
		if depFailed && kind != failureDisabledByConfig {
			depErr := &DependencyError{Service: name, Dependency: dep, Err: fmt.Errorf("dependency failed to initialize")}
			o.mu.Lock()
			o.failed[name] = failureHard
			o.mu.Unlock()
			o.persistError(ctx, name, depErr)
			return depErr
		}
		// A disabled_by_config dependency is treated as satisfied.
	}

	if disabled {
		svc.SetDisabled(true)
		o.mu.Lock()
		o.failed[name] = failureDisabledByConfig
		o.mu.Unlock()
		o.persistDisabled(ctx, name, svc)
		return nil
	}

	if err := svc.Initialize(ctx); err != nil {
		initErr := &InitializationError{Service: name, Err: err}
		o.mu.Lock()
		o.failed[name] = failureHard
		o.mu.Unlock()
		o.persistError(ctx, name, initErr)
		return initErr
	}

	if err := svc.Start(ctx); err != nil {
		startErr := &InitializationError{Service: name, Err: err}
		o.mu.Lock()
		o.failed[name] = failureHard
		o.mu.Unlock()
		o.persistError(ctx, name, startErr)
		return startErr
	}

	o.mu.Lock()
	o.initialized[name] = struct{}{}
	o.mu.Unlock()
	o.persistActive(ctx, name, svc)
	return nil
}

// Cleanup stops every initialized service in reverse initialization order,
// with a per-service timeout. It does not abort on the first failure: it
// collects every stop error and keeps going.
func (o *Orchestrator) Cleanup(ctx context.Context) []error {
	o.mu.Lock()
	order := o.reg.layerOrder()
	o.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]

		o.mu.Lock()
		_, isInitialized := o.initialized[name]
		svc, ok := o.reg.services[name]
		o.mu.Unlock()
		if !isInitialized || !ok {
			continue
		}

		stopCtx, cancel := context.WithTimeout(ctx, o.serviceStopTimeout)
		err := svc.Stop(stopCtx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("orchestrator: stop %q: %w", name, err))
		}
		o.persistStopped(ctx, name, svc)
	}

	o.mu.Lock()
	o.reg = newRegistry()
	o.initialized = make(map[string]struct{})
	o.failed = make(map[string]failureKind)
	o.mu.Unlock()

	return errs
}
