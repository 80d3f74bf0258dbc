package orchestrator

import (
	"context"
	"time"

	"github.com/degenduel/supervisor/internal/eventbus"
	"github.com/degenduel/supervisor/internal/service"
)

// wireEventReactions subscribes to every service lifecycle/health event and
// updates persisted state accordingly, forwarding to the control surface
// via the StateForwarder. This is the dispatcher side of the dataflow: a
// service emits, the orchestrator reacts and persists.
func (o *Orchestrator) wireEventReactions() {
	if o.bus == nil {
		return
	}

	react := func(statusFor func(service.SafeStats) Status, operationOutcome string) eventbus.Handler {
		return func(evt eventbus.Event) {
			stats, ok := evt.Payload.(service.SafeStats)
			if !ok {
				return
			}
			if operationOutcome != "" {
				o.recordOperationMetric(evt.Name, operationOutcome, stats)
			}
			o.recordBreakerMetric(evt.Name, stats)
			o.updateServiceState(context.Background(), evt.Name, PersistedState{
				Status:  statusFor(stats),
				Running: true,
				Stats:   stats,
			})
		}
	}

	o.bus.On("service:initialized", react(func(service.SafeStats) Status { return StatusActive }, ""))
	o.bus.On("service:started", react(func(service.SafeStats) Status { return StatusActive }, ""))
	o.bus.On("service:heartbeat", react(func(stats service.SafeStats) Status {
		if stats.CircuitBreaker.IsOpen {
			return StatusCircuitOpen
		}
		return StatusHealthy
	}, "success"))
	o.bus.On("service:error", react(func(stats service.SafeStats) Status {
		if stats.CircuitBreaker.IsOpen {
			return StatusCircuitOpen
		}
		return StatusDegraded
	}, "error"))

	o.bus.On("service:stopped", func(evt eventbus.Event) {
		stats, _ := evt.Payload.(service.SafeStats)
		o.updateServiceState(context.Background(), evt.Name, PersistedState{
			Status:      StatusStopped,
			Running:     false,
			LastStopped: time.Now(),
			Stats:       stats,
		})
	})

	o.bus.On("service:circuit_breaker", func(evt eventbus.Event) {
		o.updateServiceState(context.Background(), evt.Name, PersistedState{
			Status:  StatusRecovered,
			Running: true,
		})
	})
}

// recordOperationMetric reports one tick's outcome and duration to the
// metrics sink, if one is wired. Duration is only populated on success
// (an error outcome reports 0): SafeStats does not track a failed
// operation's elapsed time.
func (o *Orchestrator) recordOperationMetric(name, outcome string, stats service.SafeStats) {
	o.mu.Lock()
	m := o.metrics
	o.mu.Unlock()
	if m == nil {
		return
	}
	duration := 0.0
	if outcome == "success" {
		duration = stats.Performance.LastOperationTime.Seconds()
	}
	m.RecordOperation(context.Background(), name, outcome, duration)
}

// recordBreakerMetric reports the current circuit breaker state to the
// metrics sink, if one is wired.
func (o *Orchestrator) recordBreakerMetric(name string, stats service.SafeStats) {
	o.mu.Lock()
	m := o.metrics
	o.mu.Unlock()
	if m == nil {
		return
	}
	degraded := !stats.CircuitBreaker.IsOpen && stats.CircuitBreaker.Failures > 0
	m.RecordCircuitBreakerState(context.Background(), name, stats.CircuitBreaker.IsOpen, degraded)
}
