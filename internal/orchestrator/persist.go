package orchestrator

import (
	"context"
	"time"

	"github.com/degenduel/supervisor/internal/safeserial"
)

const settingsKeyPrefix = "service:"

// updateServiceState composes a sanitized record via the safe serializer
// and upserts it through the persistence port. The in-memory state map
// holds the full (already-sanitized, since service.SafeStats/SafeConfig
// are themselves bounded) view; this is also exactly what is written
// through, since the orchestrator never holds an unsanitized stats
// snapshot of its own.
func (o *Orchestrator) updateServiceState(ctx context.Context, name string, state PersistedState) {
	o.mu.Lock()
	prev, existed := o.state[name]
	if existed {
		state.UpdateCount = prev.UpdateCount + 1
	} else {
		state.UpdateCount = 1
	}
	state.LastCheck = time.Now()
	o.state[name] = state
	forwarder := o.forwarder
	o.mu.Unlock()

	sanitized := safeserial.Serialize(state, safeserial.DefaultBudget)
	if o.persistence != nil {
		if err := o.persistence.Upsert(ctx, settingsKeyPrefix+name, sanitized, "supervised service state"); err != nil {
			o.log.Error("orchestrator: failed to persist service state", "service", name, "error", err)
		}
	}

	if forwarder != nil {
		forwarder.ForwardServiceUpdate(name, state)
	}
}

func (o *Orchestrator) persistActive(ctx context.Context, name string, svc ManagedService) {
	o.updateServiceState(ctx, name, PersistedState{
		Status:      StatusActive,
		Running:     true,
		LastStarted: time.Now(),
		Config:      svc.SafeConfig(),
		Stats:       svc.SafeStats(),
	})
}

func (o *Orchestrator) persistStopped(ctx context.Context, name string, svc ManagedService) {
	o.updateServiceState(ctx, name, PersistedState{
		Status:      StatusStopped,
		Running:     false,
		LastStopped: time.Now(),
		Config:      svc.SafeConfig(),
		Stats:       svc.SafeStats(),
	})
}

func (o *Orchestrator) persistDisabled(ctx context.Context, name string, svc ManagedService) {
	o.updateServiceState(ctx, name, PersistedState{
		Status:  StatusDisabledByConfig,
		Running: false,
		Config:  svc.SafeConfig(),
		Stats:   svc.SafeStats(),
	})
}

func (o *Orchestrator) persistError(ctx context.Context, name string, err error) {
	o.updateServiceState(ctx, name, PersistedState{
		Status:        StatusError,
		Running:       false,
		LastError:     err.Error(),
		LastErrorTime: time.Now(),
	})
}
