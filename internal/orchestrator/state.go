package orchestrator

import (
	"time"

	"github.com/degenduel/supervisor/internal/service"
)

// Status is the persisted lifecycle/health classification for a service.
type Status string

const (
	StatusUnknown        Status = "unknown"
	StatusActive         Status = "active"
	StatusStopped        Status = "stopped"
	StatusError          Status = "error"
	StatusRecovered      Status = "recovered"
	StatusDisabledByConfig Status = "disabled_by_config"
	StatusCircuitOpen    Status = "circuit_open"
	StatusDegraded       Status = "degraded"
	StatusUnhealthy      Status = "unhealthy"
	StatusHealthy        Status = "healthy"
)

// PersistedState is the durable, sanitized view of a service's status,
// written through the persistence port. UpdateCount is advisory only —
// consumers of its exact value are not specified.
type PersistedState struct {
	Status        Status
	Running       bool
	LastCheck     time.Time
	LastStarted   time.Time
	LastStopped   time.Time
	LastError     string
	LastErrorTime time.Time
	UpdateCount   int
	Config        service.SafeConfig
	Stats         service.SafeStats
}

// StateForwarder receives every persisted-state update so the control
// surface can fan it out to subscribed clients without the orchestrator
// depending on internal/control directly.
type StateForwarder interface {
	ForwardServiceUpdate(name string, state PersistedState)
}
