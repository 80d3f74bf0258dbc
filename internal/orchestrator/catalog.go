package orchestrator

import (
	"sort"

	"github.com/degenduel/supervisor/internal/service"
)

// CatalogEntry describes one registered service's static metadata, the
// shape sent to the Control Surface's "get:service-catalog" request.
type CatalogEntry struct {
	Name          string              `json:"name"`
	DisplayName   string              `json:"displayName"`
	Layer         service.Layer       `json:"layer"`
	CriticalLevel int                 `json:"criticalLevel"`
	Description   string              `json:"description"`
	Dependencies  []string            `json:"dependencies"`
}

// Catalog returns static metadata for every registered service.
func (o *Orchestrator) Catalog() []CatalogEntry {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries := make([]CatalogEntry, 0, len(o.reg.services))
	for name, svc := range o.reg.services {
		identity := svc.Identity()
		deps := make([]string, 0, len(identity.Dependencies))
		for dep := range identity.Dependencies {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		entries = append(entries, CatalogEntry{
			Name:          name,
			DisplayName:   identity.DisplayName,
			Layer:         identity.Layer,
			CriticalLevel: identity.CriticalLevel,
			Description:   identity.Description,
			Dependencies:  deps,
		})
	}
	return entries
}

// State returns the last persisted state for name, if any.
func (o *Orchestrator) State(name string) (PersistedState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.state[name]
	return state, ok
}

// AllStates returns a snapshot of every service's last persisted state.
func (o *Orchestrator) AllStates() map[string]PersistedState {
	o.mu.Lock()
	defer o.mu.Unlock()
	snapshot := make(map[string]PersistedState, len(o.state))
	for name, state := range o.state {
		snapshot[name] = state
	}
	return snapshot
}

// DependencyGraph returns the registered dependency edges, service name to
// the names of services it depends on.
func (o *Orchestrator) DependencyGraph() map[string][]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	graph := make(map[string][]string, len(o.reg.deps))
	for name, edges := range o.reg.deps {
		names := make([]string, 0, len(edges))
		for dep := range edges {
			names = append(names, dep)
		}
		sort.Strings(names)
		graph[name] = names
	}
	return graph
}

// HasService reports whether name is currently registered.
func (o *Orchestrator) HasService(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.reg.services[name]
	return ok
}
