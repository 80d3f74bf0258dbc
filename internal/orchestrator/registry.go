package orchestrator

import (
	"context"
	"sort"

	"github.com/degenduel/supervisor/internal/service"
)

// ManagedService is the subset of *service.Base the orchestrator drives.
// It is an interface, not a concrete type, so tests can register fakes
// without spinning up a real operation loop.
type ManagedService interface {
	Identity() service.Identity
	Initialize(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SafeConfig() service.SafeConfig
	SafeStats() service.SafeStats
	SetDisabled(bool)
	ResetCircuitBreaker()
	UpdateConfig(patch service.ConfigPatch) error
}

// deniedIdentifiers is a curated list of deprecated service names that can
// never be registered, even if a caller supplies correct metadata for
// them — left over from services retired during earlier phases of the
// supervision plane.
var deniedIdentifiers = map[string]struct{}{
	"legacy_token_sync":    {},
	"legacy_wallet_poller": {},
}

type registry struct {
	services map[string]ManagedService
	deps     map[string]map[string]struct{}
}

func newRegistry() *registry {
	return &registry{
		services: make(map[string]ManagedService),
		deps:     make(map[string]map[string]struct{}),
	}
}

// register validates svc and its merged dependency set, rejects on
// deprecated name or introduced cycle, and only commits the instance and
// edges once both checks pass — a rejected registration leaves the
// registry exactly as it was.
func (r *registry) register(svc ManagedService, extraDeps map[string]struct{}) error {
	if svc == nil {
		return &InitializationError{Service: "<nil>", Err: ErrUnknownService}
	}
	identity := svc.Identity()
	if identity.Name == "" {
		return &InitializationError{Service: "", Err: ErrUnknownService}
	}
	if _, denied := deniedIdentifiers[identity.Name]; denied {
		return &InitializationError{Service: identity.Name, Err: ErrDeniedIdentifier}
	}
	if _, exists := r.services[identity.Name]; exists {
		return &InitializationError{Service: identity.Name, Err: ErrUnknownService}
	}

	merged := make(map[string]struct{}, len(identity.Dependencies)+len(extraDeps))
	for dep := range identity.Dependencies {
		merged[dep] = struct{}{}
	}
	for dep := range extraDeps {
		merged[dep] = struct{}{}
	}

	tentativeDeps := make(map[string]map[string]struct{}, len(r.deps)+1)
	for name, edges := range r.deps {
		tentativeDeps[name] = edges
	}
	tentativeDeps[identity.Name] = merged

	if hasCycle(tentativeDeps) {
		return &InitializationError{Service: identity.Name, Err: ErrCycle}
	}

	r.services[identity.Name] = svc
	r.deps[identity.Name] = merged
	return nil
}

// hasCycle runs a three-color DFS over the full dependency graph.
func hasCycle(deps map[string]map[string]struct{}) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(deps))

	var visit func(name string) bool
	visit = func(name string) bool {
		switch color[name] {
		case gray:
			return true
		case black:
			return false
		}
		color[name] = gray
		for dep := range deps[name] {
			if visit(dep) {
				return true
			}
		}
		color[name] = black
		return false
	}

	for name := range deps {
		if color[name] == white {
			if visit(name) {
				return true
			}
		}
	}
	return false
}

// layerOrder computes a flat list of every registered service name,
// grouped by service.LayerOrder. Within a layer, services are listed in an
// arbitrary but stable order; correctness of initialization does not
// depend on intra-layer ordering, since initializeService recursively
// initializes dependencies before their dependents regardless of list
// position.
func (r *registry) layerOrder() []string {
	byLayer := make(map[service.Layer][]string)
	for name, svc := range r.services {
		layer := svc.Identity().Layer
		byLayer[layer] = append(byLayer[layer], name)
	}

	var order []string
	for _, layer := range service.LayerOrder {
		names := byLayer[layer]
		sort.Strings(names)
		order = append(order, names...)
	}
	return order
}
