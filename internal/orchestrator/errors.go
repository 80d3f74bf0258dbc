package orchestrator

import (
	"errors"
	"fmt"
)

// ErrServiceDisabled marks a service as intentionally disabled by the
// active configuration profile. It is not an error condition for the
// orchestrator: dependents of a disabled service are treated as satisfied.
var ErrServiceDisabled = errors.New("orchestrator: service disabled by active profile")

// ErrCycle is returned by Register when the proposed dependency would
// introduce a cycle in the dependency graph.
var ErrCycle = errors.New("orchestrator: registering this service would introduce a dependency cycle")

// ErrUnknownService is returned by administrative actions referencing a
// service name that was never registered.
var ErrUnknownService = errors.New("orchestrator: unknown service")

// ErrDeniedIdentifier is returned by Register for a name on the deprecated
// identifier denylist.
var ErrDeniedIdentifier = errors.New("orchestrator: service name is a deprecated/denied identifier")

// InitializationError reports that a service's Initialize call failed
// outright (as opposed to being disabled by profile, which is non-fatal).
type InitializationError struct {
	Service string
	Err     error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("orchestrator: failed to initialize service %q: %v", e.Service, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// DependencyError reports that a service could not initialize because one
// of its dependencies failed hard (not merely disabled by profile).
type DependencyError struct {
	Service    string
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("orchestrator: service %q cannot initialize: dependency %q failed: %v",
		e.Service, e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }
