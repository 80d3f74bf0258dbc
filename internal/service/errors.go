package service

import "fmt"

// OperationError wraps a failure returned by Operation, attributing it to
// the service that produced it.
type OperationError struct {
	Service string
	Err     error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("service %q: operation failed: %v", e.Service, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// NewOperationError constructs an OperationError.
func NewOperationError(service string, err error) *OperationError {
	return &OperationError{Service: service, Err: err}
}

// LifecycleError reports a failure in a lifecycle transition (initialize,
// start, stop, config update) that is not itself an operation failure.
type LifecycleError struct {
	Service string
	Op      string
	Reason  string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("service %q: %s: %s", e.Service, e.Op, e.Reason)
}
