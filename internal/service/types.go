// Package service implements the base service contract that every concrete
// supervised service composes: a lifecycle state machine, a periodic
// operation loop, success/failure accounting, and per-service circuit
// breaker hooks built on top of internal/breakerpolicy's pure functions.
package service

import (
	"fmt"
	"time"

	"github.com/degenduel/supervisor/internal/breakerpolicy"
)

// Layer is the fixed startup ordering tier a service belongs to. The
// orchestrator visits layers in this declared order, infrastructure first.
type Layer string

const (
	LayerInfrastructure Layer = "infrastructure"
	LayerData           Layer = "data"
	LayerContest        Layer = "contest"
	LayerWallet         Layer = "wallet"
)

// LayerOrder is the fixed visitation order for topological initialization.
var LayerOrder = []Layer{LayerInfrastructure, LayerData, LayerContest, LayerWallet}

// Identity is a service's stable, runtime-immutable metadata.
type Identity struct {
	Name          string
	DisplayName   string
	Layer         Layer
	CriticalLevel int
	Description   string
	Dependencies  map[string]struct{}
}

// Validate panics on a malformed identity: identities are supplied by the
// programmer at service-construction time, never from untrusted input, so
// a panic here is the same "fail fast on a programmer error" posture
// breakerpolicy's callers and the teacher's decorator constructors use.
func (id Identity) Validate() {
	if id.Name == "" {
		panic("service: Identity.Name must not be empty")
	}
	switch id.Layer {
	case LayerInfrastructure, LayerData, LayerContest, LayerWallet:
	default:
		panic(fmt.Sprintf("service: Identity.Layer %q is not a recognized layer", id.Layer))
	}
}

// BackoffConfig governs generic operation retry spacing, independent of the
// circuit breaker's own backoff.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

// Config is a concrete service's tunable configuration.
type Config struct {
	Name          string
	CheckInterval time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	Backoff       BackoffConfig
	CircuitBreaker breakerpolicy.BreakerConfig
	Layer         Layer
	CriticalLevel int
	Dependencies  map[string]struct{}
}

// Validate panics on a configuration whose invariants are violated by
// programmer error (zero interval, inverted delay bounds). Values that can
// originate from an external admin action (a control-surface config update)
// must be checked explicitly by the caller before reaching here — see
// Base.UpdateConfig, which rejects a non-positive interval with a
// LifecycleError.
func (c Config) Validate() {
	if c.CheckInterval <= 0 {
		panic("service: Config.CheckInterval must be positive")
	}
	if c.MaxRetries < 0 {
		panic("service: Config.MaxRetries must be non-negative")
	}
	if c.RetryDelay < 0 {
		panic("service: Config.RetryDelay must be non-negative")
	}
	if c.Backoff.InitialDelay <= 0 {
		panic("service: Config.Backoff.InitialDelay must be positive")
	}
	if c.Backoff.MaxDelay < c.Backoff.InitialDelay {
		panic("service: Config.Backoff.MaxDelay must be >= InitialDelay")
	}
	if c.Backoff.Factor <= 1 {
		panic("service: Config.Backoff.Factor must be > 1")
	}
}

// OperationStats tracks the operations.{total,successful,failed} triple.
type OperationStats struct {
	Total      int64
	Successful int64
	Failed     int64
}

// PerformanceStats tracks rolling operation timing.
type PerformanceStats struct {
	LastOperationTime    time.Duration
	AverageOperationTime time.Duration
}

// HistoryStats tracks lifecycle timestamps and the consecutive-failure run.
type HistoryStats struct {
	LastStarted         time.Time
	LastStopped         time.Time
	LastError           string
	LastErrorTime        time.Time
	ConsecutiveFailures int
}

// Stats is the full mutable runtime snapshot for a service. Stats is never
// shared by pointer outside the owning Base: callers read a copy via
// SafeStats.
type Stats struct {
	Operations     OperationStats
	Performance    PerformanceStats
	CircuitBreaker breakerpolicy.CircuitStats
	History        HistoryStats
}

// State is the lifecycle state machine's current position.
type State string

const (
	StateUninstalled State = "uninstalled"
	StateInitialized State = "initialized"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
	StateBreakerOpen State = "breaker_open"
)

// Runtime is private lifecycle bookkeeping, driven only by Base itself or
// the orchestrator that calls Initialize/Start/Stop — never mutated
// externally.
type Runtime struct {
	IsInitialized bool
	IsStarted     bool
	State         State
}
