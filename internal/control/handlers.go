package control

import (
	"context"
	"encoding/json"
	"time"

	"github.com/degenduel/supervisor/internal/orchestrator"
	"github.com/degenduel/supervisor/internal/service"
)

// handleFrame dispatches a single inbound frame to the appropriate action
// and enqueues the response frame(s) on the session's send channel.
func (s *Server) handleFrame(ctx context.Context, sess *session, frame Frame) {
	switch frame.Type {
	case InHeartbeat:
		sess.touchHeartbeat()
		sess.send <- mustFrame(OutHeartbeatAck, nil)

	case InServiceSubscribe:
		s.withServicePayload(sess, frame, func(name string) {
			sess.subscribe(name)
		})

	case InServiceUnsubscribe:
		s.withServicePayload(sess, frame, func(name string) {
			sess.unsubscribe(name)
		})

	case InServiceStart:
		s.withServicePayload(sess, frame, func(name string) {
			s.runAdmin(ctx, sess, name, "start", ErrServiceStartError, func(admin orchestrator.AdminContext) error {
				return s.orch.StartService(ctx, admin, name)
			})
		})

	case InServiceStop:
		s.withServicePayload(sess, frame, func(name string) {
			s.runAdmin(ctx, sess, name, "stop", ErrServiceStopError, func(admin orchestrator.AdminContext) error {
				return s.orch.StopService(ctx, admin, name)
			})
		})

	case InServiceRestart:
		s.withServicePayload(sess, frame, func(name string) {
			s.runAdmin(ctx, sess, name, "restart", ErrServiceRestartError, func(admin orchestrator.AdminContext) error {
				return s.orch.RestartService(ctx, admin, name)
			})
		})

	case InCircuitBreakerReset:
		s.withServicePayload(sess, frame, func(name string) {
			s.runAdmin(ctx, sess, name, "circuit-breaker:reset", ErrCircuitBreakerReset, func(admin orchestrator.AdminContext) error {
				return s.orch.ResetCircuitBreaker(ctx, admin, name)
			})
		})

	case InGetServiceCatalog:
		sess.send <- mustFrame(OutServiceCatalog, s.orch.Catalog())

	case InGetServiceState:
		s.withServicePayload(sess, frame, func(name string) {
			state, ok := s.orch.State(name)
			if !ok {
				sess.send <- errorFrame(ErrServiceNotFound, name)
				return
			}
			sess.send <- mustFrame(OutServiceState, serviceUpdatePayload(name, state))
		})

	case InGetAllStates:
		sess.send <- mustFrame(OutAllStates, s.orch.AllStates())

	case InGetDependencyGraph:
		sess.send <- mustFrame(OutDependencyGraph, s.orch.DependencyGraph())

	case InServiceConfigUpdate:
		s.handleConfigUpdate(ctx, sess, frame)

	default:
		sess.send <- errorFrame(ErrUnknownCommand, frame.Type)
	}
}

func (s *Server) withServicePayload(sess *session, frame Frame, fn func(name string)) {
	var payload ServicePayload
	if frame.Payload == nil {
		sess.send <- errorFrame(ErrMissingService, "missing service payload")
		return
	}
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.Service == "" {
		sess.send <- errorFrame(ErrMissingService, "missing or invalid service name")
		return
	}
	if !s.orch.HasService(payload.Service) {
		sess.send <- errorFrame(ErrServiceNotFound, payload.Service)
		return
	}
	fn(payload.Service)
}

func (s *Server) runAdmin(ctx context.Context, sess *session, name, op, failCode string, fn func(admin orchestrator.AdminContext) error) {
	admin := orchestrator.AdminContext{
		AdminID:   sess.identity.AdminID,
		IP:        sess.identity.IP,
		UserAgent: sess.identity.UserAgent,
	}
	if err := fn(admin); err != nil {
		sess.send <- errorFrame(failCode, err.Error())
		return
	}
	sess.send <- mustFrame(outSuccess(op), ServicePayload{Service: name})
}

// wireConfigPatch is the JSON wire shape of a config-update request; its
// duration fields are milliseconds, matching the control surface's JSON
// protocol rather than Go's native duration encoding.
type wireConfigPatch struct {
	CheckIntervalMs                *int64 `json:"checkIntervalMs,omitempty"`
	MaxRetries                     *int   `json:"maxRetries,omitempty"`
	CircuitBreakerFailureThreshold *int   `json:"circuitBreakerFailureThreshold,omitempty"`
	CircuitBreakerResetTimeoutMs   *int64 `json:"circuitBreakerResetTimeoutMs,omitempty"`
	CircuitBreakerEnabled          *bool  `json:"circuitBreakerEnabled,omitempty"`
}

func (w wireConfigPatch) toPatch() service.ConfigPatch {
	patch := service.ConfigPatch{
		MaxRetries:                     w.MaxRetries,
		CircuitBreakerFailureThreshold: w.CircuitBreakerFailureThreshold,
		CircuitBreakerEnabled:          w.CircuitBreakerEnabled,
	}
	if w.CheckIntervalMs != nil {
		d := time.Duration(*w.CheckIntervalMs) * time.Millisecond
		patch.CheckInterval = &d
	}
	if w.CircuitBreakerResetTimeoutMs != nil {
		d := time.Duration(*w.CircuitBreakerResetTimeoutMs) * time.Millisecond
		patch.CircuitBreakerResetTimeout = &d
	}
	return patch
}

func (s *Server) handleConfigUpdate(ctx context.Context, sess *session, frame Frame) {
	if frame.Payload == nil {
		sess.send <- errorFrame(ErrMissingConfig, "missing config-update payload")
		return
	}
	var payload ConfigUpdatePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.Service == "" {
		sess.send <- errorFrame(ErrMissingService, "missing or invalid service name")
		return
	}
	if !s.orch.HasService(payload.Service) {
		sess.send <- errorFrame(ErrServiceNotFound, payload.Service)
		return
	}
	if payload.Config == nil {
		sess.send <- errorFrame(ErrMissingConfig, "missing config body")
		return
	}

	var wire wireConfigPatch
	if err := json.Unmarshal(payload.Config, &wire); err != nil {
		sess.send <- errorFrame(ErrMissingConfig, "invalid config body")
		return
	}

	admin := orchestrator.AdminContext{
		AdminID:   sess.identity.AdminID,
		IP:        sess.identity.IP,
		UserAgent: sess.identity.UserAgent,
	}
	if err := s.orch.UpdateServiceConfig(ctx, admin, payload.Service, wire.toPatch()); err != nil {
		sess.send <- errorFrame(ErrConfigUpdateError, err.Error())
		return
	}
	sess.send <- mustFrame(outSuccess("config-update"), ServicePayload{Service: payload.Service})
}
