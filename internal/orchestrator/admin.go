package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/degenduel/supervisor/internal/service"
)

// lookupService returns the registered service instance by name, or
// ErrUnknownService.
func (o *Orchestrator) lookupService(name string) (ManagedService, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	svc, ok := o.reg.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	return svc, nil
}

func (o *Orchestrator) audited(ctx context.Context, admin AdminContext, action, name string, fn func() error) error {
	err := fn()

	entry := AuditEntry{
		AdminID:   admin.AdminID,
		IP:        admin.IP,
		UserAgent: admin.UserAgent,
		Action:    action,
		Status:    "success",
		Timestamp: time.Now(),
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	if o.audit != nil {
		if auditErr := o.audit.RecordAdminAction(ctx, entry); auditErr != nil {
			o.log.Warn("orchestrator: failed to record audit entry", "action", action, "service", name, "error", auditErr)
		}
	}
	return err
}

// StartService administratively starts a previously stopped service.
func (o *Orchestrator) StartService(ctx context.Context, admin AdminContext, name string) error {
	return o.audited(ctx, admin, "SERVICE.START", name, func() error {
		svc, err := o.lookupService(name)
		if err != nil {
			return err
		}
		if err := svc.Start(ctx); err != nil {
			return err
		}
		o.mu.Lock()
		o.initialized[name] = struct{}{}
		o.mu.Unlock()
		o.persistActive(ctx, name, svc)
		return nil
	})
}

// StopService administratively stops a running service.
func (o *Orchestrator) StopService(ctx context.Context, admin AdminContext, name string) error {
	return o.audited(ctx, admin, "SERVICE.STOP", name, func() error {
		svc, err := o.lookupService(name)
		if err != nil {
			return err
		}
		stopCtx, cancel := context.WithTimeout(ctx, o.serviceStopTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			return err
		}
		o.mu.Lock()
		delete(o.initialized, name)
		o.mu.Unlock()
		o.persistStopped(ctx, name, svc)
		return nil
	})
}

// RestartService stops and re-initializes a service.
func (o *Orchestrator) RestartService(ctx context.Context, admin AdminContext, name string) error {
	return o.audited(ctx, admin, "SERVICE.RESTART", name, func() error {
		svc, err := o.lookupService(name)
		if err != nil {
			return err
		}
		stopCtx, cancel := context.WithTimeout(ctx, o.serviceStopTimeout)
		stopErr := svc.Stop(stopCtx)
		cancel()
		if stopErr != nil {
			o.log.Warn("orchestrator: restart: stop failed, continuing", "service", name, "error", stopErr)
		}

		if err := svc.Initialize(ctx); err != nil {
			o.persistError(ctx, name, err)
			return err
		}
		if err := svc.Start(ctx); err != nil {
			o.persistError(ctx, name, err)
			return err
		}
		o.mu.Lock()
		o.initialized[name] = struct{}{}
		delete(o.failed, name)
		o.mu.Unlock()
		o.persistActive(ctx, name, svc)
		return nil
	})
}

// ResetCircuitBreaker administratively forces a service's breaker closed.
func (o *Orchestrator) ResetCircuitBreaker(ctx context.Context, admin AdminContext, name string) error {
	return o.audited(ctx, admin, "SERVICE.RESET_CIRCUIT_BREAKER", name, func() error {
		svc, err := o.lookupService(name)
		if err != nil {
			return err
		}
		svc.ResetCircuitBreaker()
		o.persistActive(ctx, name, svc)
		return nil
	})
}

// UpdateServiceConfig administratively patches a running service's
// configuration.
func (o *Orchestrator) UpdateServiceConfig(ctx context.Context, admin AdminContext, name string, patch service.ConfigPatch) error {
	return o.audited(ctx, admin, "SERVICE.UPDATE_SERVICE_CONFIG", name, func() error {
		svc, err := o.lookupService(name)
		if err != nil {
			return err
		}
		if err := svc.UpdateConfig(patch); err != nil {
			return err
		}
		o.persistActive(ctx, name, svc)
		return nil
	})
}
