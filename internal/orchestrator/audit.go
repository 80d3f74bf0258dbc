package orchestrator

import (
	"context"
	"time"
)

// AdminContext identifies who requested an administrative action, for
// audit attribution.
type AdminContext struct {
	AdminID   string
	IP        string
	UserAgent string
}

// AuditEntry is a single administrative-action record, matching the
// {adminId, ip, userAgent, action, status, error?} shape every
// administrative action must produce.
type AuditEntry struct {
	AdminID   string
	IP        string
	UserAgent string
	Action    string
	Status    string
	Error     string
	Timestamp time.Time
}

// AuditPort is the narrow interface the orchestrator needs to record
// administrative actions. internal/audit.Logger implements this.
type AuditPort interface {
	RecordAdminAction(ctx context.Context, entry AuditEntry) error
}
