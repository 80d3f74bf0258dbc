// Package audit records administrative actions taken against the
// supervision plane — service start/stop/restart, circuit-breaker reset,
// config update, and control-surface connection events — through
// pluggable adapters.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/degenduel/supervisor/internal/orchestrator"
)

// Action is the controlled vocabulary of administrative actions that get
// audited, matching the Orchestrator's audited() call sites.
type Action string

const (
	ActionServiceStart              Action = "SERVICE.START"
	ActionServiceStop               Action = "SERVICE.STOP"
	ActionServiceRestart            Action = "SERVICE.RESTART"
	ActionConfigure                 Action = "SERVICE.CONFIGURE"
	ActionResetCircuitBreaker       Action = "SERVICE.RESET_CIRCUIT_BREAKER"
	ActionUpdateServiceConfig       Action = "SERVICE.UPDATE_SERVICE_CONFIG"
	ActionControlSurfaceConnection  Action = "CONTROL_SURFACE.CONNECTION"
)

// Entry is a single audited action record, matching the
// {adminId, ip, userAgent, action, status, error?} shape spec'd for every
// administrative action, plus an ID for log de-duplication and a TraceID
// for cross-referencing with structured logs when the action ran inside a
// traced context.
type Entry struct {
	ID        string    `json:"id"`
	AdminID   string    `json:"adminId"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	TraceID   string    `json:"traceId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// traceIDFromContext returns the active span's trace ID, or "" if ctx
// carries no valid span context.
func traceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// Adapter is a pluggable audit log sink.
type Adapter interface {
	LogEntry(entry Entry) error
}

// ConsoleAdapter writes entries as human-readable lines to stdout/stderr,
// routing failures to stderr.
type ConsoleAdapter struct {
	mu sync.Mutex
}

// NewConsoleAdapter constructs a ConsoleAdapter.
func NewConsoleAdapter() *ConsoleAdapter { return &ConsoleAdapter{} }

func (a *ConsoleAdapter) LogEntry(entry Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	stream := os.Stdout
	if entry.Status != "success" {
		stream = os.Stderr
	}
	line := fmt.Sprintf("%s [%s] admin=%s action=%s status=%s",
		entry.Timestamp.Format(time.RFC3339), entry.Action, entry.AdminID, entry.Action, entry.Status)
	if entry.Error != "" {
		line += " error=" + entry.Error
	}
	_, err := fmt.Fprintln(stream, line)
	return err
}

// StructuredAdapter writes entries as JSON lines to the given file.
type StructuredAdapter struct {
	mu   sync.Mutex
	file *os.File
}

// NewStructuredAdapter opens (creating if necessary) path for append-only
// JSON-lines audit logging.
func NewStructuredAdapter(path string) (*StructuredAdapter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open log file: %w", err)
	}
	return &StructuredAdapter{file: file}, nil
}

func (a *StructuredAdapter) LogEntry(entry Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	_, err = fmt.Fprintln(a.file, string(data))
	return err
}

// Close closes the underlying file.
func (a *StructuredAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// Logger fans every recorded action out to all configured adapters. A
// failing adapter never blocks or fails the administrative action it is
// recording. Logger implements orchestrator.AuditPort.
type Logger struct {
	mu       sync.RWMutex
	adapters []Adapter
}

// NewLogger constructs a Logger. With no adapters, it defaults to a
// ConsoleAdapter.
func NewLogger(adapters ...Adapter) *Logger {
	if len(adapters) == 0 {
		adapters = []Adapter{NewConsoleAdapter()}
	}
	return &Logger{adapters: adapters}
}

// RecordAdminAction implements orchestrator.AuditPort.
func (l *Logger) RecordAdminAction(ctx context.Context, entry orchestrator.AuditEntry) error {
	record := Entry{
		ID:        uuid.NewString(),
		AdminID:   entry.AdminID,
		IP:        entry.IP,
		UserAgent: entry.UserAgent,
		Action:    entry.Action,
		Status:    entry.Status,
		Error:     entry.Error,
		TraceID:   traceIDFromContext(ctx),
		Timestamp: entry.Timestamp,
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var firstErr error
	for _, adapter := range l.adapters {
		if err := adapter.LogEntry(record); err != nil {
			fmt.Fprintf(os.Stderr, "audit: adapter failed: %v\n", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RecordControlSurfaceConnection audits a control-surface connect/auth
// event, separate from the Orchestrator-routed administrative actions.
func (l *Logger) RecordControlSurfaceConnection(adminID, ip, userAgent string, authenticated bool, reason string) {
	status := "success"
	if !authenticated {
		status = "error"
	}
	entry := Entry{
		ID:        uuid.NewString(),
		AdminID:   adminID,
		IP:        ip,
		UserAgent: userAgent,
		Action:    string(ActionControlSurfaceConnection),
		Status:    status,
		Error:     reason,
		Timestamp: time.Now(),
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, adapter := range l.adapters {
		if err := adapter.LogEntry(entry); err != nil {
			fmt.Fprintf(os.Stderr, "audit: adapter failed: %v\n", err)
		}
	}
}
