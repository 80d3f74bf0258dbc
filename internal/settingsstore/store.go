// Package settingsstore is the persistence port: an opaque keyed settings
// table the orchestrator upserts sanitized service state into. It treats
// the actual database access layer as out of scope — this package is the
// port, not a concrete driver, matching the "opaque persistence port
// exposing upsert/get/delete on a keyed settings table" framing.
package settingsstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no record exists for the given key.
var ErrNotFound = errors.New("settingsstore: key not found")

// Record is the stored unit: a keyed document plus its metadata. Value is
// expected to already be the output of internal/safeserial.Serialize —
// this package does not sanitize, it only stores.
type Record struct {
	Key         string
	Value       any
	Description string
	UpdatedAt   time.Time
}

// Store is the persistence port every concrete driver implements.
type Store interface {
	// Upsert creates or replaces the record at key.
	Upsert(ctx context.Context, key string, value any, description string) error

	// Get returns the record at key, or ErrNotFound if absent.
	Get(ctx context.Context, key string) (Record, error)

	// Delete removes the record at key. It is not an error to delete a
	// key that does not exist.
	Delete(ctx context.Context, key string) error

	// Scan returns every record whose key starts with prefix. An empty
	// prefix returns every record.
	Scan(ctx context.Context, prefix string) ([]Record, error)
}
