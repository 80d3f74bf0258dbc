package settingsstore

import (
	"context"
	"errors"
	"os"
	"testing"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	fileStore, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("unexpected error constructing FileStore: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
	}
}

func TestUpsertThenGetRoundTrips(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Upsert(ctx, "service:wallet", map[string]any{"status": "active"}, "wallet state"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			rec, err := store.Get(ctx, "service:wallet")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Key != "service:wallet" {
				t.Fatalf("unexpected key: %s", rec.Key)
			}
			if rec.Description != "wallet state" {
				t.Fatalf("unexpected description: %s", rec.Description)
			}
			if rec.UpdatedAt.IsZero() {
				t.Fatal("expected UpdatedAt to be set")
			}
		})
	}
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "does-not-exist")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store.Upsert(ctx, "k", 1, "")
			if err := store.Delete(ctx, "k"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestDeleteMissingKeyIsNotAnError(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Delete(context.Background(), "never-existed"); err != nil {
				t.Fatalf("expected delete of missing key to be a no-op, got %v", err)
			}
		})
	}
}

func TestScanReturnsOnlyMatchingPrefix(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store.Upsert(ctx, "service:wallet", 1, "")
			store.Upsert(ctx, "service:contest", 2, "")
			store.Upsert(ctx, "other:thing", 3, "")

			matches, err := store.Scan(ctx, "service:")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(matches) != 2 {
				t.Fatalf("expected 2 matches, got %d", len(matches))
			}
		})
	}
}

func TestScanEmptyPrefixReturnsEverything(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store.Upsert(ctx, "a", 1, "")
			store.Upsert(ctx, "b", 2, "")

			matches, err := store.Scan(ctx, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(matches) != 2 {
				t.Fatalf("expected 2 matches, got %d", len(matches))
			}
		})
	}
}

func TestUpsertOverwritesExistingRecord(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store.Upsert(ctx, "k", "first", "")
			store.Upsert(ctx, "k", "second", "")

			rec, err := store.Get(ctx, "k")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Value != "second" {
				t.Fatalf("expected overwritten value, got %v", rec.Value)
			}
		})
	}
}

func TestNewFileStoreCreatesRootDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/settings"
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected directory to not yet exist")
	}
	if _, err := NewFileStore(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected directory to be created, got %v", err)
	}
}
