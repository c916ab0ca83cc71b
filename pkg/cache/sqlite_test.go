package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T, ttl time.Duration) *SQLite {
	t.Helper()
	c, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"), ttl)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSQLite_GetSet(t *testing.T) {
	cache := newTestSQLite(t, time.Hour)
	ctx := context.Background()

	if err := cache.Set(ctx, "key1", []byte("value1"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err := cache.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "value1" {
		t.Errorf("expected 'value1', got '%s'", string(value))
	}

	if _, err := cache.Get(ctx, "nonexistent"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLite_Expiry(t *testing.T) {
	cache := newTestSQLite(t, time.Hour)
	ctx := context.Background()

	_ = cache.Set(ctx, "key1", []byte("value1"), time.Second)

	if !cache.Has(ctx, "key1") {
		t.Fatal("expected key to exist immediately after set")
	}

	// Rewrite with an already-elapsed TTL to force expiry without sleeping.
	_, err := cache.db.Exec(
		`UPDATE cache_entries SET created_at = ? WHERE key = ?`,
		time.Now().UTC().Add(-time.Minute), "key1",
	)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := cache.Get(ctx, "key1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for expired key, got %v", err)
	}
	if cache.Has(ctx, "key1") {
		t.Error("expected expired key to be purged by Get")
	}
}

func TestSQLite_DeleteAndClear(t *testing.T) {
	cache := newTestSQLite(t, time.Hour)
	ctx := context.Background()

	_ = cache.Set(ctx, "key1", []byte("value1"), 0)
	_ = cache.Set(ctx, "key2", []byte("value2"), 0)

	if err := cache.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := cache.Delete(ctx, "key1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound on repeated delete, got %v", err)
	}

	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if stats := cache.Stats(); stats.Size != 0 {
		t.Errorf("expected empty store after clear, got %d entries", stats.Size)
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	ctx := context.Background()

	first, err := NewSQLite(path, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	_ = first.Set(ctx, "key1", []byte("persisted"), 0)
	_ = first.Close()

	second, err := NewSQLite(path, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = second.Close() }()

	value, err := second.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(value) != "persisted" {
		t.Errorf("expected 'persisted', got '%s'", string(value))
	}
}
