package fscache

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/loco-cli/loco/pkg/cache"
)

func newTestStore(t *testing.T) cache.Cache {
	t.Helper()
	store := cache.NewMemory(cache.Config{
		MaxSize:         100,
		DefaultTTL:      time.Hour,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestFileCache_HitWhileUnchanged(t *testing.T) {
	fs := afero.NewMemMapFs()
	fc := NewFileCache(fs, newTestStore(t), 0, nil)
	ctx := context.Background()

	if err := afero.WriteFile(fs, "/src/main.go", []byte("package main"), 0o644); err != nil {
		t.Fatal(err)
	}

	content, err := fc.Read(ctx, "/src/main.go")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if content != "package main" {
		t.Errorf("unexpected content %q", content)
	}

	// Second read hits the cache.
	if _, ok := fc.Get(ctx, "/src/main.go"); !ok {
		t.Error("expected cache hit for unchanged file")
	}
}

func TestFileCache_MtimeMismatchInvalidates(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := newTestStore(t)
	fc := NewFileCache(fs, store, 0, nil)
	ctx := context.Background()

	if err := afero.WriteFile(fs, "/a.txt", []byte("aaaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fc.Put(ctx, "/a.txt", "aaaa"); err != nil {
		t.Fatal(err)
	}

	// Same size, different mtime.
	later := time.Now().Add(time.Minute)
	if err := fs.Chtimes("/a.txt", later, later); err != nil {
		t.Fatal(err)
	}

	if _, ok := fc.Get(ctx, "/a.txt"); ok {
		t.Error("expected miss after mtime change")
	}

	// The stale record must have been purged.
	if store.Has(ctx, "file:/a.txt") {
		t.Error("expected stale record to be deleted")
	}
}

func TestFileCache_SizeMismatchInvalidates(t *testing.T) {
	fs := afero.NewMemMapFs()
	fc := NewFileCache(fs, newTestStore(t), 0, nil)
	ctx := context.Background()

	if err := afero.WriteFile(fs, "/a.txt", []byte("aaaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fc.Put(ctx, "/a.txt", "aaaa"); err != nil {
		t.Fatal(err)
	}

	if err := afero.WriteFile(fs, "/a.txt", []byte("aaaaaaaa"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := fc.Get(ctx, "/a.txt"); ok {
		t.Error("expected miss after size change")
	}
}

func TestFileCache_VanishedFileInvalidates(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := newTestStore(t)
	fc := NewFileCache(fs, store, 0, nil)
	ctx := context.Background()

	if err := afero.WriteFile(fs, "/gone.txt", []byte("bye"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fc.Put(ctx, "/gone.txt", "bye"); err != nil {
		t.Fatal(err)
	}

	if err := fs.Remove("/gone.txt"); err != nil {
		t.Fatal(err)
	}

	if _, ok := fc.Get(ctx, "/gone.txt"); ok {
		t.Error("expected miss for deleted file")
	}
	if store.Has(ctx, "file:/gone.txt") {
		t.Error("expected stale record to be purged")
	}
}

func TestDirCache_ListAndInvalidate(t *testing.T) {
	fs := afero.NewMemMapFs()
	dc := NewDirCache(fs, newTestStore(t), 0, nil)
	ctx := context.Background()

	if err := fs.MkdirAll("/proj", 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"b.go", "a.go"} {
		if err := afero.WriteFile(fs, "/proj/"+name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	names, err := dc.List(ctx, "/proj")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 2 || names[0] != "a.go" || names[1] != "b.go" {
		t.Errorf("unexpected listing %v", names)
	}

	if _, ok := dc.Get(ctx, "/proj"); !ok {
		t.Error("expected cache hit for unchanged directory")
	}

	// A directory mtime change invalidates the listing.
	later := time.Now().Add(time.Minute)
	if err := fs.Chtimes("/proj", later, later); err != nil {
		t.Fatal(err)
	}
	if _, ok := dc.Get(ctx, "/proj"); ok {
		t.Error("expected miss after directory mtime change")
	}
}

func TestStatusCache_TTL(t *testing.T) {
	sc := NewStatusCache(newTestStore(t), 20*time.Millisecond)
	ctx := context.Background()

	if err := sc.Put(ctx, "server", []byte(`{"ok":true}`)); err != nil {
		t.Fatal(err)
	}
	if _, ok := sc.Get(ctx, "server"); !ok {
		t.Error("expected hit inside TTL")
	}

	time.Sleep(40 * time.Millisecond)

	if _, ok := sc.Get(ctx, "server"); ok {
		t.Error("expected miss after TTL")
	}
}
