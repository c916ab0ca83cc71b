// Package fscache layers filesystem-aware invalidation on top of the
// cache store. Cached file contents and directory listings carry a
// checkpoint of the source's mtime and size; a hit is trusted only if
// a fresh stat still matches the checkpoint. TTL applies as a
// secondary bound.
package fscache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/loco-cli/loco/pkg/cache"
)

// Default TTLs, scaled to how quickly each resource tends to change.
const (
	DefaultFileTTL   = 5 * time.Minute
	DefaultDirTTL    = 10 * time.Minute
	DefaultStatusTTL = 30 * time.Second
)

// FileRecord is the cached payload for a single file, together with
// the stat checkpoint observed when the content was read.
type FileRecord struct {
	Content string `json:"content"`
	ModTime int64  `json:"mtime_unixnano"`
	Size    int64  `json:"size"`
}

// DirRecord is the cached payload for a directory listing.
type DirRecord struct {
	Names   []string `json:"names"`
	ModTime int64    `json:"mtime_unixnano"`
}

// FileCache caches file contents keyed by path.
//
// A cached record is trusted only while the file's current (mtime, size)
// matches the stored checkpoint. Edits that land within the filesystem's
// timestamp resolution and leave the size unchanged are not detected;
// content is deliberately not hashed.
type FileCache struct {
	fs    afero.Fs
	store cache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

// NewFileCache creates a file-content cache over fs backed by store.
func NewFileCache(fs afero.Fs, store cache.Cache, ttl time.Duration, log *zap.Logger) *FileCache {
	if ttl <= 0 {
		ttl = DefaultFileTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FileCache{fs: fs, store: store, ttl: ttl, log: log}
}

// Get returns the cached content for path if the live file still
// matches the stored checkpoint. A vanished or modified file purges
// the stale record and reports a miss.
func (c *FileCache) Get(ctx context.Context, path string) (string, bool) {
	raw, err := c.store.Get(ctx, cache.Key("file", path))
	if err != nil {
		return "", false
	}

	var rec FileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		_ = c.store.Delete(ctx, cache.Key("file", path))
		return "", false
	}

	info, err := c.fs.Stat(path)
	if err != nil {
		// File vanished: purge the stale record.
		_ = c.store.Delete(ctx, cache.Key("file", path))
		return "", false
	}

	if info.ModTime().UnixNano() != rec.ModTime || info.Size() != rec.Size {
		c.log.Debug("file cache checkpoint mismatch", zap.String("path", path))
		_ = c.store.Delete(ctx, cache.Key("file", path))
		return "", false
	}

	return rec.Content, true
}

// Put caches content for path with a fresh stat checkpoint.
func (c *FileCache) Put(ctx context.Context, path, content string) error {
	info, err := c.fs.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	rec := FileRecord{
		Content: content,
		ModTime: info.ModTime().UnixNano(),
		Size:    info.Size(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode file record: %w", err)
	}
	return c.store.Set(ctx, cache.Key("file", path), raw, c.ttl)
}

// Read returns the content for path, reading from the filesystem and
// refreshing the cache on a miss.
func (c *FileCache) Read(ctx context.Context, path string) (string, error) {
	if content, ok := c.Get(ctx, path); ok {
		return content, nil
	}

	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)

	if err := c.Put(ctx, path, content); err != nil {
		c.log.Debug("file cache put failed", zap.String("path", path), zap.Error(err))
	}
	return content, nil
}

// DirCache caches directory listings keyed by directory path.
//
// A listing is trusted only while the directory's mtime is unchanged.
// Some filesystems do not update a directory's mtime on every content
// change; this is a known approximation, not silently worked around.
type DirCache struct {
	fs    afero.Fs
	store cache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

// NewDirCache creates a directory-listing cache over fs backed by store.
func NewDirCache(fs afero.Fs, store cache.Cache, ttl time.Duration, log *zap.Logger) *DirCache {
	if ttl <= 0 {
		ttl = DefaultDirTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DirCache{fs: fs, store: store, ttl: ttl, log: log}
}

// Get returns the cached listing for dir if its mtime is unchanged.
func (c *DirCache) Get(ctx context.Context, dir string) ([]string, bool) {
	raw, err := c.store.Get(ctx, cache.Key("dir", dir))
	if err != nil {
		return nil, false
	}

	var rec DirRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		_ = c.store.Delete(ctx, cache.Key("dir", dir))
		return nil, false
	}

	info, err := c.fs.Stat(dir)
	if err != nil {
		_ = c.store.Delete(ctx, cache.Key("dir", dir))
		return nil, false
	}

	if info.ModTime().UnixNano() != rec.ModTime {
		c.log.Debug("dir cache checkpoint mismatch", zap.String("dir", dir))
		_ = c.store.Delete(ctx, cache.Key("dir", dir))
		return nil, false
	}

	return rec.Names, true
}

// Put caches the listing for dir with a fresh mtime checkpoint.
func (c *DirCache) Put(ctx context.Context, dir string, names []string) error {
	info, err := c.fs.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}

	rec := DirRecord{Names: names, ModTime: info.ModTime().UnixNano()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode dir record: %w", err)
	}
	return c.store.Set(ctx, cache.Key("dir", dir), raw, c.ttl)
}

// List returns the entries of dir, reading from the filesystem and
// refreshing the cache on a miss. Names are sorted.
func (c *DirCache) List(ctx context.Context, dir string) ([]string, error) {
	if names, ok := c.Get(ctx, dir); ok {
		return names, nil
	}

	infos, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)

	if err := c.Put(ctx, dir, names); err != nil {
		c.log.Debug("dir cache put failed", zap.String("dir", dir), zap.Error(err))
	}
	return names, nil
}

// StatusCache holds short-lived external service status payloads.
// There is no external checkpoint to compare against; TTL alone
// bounds staleness.
type StatusCache struct {
	store cache.Cache
	ttl   time.Duration
}

// NewStatusCache creates a status cache backed by store.
func NewStatusCache(store cache.Cache, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &StatusCache{store: store, ttl: ttl}
}

// Get returns the cached status payload for name.
func (c *StatusCache) Get(ctx context.Context, name string) (json.RawMessage, bool) {
	raw, err := c.store.Get(ctx, cache.Key("status", name))
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Put caches a status payload for name.
func (c *StatusCache) Put(ctx context.Context, name string, payload json.RawMessage) error {
	return c.store.Set(ctx, cache.Key("status", name), payload, c.ttl)
}
