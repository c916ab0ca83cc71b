package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a persistent cache store backed by a local SQLite file.
// It implements the same Cache interface as Memory and is meant for
// response caches that should survive process restarts. Size-bound
// eviction is not enforced here; expired rows are purged on read and
// by PurgeExpired.
type SQLite struct {
	db         *sql.DB
	defaultTTL time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
	sets       atomic.Int64
	deletes    atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ttl_seconds INTEGER NOT NULL
);
`

// NewSQLite opens (creating if needed) a SQLite-backed cache at dbPath.
func NewSQLite(dbPath string, defaultTTL time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	if defaultTTL <= 0 {
		defaultTTL = DefaultConfig().DefaultTTL
	}

	return &SQLite{db: db, defaultTTL: defaultTTL}, nil
}

// Get retrieves a cached value. Expired rows are deleted and reported
// as a miss.
func (c *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var createdAt time.Time
	var ttlSeconds int64

	err := c.db.QueryRowContext(ctx,
		`SELECT value, created_at, ttl_seconds FROM cache_entries WHERE key = ?`,
		key,
	).Scan(&value, &createdAt, &ttlSeconds)

	if err != nil {
		c.misses.Add(1)
		return nil, ErrNotFound
	}

	if time.Since(createdAt) > time.Duration(ttlSeconds)*time.Second {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		c.misses.Add(1)
		return nil, ErrNotFound
	}

	c.hits.Add(1)
	return value, nil
}

// Set stores a value. Zero TTL uses the store default.
func (c *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, value, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?)`,
		key, value, time.Now().UTC(), int64(ttl.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	c.sets.Add(1)
	return nil
}

// Delete removes a key.
func (c *SQLite) Delete(ctx context.Context, key string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	c.deletes.Add(1)
	return nil
}

// Has checks whether a live entry exists for key.
func (c *SQLite) Has(ctx context.Context, key string) bool {
	var createdAt time.Time
	var ttlSeconds int64
	err := c.db.QueryRowContext(ctx,
		`SELECT created_at, ttl_seconds FROM cache_entries WHERE key = ?`, key,
	).Scan(&createdAt, &ttlSeconds)
	if err != nil {
		return false
	}
	return time.Since(createdAt) <= time.Duration(ttlSeconds)*time.Second
}

// Clear removes all entries and resets the hit/miss counters.
func (c *SQLite) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	c.hits.Store(0)
	c.misses.Store(0)
	return nil
}

// PurgeExpired removes only expired rows.
func (c *SQLite) PurgeExpired(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE (julianday('now') - julianday(created_at)) * 86400 > ttl_seconds`)
	if err != nil {
		return fmt.Errorf("cache purge: %w", err)
	}
	return nil
}

// Stats returns cache statistics.
func (c *SQLite) Stats() Stats {
	var count, bytes sql.NullInt64
	_ = c.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(value) + LENGTH(key)), 0) FROM cache_entries`).
		Scan(&count, &bytes)
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Deletes:   c.deletes.Load(),
		Size:      count.Int64,
		SizeBytes: bytes.Int64,
	}
}

// Close releases the database connection.
func (c *SQLite) Close() error {
	return c.db.Close()
}
