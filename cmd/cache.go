package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loco-cli/loco/pkg/cache"
	"github.com/loco-cli/loco/pkg/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the persistent response cache",
	Long: `Commands for the on-disk response cache configured via cache.persist
and cache.path. With the json backend the snapshot file is inspected;
with the sqlite backend the database is opened directly.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts and sizes",
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached responses",
	RunE:  runCacheClear,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired entries from the sqlite cache",
	RunE:  runCachePurge,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}

// openPersistentCache opens the configured on-disk cache backend, or an
// error when persistence is not configured.
func openPersistentCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Persist {
	case "sqlite":
		return cache.NewSQLite(cfg.Cache.Path, cfg.Cache.ResponseTTL)
	case "json":
		store := cache.NewMemory(cache.Config{
			MaxSize:      cfg.Cache.MaxEntries,
			MaxSizeBytes: cfg.Cache.MaxSizeBytes,
			DefaultTTL:   cfg.Cache.ResponseTTL,
		})
		if _, err := store.LoadSnapshot(cfg.Cache.Path); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("no persistent cache configured: set cache.persist to json or sqlite in your config")
	}
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openPersistentCache(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats := store.Stats()

	fmt.Printf("Backend:    %s\n", cfg.Cache.Persist)
	fmt.Printf("Path:       %s\n", cfg.Cache.Path)
	fmt.Printf("Entries:    %d\n", stats.Size)
	fmt.Printf("Bytes:      %d\n", stats.SizeBytes)
	if stats.Hits+stats.Misses > 0 {
		fmt.Printf("Hit rate:   %.0f%% (%d hits, %d misses)\n", stats.HitRate()*100, stats.Hits, stats.Misses)
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openPersistentCache(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	before := store.Stats().Size
	if err := store.Clear(context.Background()); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	// For the json backend the snapshot file must be rewritten too.
	if cfg.Cache.Persist == "json" {
		if mem, ok := store.(*cache.Memory); ok {
			if err := mem.SaveSnapshot(cfg.Cache.Path); err != nil {
				return fmt.Errorf("failed to rewrite snapshot: %w", err)
			}
		}
	}

	fmt.Fprintf(os.Stderr, "Removed %d cached responses\n", before)
	return nil
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Cache.Persist != "sqlite" {
		return fmt.Errorf("purge requires the sqlite backend (cache.persist: sqlite)")
	}

	store, err := cache.NewSQLite(cfg.Cache.Path, cfg.Cache.ResponseTTL)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	before := store.Stats().Size
	if err := store.PurgeExpired(context.Background()); err != nil {
		return fmt.Errorf("failed to purge expired entries: %w", err)
	}
	after := store.Stats().Size

	fmt.Fprintf(os.Stderr, "Purged %d expired entries (%d remain)\n", before-after, after)
	return nil
}
