package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/loco-cli/loco/pkg/cache"
	"github.com/loco-cli/loco/pkg/llm"
	"github.com/loco-cli/loco/pkg/metrics"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run many prompts from a file with bounded concurrency",
	Long: `Reads prompts from a file (one per line) and runs them against the
model server in consecutive windows of bounded concurrency. Results are
written as JSONL in input order.

With cache.persist set to sqlite, completed prompts are stored on disk
and skipped on re-runs, so an interrupted batch can be resumed.

Example:
  loco batch --file prompts.txt --output results.jsonl
  loco batch --file prompts.txt --concurrency 5`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringP("file", "f", "", "path to prompts file, one prompt per line (required)")
	_ = batchCmd.MarkFlagRequired("file")

	batchCmd.Flags().StringP("output", "o", "", "output JSONL file (default stdout)")
	batchCmd.Flags().StringP("system", "s", "", "system prompt prepended to every request")
	batchCmd.Flags().IntP("concurrency", "c", llm.DefaultBatchConcurrency, "maximum in-flight requests")
}

// batchResult is one line of the output JSONL.
type batchResult struct {
	Index    int    `json:"index"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Tokens   int    `json:"tokens,omitempty"`
	Cached   bool   `json:"cached,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	filePath, _ := cmd.Flags().GetString("file")
	outPath, _ := cmd.Flags().GetString("output")
	system, _ := cmd.Flags().GetString("system")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	verbose := viper.GetBool("verbose")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tp, err := initTracing(context.Background(), cfg)
	if err != nil {
		logger.Warn("tracing init failed", zap.Error(err))
	} else {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	client, err := newClient(cfg, logger, metrics.New())
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Fprintf(os.Stderr, "Loading prompts from %s...\n", filePath)
	prompts, err := loadPrompts(filePath)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	if len(prompts) == 0 {
		fmt.Println("No prompts found in file.")
		return nil
	}
	fmt.Fprintf(os.Stderr, "Loaded %d prompts\n", len(prompts))

	// On-disk store for resumable runs.
	var store *cache.SQLite
	if cfg.Cache.Persist == "sqlite" && cfg.Cache.Path != "" {
		store, err = cache.NewSQLite(cfg.Cache.Path, cfg.Cache.ResponseTTL)
		if err != nil {
			return fmt.Errorf("failed to open cache at %s: %w", cfg.Cache.Path, err)
		}
		defer func() { _ = store.Close() }()
	}

	results := make([]batchResult, len(prompts))
	var pending []llm.BatchRequest
	var pendingIdx []int

	for i, prompt := range prompts {
		results[i] = batchResult{Index: i, Prompt: prompt}

		if store != nil {
			key := batchKey(cfg.LLM.Model, system, prompt)
			if data, err := store.Get(ctx, key); err == nil {
				results[i].Response = string(data)
				results[i].Cached = true
				continue
			}
		}

		var messages []llm.Message
		if system != "" {
			messages = append(messages, llm.Message{Role: "system", Content: system})
		}
		messages = append(messages, llm.Message{Role: "user", Content: prompt})

		pending = append(pending, llm.BatchRequest{
			Messages: messages,
			Options: llm.Options{
				Temperature: cfg.LLM.Temperature,
				MaxTokens:   cfg.LLM.MaxTokens,
				UseCache:    true,
			},
		})
		pendingIdx = append(pendingIdx, i)
	}

	if skipped := len(prompts) - len(pending); skipped > 0 {
		fmt.Fprintf(os.Stderr, "Skipping %d prompts already completed in a previous run\n", skipped)
	}

	if len(pending) > 0 {
		bar := progressbar.NewOptions64(
			int64(len(pending)),
			progressbar.OptionSetDescription("Completing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("prompts"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true),
		)

		start := time.Now()
		responses, err := runBatchWindows(ctx, client, pending, concurrency, bar)
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("batch failed: %w", err)
		}
		duration := time.Since(start)

		for j, resp := range responses {
			i := pendingIdx[j]
			results[i].Response = resp.Content()
			results[i].Tokens = resp.Usage.TotalTokens

			if store != nil {
				key := batchKey(cfg.LLM.Model, system, prompts[i])
				if err := store.Set(ctx, key, []byte(results[i].Response), 0); err != nil {
					logger.Warn("failed to store batch result", zap.Error(err))
				}
			}
		}

		if verbose {
			fmt.Fprintf(os.Stderr, "Completed %d prompts in %v\n", len(pending), duration.Round(time.Millisecond))
		}
	}

	if err := writeBatchResults(outPath, results); err != nil {
		return err
	}

	printBatchSummary(client, len(prompts), len(pending))
	persistCache(client, cfg, logger)
	return nil
}

// runBatchWindows wraps BatchChatCompletion in window-sized calls so the
// progress bar advances between windows.
func runBatchWindows(ctx context.Context, client *llm.Client, requests []llm.BatchRequest, concurrency int, bar *progressbar.ProgressBar) ([]*llm.ChatResponse, error) {
	if concurrency <= 0 {
		concurrency = llm.DefaultBatchConcurrency
	}

	results := make([]*llm.ChatResponse, 0, len(requests))
	for start := 0; start < len(requests); start += concurrency {
		end := start + concurrency
		if end > len(requests) {
			end = len(requests)
		}

		window, err := client.BatchChatCompletion(ctx, requests[start:end], concurrency)
		if err != nil {
			return nil, err
		}
		results = append(results, window...)
		_ = bar.Add(end - start)
	}

	return results, nil
}

// batchKey identifies a completed prompt in the resume store.
func batchKey(model, system, prompt string) string {
	return cache.Key("batch", cache.HashText(model+"\x00"+system+"\x00"+prompt))
}

func loadPrompts(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var prompts []string
	scanner := bufio.NewScanner(file)

	// Increase buffer for large lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		prompts = append(prompts, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return prompts, nil
}

func writeBatchResults(outPath string, results []batchResult) error {
	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write result %d: %w", r.Index, err)
		}
	}

	if outPath != "" {
		fmt.Fprintf(os.Stderr, "Wrote %d results to %s\n", len(results), outPath)
	}
	return nil
}

func printBatchSummary(client *llm.Client, total, ran int) {
	stats := client.Stats()

	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "=== Batch Complete ===")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Prompts total:    %d\n", total)
	fmt.Fprintf(os.Stderr, "Prompts run:      %d\n", ran)
	fmt.Fprintf(os.Stderr, "Cache hits:       %d\n", stats.CacheHits)
	fmt.Fprintf(os.Stderr, "Tokens used:      %d\n", stats.TotalTokens)
	fmt.Fprintf(os.Stderr, "Avg latency:      %v\n", stats.AvgLatency.Round(time.Millisecond))
	fmt.Fprintln(os.Stderr)
}
