package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loco-cli/loco/pkg/cache"
	"github.com/loco-cli/loco/pkg/config"
	"github.com/loco-cli/loco/pkg/fscache"
	"github.com/loco-cli/loco/pkg/llm"
	"github.com/loco-cli/loco/pkg/metrics"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Opens an interactive session with the model server. The full
conversation history is sent with every turn, and responses stream
token by token.

In-session commands:
  /include <path>   add a file's contents to the conversation
  /ls [dir]         list a directory (cached between turns)
  /status           show model server status
  /stats            show request and cache statistics
  /clear            forget the conversation history
  /quit             exit the session (also Ctrl-D)`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringP("system", "s", "", "system prompt for the session")
	chatCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
}

func runChat(cmd *cobra.Command, args []string) error {
	system, _ := cmd.Flags().GetString("system")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

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

	m := metrics.New()
	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn("metrics listener failed", zap.String("addr", metricsAddr), zap.Error(err))
			}
		}()
	}

	client, err := newClient(cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := signalContext()
	defer cancel()

	ws := newWorkspace(cfg, logger)
	defer func() { _ = ws.Close() }()

	fmt.Fprintf(os.Stderr, "Chatting with %s at %s (/quit to exit)\n", cfg.LLM.Model, cfg.LLM.Endpoint)

	var history []llm.Message
	if system != "" {
		history = append(history, llm.Message{Role: "system", Content: system})
	}

	opts := llm.Options{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		UseCache:    true,
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			name, arg := splitCommand(line)
			switch name {
			case "/quit", "/exit":
				persistCache(client, cfg, logger)
				return nil
			case "/clear":
				history = history[:0]
				if system != "" {
					history = append(history, llm.Message{Role: "system", Content: system})
				}
				fmt.Fprintln(os.Stderr, "History cleared.")
			case "/stats":
				printClientStats(client)
			case "/status":
				printServerStatus(ctx, client, ws)
			case "/ls":
				if arg == "" {
					arg = "."
				}
				names, err := ws.dirs.List(ctx, arg)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					continue
				}
				for _, name := range names {
					fmt.Println(name)
				}
			case "/include":
				if arg == "" {
					fmt.Fprintln(os.Stderr, "Usage: /include <path>")
					continue
				}
				content, err := ws.files.Read(ctx, arg)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					continue
				}
				history = append(history, llm.Message{
					Role:    "user",
					Content: fmt.Sprintf("Contents of %s:\n\n%s", arg, content),
				})
				fmt.Fprintf(os.Stderr, "Included %s (%d bytes)\n", arg, len(content))
			default:
				fmt.Fprintf(os.Stderr, "Unknown command %s\n", name)
			}
			continue
		}

		history = append(history, llm.Message{Role: "user", Content: line})

		tokens, errCh, err := client.StreamChatCompletion(ctx, history, opts)
		if err != nil {
			// Drop the failed turn so a transient error does not poison
			// the rest of the session.
			history = history[:len(history)-1]
			printTurnError(err)
			continue
		}

		var reply strings.Builder
		for token := range tokens {
			fmt.Print(token)
			reply.WriteString(token)
		}
		fmt.Println()

		if err := <-errCh; err != nil {
			history = history[:len(history)-1]
			printTurnError(err)
			continue
		}

		history = append(history, llm.Message{Role: "assistant", Content: reply.String()})
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	persistCache(client, cfg, logger)
	return nil
}

// workspace bundles the file, directory, and status caches used by
// in-session commands. All three share one in-memory store.
type workspace struct {
	store  *cache.Memory
	files  *fscache.FileCache
	dirs   *fscache.DirCache
	status *fscache.StatusCache
}

func newWorkspace(cfg *config.Config, logger *zap.Logger) *workspace {
	store := cache.NewMemory(cache.Config{
		MaxSize:      cfg.Cache.MaxEntries,
		MaxSizeBytes: cfg.Cache.MaxSizeBytes,
		DefaultTTL:   cfg.Cache.FileTTL,
	})
	fs := afero.NewOsFs()
	return &workspace{
		store:  store,
		files:  fscache.NewFileCache(fs, store, cfg.Cache.FileTTL, logger),
		dirs:   fscache.NewDirCache(fs, store, cfg.Cache.DirTTL, logger),
		status: fscache.NewStatusCache(store, cfg.Cache.StatusTTL),
	}
}

func (w *workspace) Close() error {
	return w.store.Close()
}

// printServerStatus shows the probe result, reusing a recent result
// instead of re-probing on every call.
func printServerStatus(ctx context.Context, client *llm.Client, ws *workspace) {
	var status llm.ConnectionStatus

	if raw, ok := ws.status.Get(ctx, "server"); ok {
		if err := json.Unmarshal(raw, &status); err == nil {
			printStatus(status, true)
			return
		}
	}

	status = client.TestConnection(ctx, 5*time.Second)
	if raw, err := json.Marshal(status); err == nil {
		_ = ws.status.Put(ctx, "server", raw)
	}
	printStatus(status, false)
}

func printStatus(status llm.ConnectionStatus, cached bool) {
	suffix := ""
	if cached {
		suffix = " (cached)"
	}
	switch {
	case status.OK:
		fmt.Printf("Server: up, %d models%s\n", len(status.Models), suffix)
	case status.TimedOut:
		fmt.Printf("Server: timed out%s\n", suffix)
	default:
		fmt.Printf("Server: down (%s)%s\n", status.Error, suffix)
	}
}

// splitCommand separates "/include path" into the command and its argument.
func splitCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}

func printTurnError(err error) {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", apiErr.Message)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

func printClientStats(client *llm.Client) {
	stats := client.Stats()
	cs := client.CacheStats()

	fmt.Println()
	fmt.Printf("Requests:        %d (%d errors)\n", stats.Requests, stats.Errors)
	fmt.Printf("Avg latency:     %v\n", stats.AvgLatency.Round(time.Millisecond))
	fmt.Printf("Tokens used:     %d\n", stats.TotalTokens)
	fmt.Printf("Cache:           %d hits, %d misses (%.0f%% hit rate)\n", cs.Hits, cs.Misses, cs.HitRate()*100)
	fmt.Printf("Cache size:      %d entries, %d bytes\n", cs.Size, cs.SizeBytes)
	if stats.DroppedFrames > 0 {
		fmt.Printf("Dropped frames:  %d\n", stats.DroppedFrames)
	}
	fmt.Println()
}
