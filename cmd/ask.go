package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/loco-cli/loco/pkg/llm"
	"github.com/loco-cli/loco/pkg/metrics"
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send a single prompt and print the response",
	Long: `Sends one prompt to the model server and prints the completion.
Repeated identical prompts are served from the response cache.

Example:
  loco ask "explain the context package"
  loco ask --stream "write a haiku about goroutines"
  echo "what does this error mean?" | loco ask`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringP("system", "s", "", "system prompt prepended to the conversation")
	askCmd.Flags().Float64P("temperature", "t", 0.7, "sampling temperature (0 to 2)")
	askCmd.Flags().Int("max-tokens", 4000, "maximum tokens to generate")
	askCmd.Flags().Bool("no-cache", false, "bypass the response cache for this request")
	askCmd.Flags().Bool("stream", false, "stream tokens as they arrive")

	_ = viper.BindPFlag("llm.temperature", askCmd.Flags().Lookup("temperature"))
	_ = viper.BindPFlag("llm.max_tokens", askCmd.Flags().Lookup("max-tokens"))
}

func runAsk(cmd *cobra.Command, args []string) error {
	prompt, err := resolvePrompt(args)
	if err != nil {
		return err
	}

	system, _ := cmd.Flags().GetString("system")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	stream, _ := cmd.Flags().GetBool("stream")
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

	var messages []llm.Message
	if system != "" {
		messages = append(messages, llm.Message{Role: "system", Content: system})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})

	opts := llm.Options{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		UseCache:    !noCache,
	}

	start := time.Now()

	if stream {
		tokens, errCh, err := client.StreamChatCompletion(ctx, messages, opts)
		if err != nil {
			return err
		}
		for token := range tokens {
			fmt.Print(token)
		}
		fmt.Println()
		if err := <-errCh; err != nil {
			return err
		}
	} else {
		resp, err := client.ChatCompletion(ctx, messages, opts)
		if err != nil {
			return err
		}
		fmt.Println(resp.Content())
	}

	if verbose {
		stats := client.Stats()
		fmt.Fprintf(os.Stderr, "\n%v elapsed, %d tokens, %d cache hits\n",
			time.Since(start).Round(time.Millisecond), stats.TotalTokens, stats.CacheHits)
	}

	persistCache(client, cfg, logger)
	return nil
}

// resolvePrompt takes the prompt from the argument or, when absent,
// from stdin so the command composes with pipes.
func resolvePrompt(args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}

	stat, err := os.Stdin.Stat()
	if err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		prompt := strings.TrimSpace(string(data))
		if prompt != "" {
			return prompt, nil
		}
	}

	return "", fmt.Errorf("no prompt given: pass it as an argument or pipe it on stdin")
}
