package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/loco-cli/loco/pkg/config"
	"github.com/loco-cli/loco/pkg/llm"
	"github.com/loco-cli/loco/pkg/logging"
	"github.com/loco-cli/loco/pkg/metrics"
	"github.com/loco-cli/loco/pkg/telemetry"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "loco",
	Short: "Loco - Cached client for local OpenAI-compatible model servers",
	Long: `Loco talks to a local OpenAI-compatible model server (Ollama, llama.cpp,
LM Studio) and caches responses so repeated prompts never hit the model twice.

Features:
  - Response caching keyed on model, messages, and sampling parameters
  - Streaming token output with malformed-frame recovery
  - Pooled keep-alive connections tuned for a single local endpoint
  - Optional JSON or SQLite cache persistence across runs

Environment Variables:
  LOCO_LLM_ENDPOINT   Model server URL (default http://localhost:11434)
  LOCO_LLM_MODEL      Model name sent with every request`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.loco.yaml)")
	rootCmd.PersistentFlags().String("endpoint", "", "model server URL (overrides config)")
	rootCmd.PersistentFlags().StringP("model", "m", "", "model name (overrides config)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")

	// Bind to viper
	_ = viper.BindPFlag("llm.endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
	_ = viper.BindPFlag("llm.model", rootCmd.PersistentFlags().Lookup("model"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".loco")
	}

	// Read environment variables
	viper.SetEnvPrefix("LOCO")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig resolves the effective configuration from the config file,
// environment, and command-line flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if viper.GetBool("verbose") && cfg.Log.Level == "info" {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the zap logger from the log config. Output goes to
// stderr so it never interleaves with model output on stdout.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}

// newClient builds an LLM client from the resolved configuration. If
// cache persistence is configured, the previous snapshot is loaded.
func newClient(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*llm.Client, error) {
	ccfg := llm.Config{
		Endpoint:       cfg.LLM.Endpoint,
		Model:          cfg.LLM.Model,
		RequestTimeout: cfg.LLM.RequestTimeout,
		MaxConns:       cfg.LLM.MaxConns,
		MaxIdleConns:   cfg.LLM.MaxIdleConns,
		CacheTTL:       cfg.Cache.ResponseTTL,
		Logger:         logger,
		Metrics:        m,
	}
	if cfg.Cache.Enabled {
		ccfg.CacheMaxEntries = cfg.Cache.MaxEntries
		ccfg.CacheMaxBytes = cfg.Cache.MaxSizeBytes
	}

	client, err := llm.NewClient(ccfg)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Persist == "json" && cfg.Cache.Path != "" {
		if err := client.LoadCache(cfg.Cache.Path); err != nil {
			logger.Warn("cache snapshot load failed", zap.String("path", cfg.Cache.Path), zap.Error(err))
		}
	}

	return client, nil
}

// persistCache writes the response cache snapshot if persistence is
// configured. Failures are reported but never fatal.
func persistCache(client *llm.Client, cfg *config.Config, logger *zap.Logger) {
	if cfg.Cache.Persist != "json" || cfg.Cache.Path == "" {
		return
	}
	if err := client.SaveCache(cfg.Cache.Path); err != nil {
		logger.Warn("cache snapshot save failed", zap.String("path", cfg.Cache.Path), zap.Error(err))
	}
}

// initTracing sets up OpenTelemetry per the config. Tracing is off by
// default; failures are reported by the caller, never fatal.
func initTracing(ctx context.Context, cfg *config.Config) (*telemetry.Provider, error) {
	return telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Tracing.Enabled,
		Exporter:    cfg.Telemetry.Tracing.Exporter,
		Endpoint:    cfg.Telemetry.Tracing.Endpoint,
		SampleRate:  cfg.Telemetry.Tracing.SampleRate,
		ServiceName: "loco",
		Insecure:    cfg.Telemetry.Tracing.Insecure,
	})
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()

	return ctx, cancel
}
