// Package config provides configuration file support for loco.
// It handles loading, validation, and environment variable interpolation
// for loco.yaml configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full loco configuration.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LLMConfig holds model server settings.
type LLMConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	Model          string        `mapstructure:"model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxConns       int           `mapstructure:"max_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
}

// CacheConfig holds cache settings for the response, file, and
// directory caches.
type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxSizeBytes int64         `mapstructure:"max_size_bytes"`
	MaxEntries   int64         `mapstructure:"max_entries"`
	ResponseTTL  time.Duration `mapstructure:"response_ttl"`
	FileTTL      time.Duration `mapstructure:"file_ttl"`
	DirTTL       time.Duration `mapstructure:"dir_ttl"`
	StatusTTL    time.Duration `mapstructure:"status_ttl"`
	Persist      string        `mapstructure:"persist"` // none, json, sqlite
	Path         string        `mapstructure:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Endpoint:       "http://localhost:11434",
			Model:          "llama3:8b",
			Temperature:    0.7,
			MaxTokens:      4000,
			RequestTimeout: 120 * time.Second,
			MaxConns:       5,
			MaxIdleConns:   2,
		},
		Cache: CacheConfig{
			Enabled:      true,
			MaxSizeBytes: 10 * 1024 * 1024,
			MaxEntries:   100,
			ResponseTTL:  30 * time.Minute,
			FileTTL:      5 * time.Minute,
			DirTTL:       10 * time.Minute,
			StatusTTL:    30 * time.Second,
			Persist:      "none",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "otlp",
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
		},
	}
}

// Load reads configuration from the given viper instance and returns
// a validated Config. Environment variables in string values are
// interpolated using ${VAR} syntax.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Interpolate environment variables in string fields
	interpolateConfig(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads a specific config file and returns a validated Config.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Load(v)
}

// Validate checks the configuration for errors and returns a descriptive
// error if any field is invalid.
func Validate(cfg *Config) error {
	var errs []string

	// LLM validation
	if cfg.LLM.Endpoint == "" {
		errs = append(errs, "llm.endpoint: must not be empty")
	} else if !strings.HasPrefix(cfg.LLM.Endpoint, "http://") && !strings.HasPrefix(cfg.LLM.Endpoint, "https://") {
		errs = append(errs, fmt.Sprintf("llm.endpoint: must be an http(s) URL, got %q", cfg.LLM.Endpoint))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, "llm.model: must not be empty")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("llm.temperature: must be between 0 and 2, got %f", cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxTokens < 0 {
		errs = append(errs, "llm.max_tokens: must be non-negative")
	}
	if cfg.LLM.RequestTimeout < 0 {
		errs = append(errs, "llm.request_timeout: must be non-negative")
	}
	if cfg.LLM.MaxConns < 0 {
		errs = append(errs, "llm.max_conns: must be non-negative")
	}

	// Cache validation
	if cfg.Cache.MaxSizeBytes < 0 {
		errs = append(errs, "cache.max_size_bytes: must be non-negative")
	}
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, "cache.max_entries: must be non-negative")
	}
	validPersist := map[string]bool{"none": true, "json": true, "sqlite": true, "": true}
	if !validPersist[cfg.Cache.Persist] {
		errs = append(errs, fmt.Sprintf("cache.persist: unsupported backend %q (supported: none, json, sqlite)", cfg.Cache.Persist))
	}
	if (cfg.Cache.Persist == "json" || cfg.Cache.Persist == "sqlite") && cfg.Cache.Path == "" {
		errs = append(errs, fmt.Sprintf("cache.path: required when cache.persist is %q", cfg.Cache.Persist))
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[cfg.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level: unsupported level %q (supported: debug, info, warn, error)", cfg.Log.Level))
	}
	validFormats := map[string]bool{"console": true, "json": true, "": true}
	if !validFormats[cfg.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format: unsupported format %q (supported: console, json)", cfg.Log.Format))
	}

	// Telemetry validation
	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	if !validExporters[cfg.Telemetry.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.exporter: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Telemetry.Tracing.Exporter))
	}
	if cfg.Telemetry.Tracing.SampleRate < 0 || cfg.Telemetry.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.sample_rate: must be between 0 and 1, got %f", cfg.Telemetry.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in a string
// with the corresponding environment variable values.
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		return match
	})
}

// interpolateConfig applies environment variable interpolation to all
// string fields in the config.
func interpolateConfig(cfg *Config) {
	cfg.LLM.Endpoint = InterpolateEnv(cfg.LLM.Endpoint)
	cfg.LLM.Model = InterpolateEnv(cfg.LLM.Model)
	cfg.Cache.Path = InterpolateEnv(cfg.Cache.Path)
	cfg.Telemetry.Tracing.Exporter = InterpolateEnv(cfg.Telemetry.Tracing.Exporter)
	cfg.Telemetry.Tracing.Endpoint = InterpolateEnv(cfg.Telemetry.Tracing.Endpoint)
}

// GenerateTemplate returns a YAML template string with all available
// configuration options and their defaults, suitable for writing to
// a loco.yaml file.
func GenerateTemplate() string {
	return `# loco configuration

llm:
  endpoint: http://localhost:11434
  model: llama3:8b
  temperature: 0.7
  max_tokens: 4000
  request_timeout: 120s
  max_conns: 5
  max_idle_conns: 2

cache:
  enabled: true
  max_size_bytes: 10485760
  max_entries: 100
  response_ttl: 30m
  file_ttl: 5m
  dir_ttl: 10m
  status_ttl: 30s
  persist: none        # none, json, sqlite
  path: ""             # snapshot or database path when persist != none

log:
  level: info          # debug, info, warn, error
  format: console      # console, json

telemetry:
  tracing:
    enabled: false
    exporter: otlp     # otlp, stdout, none
    endpoint: localhost:4317
    sample_rate: 1.0
    insecure: true
`
}
