package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LLM.Endpoint != "http://localhost:11434" {
		t.Errorf("expected default endpoint http://localhost:11434, got %s", cfg.LLM.Endpoint)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("expected default temperature 0.7, got %f", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxTokens != 4000 {
		t.Errorf("expected default max_tokens 4000, got %d", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.RequestTimeout != 120*time.Second {
		t.Errorf("expected default request_timeout 120s, got %s", cfg.LLM.RequestTimeout)
	}
	if cfg.Cache.MaxEntries != 100 {
		t.Errorf("expected default max_entries 100, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.Persist != "none" {
		t.Errorf("expected default persist none, got %s", cfg.Cache.Persist)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidate_InvalidEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Endpoint = "localhost:11434"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for endpoint without scheme")
	}

	cfg.LLM.Endpoint = ""
	if err := Validate(cfg); err == nil {
		t.Error("expected error for empty endpoint")
	}
}

func TestValidate_InvalidTemperature(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Temperature = 3.0
	if err := Validate(cfg); err == nil {
		t.Error("expected error for temperature > 2")
	}

	cfg.LLM.Temperature = -0.1
	if err := Validate(cfg); err == nil {
		t.Error("expected error for negative temperature")
	}
}

func TestValidate_InvalidPersist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Persist = "redis"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unsupported persist backend")
	}
}

func TestValidate_PersistRequiresPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Persist = "sqlite"
	cfg.Cache.Path = ""
	if err := Validate(cfg); err == nil {
		t.Error("expected error for sqlite persist without path")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Model = ""
	cfg.LLM.Temperature = 5.0
	cfg.Cache.MaxEntries = -1
	if err := Validate(cfg); err == nil {
		t.Error("expected multiple validation errors")
	}
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "hello")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
		{"${NONEXISTENT_VAR:-fallback}", "fallback"},
		{"${NONEXISTENT_VAR}", "${NONEXISTENT_VAR}"},
		{"no-vars-here", "no-vars-here"},
		{"${TEST_VAR:-default}", "hello"}, // env var exists, ignore default
	}

	for _, tt := range tests {
		result := InterpolateEnv(tt.input)
		if result != tt.expected {
			t.Errorf("InterpolateEnv(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
llm:
  endpoint: http://127.0.0.1:8080
  model: codellama:13b
  temperature: 0.2
  max_tokens: 2000

cache:
  enabled: false
  max_entries: 50
  response_ttl: 10m
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "loco.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.LLM.Endpoint != "http://127.0.0.1:8080" {
		t.Errorf("expected endpoint http://127.0.0.1:8080, got %s", cfg.LLM.Endpoint)
	}
	if cfg.LLM.Model != "codellama:13b" {
		t.Errorf("expected model codellama:13b, got %s", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %f", cfg.LLM.Temperature)
	}
	if cfg.Cache.Enabled {
		t.Error("expected cache disabled")
	}
	if cfg.Cache.MaxEntries != 50 {
		t.Errorf("expected max_entries 50, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.ResponseTTL != 10*time.Minute {
		t.Errorf("expected response_ttl 10m, got %s", cfg.Cache.ResponseTTL)
	}
	// Unset fields keep their defaults.
	if cfg.Cache.FileTTL != 5*time.Minute {
		t.Errorf("expected default file_ttl 5m, got %s", cfg.Cache.FileTTL)
	}
}

func TestLoadFromFile_WithEnvInterpolation(t *testing.T) {
	t.Setenv("TEST_MODEL", "llama3:70b")

	content := `
llm:
  model: ${TEST_MODEL}
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "loco.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.LLM.Model != "llama3:70b" {
		t.Errorf("expected interpolated model llama3:70b, got %s", cfg.LLM.Model)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/loco.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
