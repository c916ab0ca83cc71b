package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/loco-cli/loco/pkg/cache"
	"github.com/loco-cli/loco/pkg/metrics"
	"github.com/loco-cli/loco/pkg/telemetry"
)

// Config holds LLM client configuration.
type Config struct {
	// Endpoint is the base URL of the model server (e.g. http://localhost:11434).
	Endpoint string

	// Model is the model name sent with every request.
	Model string

	// RequestTimeout bounds non-streaming requests. Local inference is
	// slow, so the default is generous. Streaming requests are open-ended.
	RequestTimeout time.Duration

	// MaxConns bounds concurrent sockets to the endpoint.
	MaxConns int

	// MaxIdleConns is how many keep-alive connections are retained.
	MaxIdleConns int

	// CacheTTL is the response cache entry lifetime.
	CacheTTL time.Duration

	// CacheMaxEntries bounds the response cache entry count.
	CacheMaxEntries int64

	// CacheMaxBytes bounds the response cache memory use.
	CacheMaxBytes int64

	// Logger receives debug/warn output. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics receives Prometheus instrumentation. May be nil.
	Metrics *metrics.Metrics
}

// DefaultConfig returns client defaults for a local Ollama-style server.
func DefaultConfig() Config {
	return Config{
		Endpoint:        "http://localhost:11434",
		RequestTimeout:  120 * time.Second,
		MaxConns:        5,
		MaxIdleConns:    2,
		CacheTTL:        30 * time.Minute,
		CacheMaxEntries: 100,
		CacheMaxBytes:   10 * 1024 * 1024,
	}
}

// Client talks to one OpenAI-compatible endpoint for one model. All
// requests share a pooled keep-alive transport and a response cache.
type Client struct {
	cfg        Config
	httpClient *http.Client // bounded by RequestTimeout
	streamHTTP *http.Client // no timeout: generation length is unbounded
	respCache  *cache.Memory
	stats      statsTracker
	log        *zap.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a client for the given endpoint and model.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = def.MaxConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = def.CacheMaxEntries
	}
	if cfg.CacheMaxBytes <= 0 {
		cfg.CacheMaxBytes = def.CacheMaxBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	transport := &http.Transport{
		MaxConnsPerHost:     cfg.MaxConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
		streamHTTP: &http.Client{Transport: transport},
		respCache: cache.NewMemory(cache.Config{
			MaxSize:      cfg.CacheMaxEntries,
			MaxSizeBytes: cfg.CacheMaxBytes,
			DefaultTTL:   cfg.CacheTTL,
		}),
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// ChatCompletion issues a non-streaming chat completion. Identical
// requests (same model, messages, temperature, max_tokens) are served
// from the response cache when opts.UseCache is set.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, opts Options) (*ChatResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages must not be empty")
	}

	ctx, span := telemetry.StartCompletion(ctx, c.cfg.Model, false)
	defer span.End()
	span.SetAttributes(attribute.Int("loco.message_count", len(messages)))

	key := fingerprint(c.cfg.Model, messages, opts.Temperature, opts.MaxTokens)

	if opts.UseCache {
		lookupCtx, lookup := telemetry.StartCacheLookup(ctx, key)
		raw, err := c.respCache.Get(lookupCtx, key)
		if err == nil {
			var resp ChatResponse
			if err := json.Unmarshal(raw, &resp); err == nil {
				lookup.SetAttributes(attribute.Bool("loco.cache.hit", true))
				lookup.End()
				c.stats.recordCacheHit()
				c.metrics.RecordCacheHit()
				c.log.Debug("response cache hit", zap.String("key", key))
				return &resp, nil
			}
		}
		lookup.SetAttributes(attribute.Bool("loco.cache.hit", false))
		lookup.End()
		c.metrics.RecordCacheMiss()
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	raw, apiErr := c.post(ctx, body)
	latency := time.Since(start)

	if apiErr != nil {
		c.stats.record(latency, 0, true)
		c.metrics.RecordRequest(statusOf(apiErr), latency)
		telemetry.RecordError(span, apiErr)
		return nil, apiErr
	}

	var resp ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.stats.record(latency, 0, true)
		c.metrics.RecordRequest(0, latency)
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("parse response: %w", err)
	}

	telemetry.RecordUsage(span, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, latency)
	c.stats.record(latency, resp.Usage.TotalTokens, false)
	c.metrics.RecordRequest(http.StatusOK, latency)
	c.metrics.RecordTokens(resp.Usage.TotalTokens)

	if opts.UseCache {
		if err := c.respCache.Set(ctx, key, raw, c.cfg.CacheTTL); err != nil {
			c.log.Debug("response cache set failed", zap.Error(err))
		}
	}

	return &resp, nil
}

// post sends the request body and returns the raw response bytes or a
// classified error. Errors are never retried here; retry policy is the
// caller's decision.
func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	url := c.cfg.Endpoint + "/v1/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, c.cfg.Model, raw)
	}

	return raw, nil
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Statistics {
	return c.stats.snapshot()
}

// ResetStats zeroes the client's counters. The response cache is untouched.
func (c *Client) ResetStats() {
	c.stats.reset()
}

// CacheStats returns the response cache's counters.
func (c *Client) CacheStats() cache.Stats {
	return c.respCache.Stats()
}

// ClearCache drops all cached responses. Statistics are untouched.
func (c *Client) ClearCache() {
	_ = c.respCache.Clear(context.Background())
}

// SaveCache persists the response cache to path.
func (c *Client) SaveCache(path string) error {
	return c.respCache.SaveSnapshot(path)
}

// LoadCache restores the response cache from path. Missing or corrupt
// snapshots leave the cache empty; only an unreadable path errors.
func (c *Client) LoadCache(path string) error {
	n, err := c.respCache.LoadSnapshot(path)
	if err != nil {
		c.log.Warn("response cache restore failed", zap.String("path", path), zap.Error(err))
		return err
	}
	if n > 0 {
		c.log.Debug("response cache restored", zap.Int("entries", n))
	}
	return nil
}

// Close releases the response cache and idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return c.respCache.Close()
}

// statusOf extracts the HTTP status from a classified error, 0 otherwise.
func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
