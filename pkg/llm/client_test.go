package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, endpoint, model string) *Client {
	t.Helper()
	c, err := NewClient(Config{Endpoint: endpoint, Model: model})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// completionHandler returns a handler that answers every chat request
// with the given content and counts calls.
func completionHandler(content string, calls *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		resp := ChatResponse{
			Model: "test-model",
			Choices: []Choice{
				{Message: Message{Role: "assistant", Content: content}, FinishReason: "stop"},
			},
			Usage: Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestChatCompletion(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(completionHandler("hello", &calls))
	defer srv.Close()

	client := newTestClient(t, srv.URL, "test-model")
	ctx := context.Background()

	resp, err := client.ChatCompletion(ctx, []Message{{Role: "user", Content: "hi"}}, DefaultOptions())
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}
	if resp.Content() != "hello" {
		t.Errorf("expected 'hello', got %q", resp.Content())
	}

	stats := client.Stats()
	if stats.Requests != 1 {
		t.Errorf("expected 1 request, got %d", stats.Requests)
	}
	if stats.TotalTokens != 5 {
		t.Errorf("expected 5 tokens, got %d", stats.TotalTokens)
	}
}

func TestChatCompletion_EmptyMessages(t *testing.T) {
	client := newTestClient(t, "http://localhost:1", "test-model")

	if _, err := client.ChatCompletion(context.Background(), nil, DefaultOptions()); err == nil {
		t.Error("expected error for empty message list")
	}
}

func TestChatCompletion_CacheHitCounting(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(completionHandler("cached answer", &calls))
	defer srv.Close()

	client := newTestClient(t, srv.URL, "test-model")
	ctx := context.Background()
	messages := []Message{{Role: "user", Content: "same question"}}

	first, err := client.ChatCompletion(ctx, messages, DefaultOptions())
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	second, err := client.ChatCompletion(ctx, messages, DefaultOptions())
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 network call, got %d", calls.Load())
	}
	if client.Stats().CacheHits != 1 {
		t.Errorf("expected 1 cache hit, got %d", client.Stats().CacheHits)
	}
	if first.Content() != second.Content() {
		t.Errorf("cached response differs: %q vs %q", first.Content(), second.Content())
	}
}

func TestChatCompletion_UseCacheFalse(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(completionHandler("fresh", &calls))
	defer srv.Close()

	client := newTestClient(t, srv.URL, "test-model")
	ctx := context.Background()
	messages := []Message{{Role: "user", Content: "same question"}}

	opts := DefaultOptions()
	opts.UseCache = false

	for i := 0; i < 2; i++ {
		if _, err := client.ChatCompletion(ctx, messages, opts); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}

	if calls.Load() != 2 {
		t.Errorf("expected 2 network calls with cache disabled, got %d", calls.Load())
	}
}

func TestChatCompletion_ClearCache(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(completionHandler("x", &calls))
	defer srv.Close()

	client := newTestClient(t, srv.URL, "test-model")
	ctx := context.Background()
	messages := []Message{{Role: "user", Content: "q"}}

	_, _ = client.ChatCompletion(ctx, messages, DefaultOptions())
	client.ClearCache()
	_, _ = client.ChatCompletion(ctx, messages, DefaultOptions())

	if calls.Load() != 2 {
		t.Errorf("expected 2 network calls after cache clear, got %d", calls.Load())
	}
	// Clearing the cache must not touch statistics.
	if client.Stats().Requests != 2 {
		t.Errorf("expected request count to survive cache clear, got %d", client.Stats().Requests)
	}
}

func TestChatCompletion_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not installed"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, "foo:7b")

	_, err := client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}}, DefaultOptions())
	if err == nil {
		t.Fatal("expected error for 404")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Kind != ErrKindModelNotFound {
		t.Errorf("expected model_not_found kind, got %s", apiErr.Kind)
	}
	if !strings.Contains(apiErr.Message, "foo:7b") {
		t.Errorf("expected message to name the model, got %q", apiErr.Message)
	}

	if client.Stats().Errors != 1 {
		t.Errorf("expected 1 error recorded, got %d", client.Stats().Errors)
	}
}

func TestChatCompletion_ErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusServiceUnavailable, ErrKindServiceUnavailable},
		{http.StatusRequestEntityTooLarge, ErrKindPayloadTooLarge},
		{http.StatusTooManyRequests, ErrKindRateLimited},
		{http.StatusInternalServerError, ErrKindGeneric},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))

		client := newTestClient(t, srv.URL, "test-model")
		_, err := client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}}, DefaultOptions())
		srv.Close()

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: expected *APIError, got %v", tt.status, err)
		}
		if apiErr.Kind != tt.kind {
			t.Errorf("status %d: expected kind %s, got %s", tt.status, tt.kind, apiErr.Kind)
		}
		if apiErr.StatusCode != tt.status {
			t.Errorf("status %d: status not preserved, got %d", tt.status, apiErr.StatusCode)
		}
	}
}

func TestStats_LatencyAverage(t *testing.T) {
	var s statsTracker

	s.record(100*time.Millisecond, 0, false)
	if got := s.snapshot().AvgLatency; got != 100*time.Millisecond {
		t.Errorf("after first request: expected 100ms, got %s", got)
	}

	s.record(200*time.Millisecond, 0, false)
	if got := s.snapshot().AvgLatency; got != 110*time.Millisecond {
		t.Errorf("after second request: expected 110ms, got %s", got)
	}

	s.record(100*time.Millisecond, 0, false)
	if got := s.snapshot().AvgLatency; got != 109*time.Millisecond {
		t.Errorf("after third request: expected 109ms, got %s", got)
	}
}

func TestStats_SnapshotIsCopy(t *testing.T) {
	var s statsTracker
	s.record(100*time.Millisecond, 5, false)

	snap := s.snapshot()
	snap.Requests = 99

	if s.snapshot().Requests != 1 {
		t.Error("mutating a snapshot must not affect the tracker")
	}
}

func TestBatchChatCompletion_Ordering(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}

		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		// Delay the lexically smaller prompts so completion order
		// differs from input order.
		if strings.HasSuffix(req.Messages[0].Content, "0") || strings.HasSuffix(req.Messages[0].Content, "1") {
			time.Sleep(30 * time.Millisecond)
		}

		resp := ChatResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: "echo:" + req.Messages[0].Content}}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, "test-model")

	opts := DefaultOptions()
	opts.UseCache = false
	var requests []BatchRequest
	for i := 0; i < 5; i++ {
		requests = append(requests, BatchRequest{
			Messages: []Message{{Role: "user", Content: fmt.Sprintf("prompt-%d", i)}},
			Options:  opts,
		})
	}

	results, err := client.BatchChatCompletion(context.Background(), requests, 2)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for i, resp := range results {
		want := fmt.Sprintf("echo:prompt-%d", i)
		if resp.Content() != want {
			t.Errorf("result %d: expected %q, got %q", i, want, resp.Content())
		}
	}

	if maxInFlight.Load() > 2 {
		t.Errorf("concurrency window violated: %d requests in flight", maxInFlight.Load())
	}
}

func TestBatchChatCompletion_FailFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Messages[0].Content == "bad" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(ChatResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: "ok"}}},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, "test-model")

	opts := DefaultOptions()
	opts.UseCache = false
	requests := []BatchRequest{
		{Messages: []Message{{Role: "user", Content: "good"}}, Options: opts},
		{Messages: []Message{{Role: "user", Content: "bad"}}, Options: opts},
		{Messages: []Message{{Role: "user", Content: "good"}}, Options: opts},
	}

	if _, err := client.BatchChatCompletion(context.Background(), requests, 3); err == nil {
		t.Error("expected batch to fail when one request fails")
	}
}
