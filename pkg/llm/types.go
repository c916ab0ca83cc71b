// Package llm implements the HTTP client for OpenAI-compatible chat
// completion endpoints, including local model servers such as Ollama.
// Non-streaming responses are cached by request fingerprint; streaming
// responses are decoded frame by frame and never cached.
package llm

import "encoding/json"

// Message is a single role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options control a single chat completion request.
type Options struct {
	// Temperature is the sampling temperature sent to the model.
	Temperature float64

	// MaxTokens bounds the completion length.
	MaxTokens int

	// UseCache enables the response cache for non-streaming requests.
	// Identical requests then reuse a previously cached answer even
	// though generation at temperature > 0 is not deterministic; set
	// UseCache to false to opt out per call.
	UseCache bool
}

// DefaultOptions returns the request defaults.
func DefaultOptions() Options {
	return Options{
		Temperature: 0.7,
		MaxTokens:   4000,
		UseCache:    true,
	}
}

// chatRequest is the wire format for POST /v1/chat/completions.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream,omitempty"`
}

// Usage reports token counts for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatResponse is the non-streaming completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Content returns the first choice's message content, or "".
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// streamChunk is one decoded "data:" frame of a streamed completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// serverError is the error envelope some servers return on non-2xx.
type serverError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// modelList is the response to GET /v1/models, used by the
// connectivity probe.
type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// decodeServerError extracts a server-provided message from an error
// body, falling back to the raw body.
func decodeServerError(body []byte) string {
	var se serverError
	if err := json.Unmarshal(body, &se); err == nil && se.Error.Message != "" {
		return se.Error.Message
	}
	return string(body)
}
