package llm

import (
	"encoding/json"

	"github.com/loco-cli/loco/pkg/cache"
)

// fingerprintFields are the semantically relevant request fields. Two
// requests that agree on all of them are treated as interchangeable for
// caching purposes. Message order matters: a reordered conversation is
// a different model input.
type fingerprintFields struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// fingerprint derives a bounded-length cache key for a request.
// encoding/json writes struct fields in declaration order, so the
// serialized form is canonical.
func fingerprint(model string, messages []Message, temperature float64, maxTokens int) string {
	raw, _ := json.Marshal(fingerprintFields{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	return cache.Key("chat", cache.HashBytes(raw))
}
