package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/loco-cli/loco/pkg/telemetry"
)

// doneSentinel terminates an event stream.
const doneSentinel = "[DONE]"

// maxFrameSize bounds a single "data:" line. Content deltas are small;
// this is headroom, not a tuning knob.
const maxFrameSize = 1024 * 1024

// StreamChatCompletion issues a streaming chat completion and returns a
// channel of content tokens. The token channel is closed when the
// server sends the [DONE] sentinel or the stream ends; a transport or
// decode failure mid-stream is delivered on the error channel, which
// is closed when the stream goroutine exits, so a receive after
// draining tokens never blocks.
//
// Streamed answers are never cached; the response cache applies to
// non-streaming calls only. Cancelling ctx abandons the stream early:
// the underlying transfer is aborted and no goroutine is leaked.
// Malformed frames are skipped, not surfaced; the skip count is
// visible in Stats().DroppedFrames.
func (c *Client) StreamChatCompletion(ctx context.Context, messages []Message, opts Options) (<-chan string, <-chan error, error) {
	if len(messages) == 0 {
		return nil, nil, fmt.Errorf("messages must not be empty")
	}

	ctx, span := telemetry.StartCompletion(ctx, c.cfg.Model, true)

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		span.End()
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.cfg.Endpoint + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		span.End()
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		span.End()
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		apiErr := classifyStatus(resp.StatusCode, c.cfg.Model, raw)
		telemetry.RecordError(span, apiErr)
		span.End()
		return nil, nil, apiErr
	}

	tokens := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		// Deferred in this order so the span ends before the channels
		// close: a consumer that has drained both channels observes a
		// finished span.
		defer close(tokens)
		defer close(errCh)
		defer span.End()
		defer resp.Body.Close()

		// The scanner carries partial lines across reads, so frame
		// boundaries need not align with transport chunk boundaries.
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")

			if payload == doneSentinel {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				// One bad frame must not abort a multi-second generation.
				c.stats.recordDroppedFrame()
				c.metrics.RecordStreamFrame("dropped")
				c.log.Debug("skipping malformed stream frame", zap.Error(err))
				continue
			}
			c.metrics.RecordStreamFrame("ok")

			if len(chunk.Choices) == 0 {
				continue
			}
			token := chunk.Choices[0].Delta.Content
			if token == "" {
				continue
			}

			select {
			case tokens <- token:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			telemetry.RecordError(span, err)
			errCh <- fmt.Errorf("stream read: %w", err)
		}
	}()

	return tokens, errCh, nil
}
