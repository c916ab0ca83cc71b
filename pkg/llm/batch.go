package llm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency is the window size used when the caller
// passes a non-positive concurrency.
const DefaultBatchConcurrency = 3

// BatchRequest is one independent chat completion in a batch.
type BatchRequest struct {
	Messages []Message
	Options  Options
}

// BatchChatCompletion executes the requests in consecutive windows of
// size concurrency. All requests in a window run in parallel; window
// N+1 does not start until window N has fully resolved. This bounds
// in-flight requests against a local server that serializes GPU-bound
// inference internally. Results match input order. Any single failure
// fails the whole batch; there is no partial-results contract.
func (c *Client) BatchChatCompletion(ctx context.Context, requests []BatchRequest, concurrency int) ([]*ChatResponse, error) {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	results := make([]*ChatResponse, len(requests))

	for start := 0; start < len(requests); start += concurrency {
		end := start + concurrency
		if end > len(requests) {
			end = len(requests)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				resp, err := c.ChatCompletion(gctx, requests[i].Messages, requests[i].Options)
				if err != nil {
					return fmt.Errorf("request %d: %w", i, err)
				}
				results[i] = resp
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return results, nil
}
