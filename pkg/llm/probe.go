package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ConnectionStatus is the result of a connectivity probe. Failure
// causes are distinguished by message so a caller can print targeted
// remediation (start the server, install the model, fix the URL).
type ConnectionStatus struct {
	OK       bool
	TimedOut bool
	Error    string
	Models   []string
}

// TestConnection probes the endpoint's model listing with its own
// timeout, independent of the client's request timeout. It never
// hangs past the deadline and never returns an error: failures are
// reported in the status.
func (c *Client) TestConnection(ctx context.Context, timeout time.Duration) ConnectionStatus {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/v1/models", nil)
	if err != nil {
		return ConnectionStatus{Error: fmt.Sprintf("invalid endpoint: %v", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyProbeError(err, timeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ConnectionStatus{
			Error: fmt.Sprintf("server responded with status %d", resp.StatusCode),
		}
	}

	status := ConnectionStatus{OK: true}
	var list modelList
	if raw, err := io.ReadAll(resp.Body); err == nil {
		if err := json.Unmarshal(raw, &list); err == nil {
			for _, m := range list.Data {
				status.Models = append(status.Models, m.ID)
			}
		}
	}
	return status
}

// classifyProbeError distinguishes timeout, connection-refused, and
// unknown-host failures.
func classifyProbeError(err error, timeout time.Duration) ConnectionStatus {
	if errors.Is(err, context.DeadlineExceeded) {
		return ConnectionStatus{
			TimedOut: true,
			Error:    fmt.Sprintf("connection timed out after %s", timeout),
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ConnectionStatus{
			Error: fmt.Sprintf("host %s not found, check the endpoint URL", dnsErr.Name),
		}
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ConnectionStatus{
			Error: "connection refused: is the model server running?",
		}
	}

	return ConnectionStatus{Error: fmt.Sprintf("connection failed: %v", err)}
}
