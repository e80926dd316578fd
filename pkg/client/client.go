package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rmax-ai/meshflow/pkg/api"
	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/packet"
)

// Client is the meshflow SDK client.
type Client struct {
	endpoint   string
	token      string
	http       *http.Client
	backoff    BackoffStrategy
	maxRetries int
}

// NewClient creates a new meshflow client.
// endpoint defaults to "http://127.0.0.1:8090" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8090"
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		backoff:    DefaultBackoff(),
		maxRetries: 3,
	}
}

// SetToken sends "Authorization: Bearer <token>" on mutating requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// SetRetry configures packet submission retries. maxRetries 0 disables them.
func (c *Client) SetRetry(maxRetries int, b BackoffStrategy) {
	c.maxRetries = maxRetries
	if b != nil {
		c.backoff = b
	}
}

// Health fetches daemon status and engine counters.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var out api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, &out)
	return out, err
}

// Graph fetches the node/link snapshot.
func (c *Client) Graph(ctx context.Context) (api.GraphResponse, error) {
	var out api.GraphResponse
	err := c.do(ctx, http.MethodGet, "/v1/graph", nil, &out)
	return out, err
}

// Flows fetches the traversals currently on their link.
func (c *Client) Flows(ctx context.Context, filter FlowFilter) ([]engine.Traversal, error) {
	q := url.Values{}
	if filter.HideAmbiguous {
		q.Set("hide_ambiguous", "true")
	}
	for _, class := range filter.HideClasses {
		q.Add("hide_class", string(class))
	}
	path := "/v1/flows"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out api.FlowsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Traversals, nil
}

// Pending fetches the open aggregation entries.
func (c *Client) Pending(ctx context.Context) ([]engine.PendingView, error) {
	var out api.PendingResponse
	if err := c.do(ctx, http.MethodGet, "/v1/pending", nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// Policy fetches the active resolution policy.
func (c *Client) Policy(ctx context.Context) (engine.Policy, error) {
	var out api.PolicyResponse
	err := c.do(ctx, http.MethodGet, "/v1/policy", nil, &out)
	return out.Policy, err
}

// SetPolicy replaces the resolution policy. The daemon resets its graph
// when the policy changes.
func (c *Client) SetPolicy(ctx context.Context, p engine.Policy) (api.PolicyResponse, error) {
	var out api.PolicyResponse
	err := c.do(ctx, http.MethodPost, "/v1/policy", p, &out)
	return out, err
}

// Reset clears the daemon graph.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/reset", nil, nil)
}

// SubmitPackets posts a batch of receptions. Network errors and 5xx answers
// are retried with backoff; the daemon drops repeated packet ids, so a
// retried batch is never double counted.
func (c *Client) SubmitPackets(ctx context.Context, pkts []*packet.Packet) (api.IngestResponse, error) {
	if len(pkts) == 0 {
		return api.IngestResponse{}, errors.New("no packets to submit")
	}

	var (
		out     api.IngestResponse
		lastErr error
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff.Next(attempt - 1)):
			case <-ctx.Done():
				return out, ctx.Err()
			}
		}
		lastErr = c.do(ctx, http.MethodPost, "/v1/packets", pkts, &out)
		if lastErr == nil {
			return out, nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && !se.Retryable() {
			return out, lastErr
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
	}
	return out, fmt.Errorf("submit failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
