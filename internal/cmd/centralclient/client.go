// Package centralclient is a minimal HTTP client the CLI subcommands use to
// talk to a running centrald's Control API, grounded on the teacher's
// cmd/friday/cmd_update.go use of a plain net/http.Client with a short
// timeout for its own outbound calls.
package centralclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one centrald instance's Control API.
type Client struct {
	BaseURL string
	http    *http.Client
}

// New returns a Client pointed at baseURL (e.g. "http://127.0.0.1:8090").
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

// Do issues method against path with an optional JSON body, decoding the
// response body into out (if non-nil).
func (c *Client) Do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("centralclient: marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("centralclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("centralclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("centralclient: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("centralclient: %s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("centralclient: decode response: %w", err)
	}
	return nil
}
