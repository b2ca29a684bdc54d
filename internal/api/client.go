// internal/api/client.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Health is the relay's /healthz body.
type Health struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

// Client talks to the relay's plain HTTP endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Healthcheck checks if the relay is reachable and reports its client count.
func (c *Client) Healthcheck(ctx context.Context) (Health, error) {
	var h Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return h, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return h, fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return h, fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("decoding healthcheck: %w", err)
	}
	if h.Status != "ok" {
		return h, fmt.Errorf("relay status %q", h.Status)
	}
	return h, nil
}

// WaitReady polls Healthcheck until it succeeds or ctx ends.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) (Health, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		h, err := c.Healthcheck(ctx)
		if err == nil {
			return h, nil
		}
		select {
		case <-ctx.Done():
			return h, fmt.Errorf("relay not ready: %w", err)
		case <-ticker.C:
		}
	}
}
