package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// Client talks to a running daemon's control API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for addr ("host:port" or a full URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Usage fetches the usage report.
func (c *Client) Usage(ctx context.Context) (*domain.UsageReport, error) {
	var report domain.UsageReport
	if err := c.do(ctx, http.MethodGet, "/api/usage", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// SetOverrideUntil sets the override window end.
func (c *Client) SetOverrideUntil(ctx context.Context, until time.Time) (*OverrideResponse, error) {
	var resp OverrideResponse
	if err := c.do(ctx, http.MethodPut, "/api/override", OverrideRequest{Until: until}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GrantOverride exempts the app for minutes from now.
func (c *Client) GrantOverride(ctx context.Context, minutes int) (*OverrideResponse, error) {
	var resp OverrideResponse
	if err := c.do(ctx, http.MethodPost, "/api/override/grant", GrantRequest{Minutes: minutes}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearOverride removes the override.
func (c *Client) ClearOverride(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/override", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Message)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
