/**
 * @description
 * This package provides the client the scheduler binary uses to trigger a
 * pending-status sync pass on the registration service. The cron endpoint is
 * guarded by a shared secret, sent in the x-cron-token header.
 */
package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the registration service's cron endpoints.
type Client struct {
	BaseURL    string
	CronSecret string
	HTTPClient *http.Client
}

// NewClient creates a new sync trigger client.
func NewClient(baseURL, cronSecret string) *Client {
	return &Client{
		BaseURL:    baseURL,
		CronSecret: cronSecret,
		HTTPClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// RunResult mirrors the service's pending-sync summary response.
type RunResult struct {
	Processed   int `json:"processed"`
	BecameReady int `json:"became_ready"`
	Switched    int `json:"switched"`
	Failed      int `json:"failed"`
}

// TriggerStatusCheck asks the registration service to run one pending-status
// sync pass and returns its summary.
func (c *Client) TriggerStatusCheck(ctx context.Context) (*RunResult, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/registration/cron/check-status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status check request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-cron-token", c.CronSecret)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute status check request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status check response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status check returned %d: %s", resp.StatusCode, string(body))
	}

	var result RunResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode status check response: %w", err)
	}
	return &result, nil
}
