/**
 * @description
 * This package provides a read-only client for the carrier compliance
 * registry. It encapsulates authenticated HTTP requests for fetching brand
 * and campaign records and for scanning all campaign records owned by a
 * brand. The registry is the source of truth for approval state; this client
 * never mutates it.
 */
package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"time"
)

// Client is a client for the compliance registry API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new registry client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Brand is a registry brand record.
type Brand struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"date_updated"`
}

// Campaign is a registry campaign record. Different registry endpoints name
// the status field differently, so it is normalized during decoding.
type Campaign struct {
	ID                 string
	MessagingServiceID string
	BrandID            string
	Status             string
	UpdatedAt          time.Time
}

type campaignPayload struct {
	ID                 string    `json:"id"`
	MessagingServiceID string    `json:"messaging_service_id"`
	BrandID            string    `json:"brand_id"`
	CampaignStatus     string    `json:"campaign_status"`
	Status             string    `json:"status"`
	State              string    `json:"state"`
	UpdatedAt          time.Time `json:"date_updated"`
}

func (p campaignPayload) toCampaign() Campaign {
	status := p.CampaignStatus
	if status == "" {
		status = p.Status
	}
	if status == "" {
		status = p.State
	}
	return Campaign{
		ID:                 p.ID,
		MessagingServiceID: p.MessagingServiceID,
		BrandID:            p.BrandID,
		Status:             status,
		UpdatedAt:          p.UpdatedAt,
	}
}

// ErrorResponse represents an error from the registry API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("registry api error: %s - %s", e.Code, e.Message)
	}
	return fmt.Sprintf("registry api error (status %d)", e.StatusCode)
}

// IsNotFound reports whether the error is the registry's missing-record
// response rather than a transport or server failure.
func (e *ErrorResponse) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func (c *Client) doGet(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-registry-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute registry request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read registry response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=registry_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
		}
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode registry response: %w", err)
	}
	return nil
}

// FetchBrand fetches a brand record by id.
func (c *Client) FetchBrand(ctx context.Context, brandID string) (*Brand, error) {
	var brand Brand
	if err := c.doGet(ctx, "/v1/brands/"+url.PathEscape(brandID), &brand); err != nil {
		return nil, err
	}
	return &brand, nil
}

// FetchCampaign fetches the campaign record the stored identifiers point at.
func (c *Client) FetchCampaign(ctx context.Context, messagingServiceID, campaignID string) (*Campaign, error) {
	path := fmt.Sprintf("/v1/services/%s/campaigns/%s", url.PathEscape(messagingServiceID), url.PathEscape(campaignID))
	var payload campaignPayload
	if err := c.doGet(ctx, path, &payload); err != nil {
		return nil, err
	}
	campaign := payload.toCampaign()
	return &campaign, nil
}

// ScanCampaignsForBrand enumerates every campaign record the registry holds
// for a brand, newest first. Resubmissions leave multiple records behind, so
// callers must not assume a single result.
func (c *Client) ScanCampaignsForBrand(ctx context.Context, brandID string) ([]Campaign, error) {
	var payload struct {
		Campaigns []campaignPayload `json:"campaigns"`
	}
	if err := c.doGet(ctx, "/v1/brands/"+url.PathEscape(brandID)+"/campaigns", &payload); err != nil {
		return nil, err
	}

	campaigns := make([]Campaign, 0, len(payload.Campaigns))
	for _, p := range payload.Campaigns {
		campaigns = append(campaigns, p.toCampaign())
	}
	sort.Slice(campaigns, func(i, j int) bool {
		return campaigns[i].UpdatedAt.After(campaigns[j].UpdatedAt)
	})
	return campaigns, nil
}
