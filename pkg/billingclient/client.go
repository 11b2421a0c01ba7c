/**
 * @description
 * This package provides a client for the payment gateway's one-time approval
 * fee endpoint. The gateway keeps its own per-customer record of whether the
 * fee has already been collected, so the charge call is idempotent and safe
 * to repeat; the caller only supplies the customer identity.
 */
package billingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client is a client for the payment gateway billing API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new billing client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type approvalChargeRequest struct {
	CustomerID string `json:"customer_id"`
	Reason     string `json:"reason"`
}

type approvalChargeResponse struct {
	ChargeID       string `json:"charge_id"`
	AlreadyCharged bool   `json:"already_charged"`
}

// ErrorResponse represents an error from the billing API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("billing api error: %s - %s", e.Code, e.Message)
	}
	return fmt.Sprintf("billing api error (status %d)", e.StatusCode)
}

// ChargeApprovalFeeIfNeeded asks the gateway to collect the one-time
// registration approval fee for a customer. The idempotency key is scoped to
// the customer, so redundant calls after the fee has been collected are
// acknowledged without a second charge.
func (c *Client) ChargeApprovalFeeIfNeeded(ctx context.Context, customerID uuid.UUID) error {
	body, err := json.Marshal(approvalChargeRequest{
		CustomerID: customerID.String(),
		Reason:     "a2p_registration_approval",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal approval charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/charges/approval-fee", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create approval charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-billing-key", c.APIKey)
	req.Header.Set("Idempotency-Key", "a2p_approval:"+customerID.String())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute approval charge request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read approval charge response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=billing_client op=approval_charge status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
		}
		return &errResp
	}

	var chargeResp approvalChargeResponse
	if err := json.Unmarshal(bodyBytes, &chargeResp); err != nil {
		return fmt.Errorf("failed to decode approval charge response: %w", err)
	}
	if chargeResp.AlreadyCharged {
		log.Printf("level=info component=billing_client op=approval_charge customer_id=%s msg=\"fee previously collected; no-op\"", customerID)
	}
	return nil
}
