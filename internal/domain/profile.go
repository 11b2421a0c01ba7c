/**
 * @description
 * Domain models for A2P messaging registration profiles. A profile tracks the
 * brand and campaign a customer has registered with the carrier compliance
 * registry, the last known approval statuses, and the one-time approval
 * billing marker.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// RegistrationProfile is the persisted registration state for one customer.
// Identifier fields are nil until the corresponding registry object exists.
type RegistrationProfile struct {
	ID                 uuid.UUID  `json:"id"`
	CustomerID         uuid.UUID  `json:"customer_id"`
	BrandID            *string    `json:"brand_id"`
	MessagingServiceID *string    `json:"messaging_service_id"`
	CampaignID         *string    `json:"campaign_id"`
	BrandStatus        string     `json:"brand_status"`
	CampaignStatus     string     `json:"campaign_status"`
	MessagingReady     bool       `json:"messaging_ready"`
	ApprovalNotifiedAt *time.Time `json:"approval_notified_at"`
	LastSyncedAt       *time.Time `json:"last_synced_at"`
	LastError          *string    `json:"last_error"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// StatusCallback is the payload the registry delivers to the status webhook
// when a brand or campaign changes approval state.
type StatusCallback struct {
	BrandID            string `json:"brand_id"`
	CampaignID         string `json:"campaign_id"`
	MessagingServiceID string `json:"messaging_service_id"`
	BrandStatus        string `json:"brand_status"`
	CampaignStatus     string `json:"campaign_status"`
	EventID            string `json:"event_id"`
}

// RegistrationEvent is published to the events exchange when a profile's
// registration state changes.
type RegistrationEvent struct {
	CustomerID     uuid.UUID `json:"customer_id"`
	ProfileID      uuid.UUID `json:"profile_id"`
	BrandStatus    string    `json:"brand_status"`
	CampaignStatus string    `json:"campaign_status"`
	MessagingReady bool      `json:"messaging_ready"`
	Timestamp      time.Time `json:"timestamp"`
}

// SyncRunResult summarizes one polling pass over pending profiles.
type SyncRunResult struct {
	Processed   int `json:"processed"`
	BecameReady int `json:"became_ready"`
	Switched    int `json:"switched"`
	Failed      int `json:"failed"`
}
