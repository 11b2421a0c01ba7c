/**
 * @description
 * This file contains the HTTP handlers for the registration service's API
 * endpoints. Handlers parse incoming requests, call the application service,
 * and write the HTTP response. The status webhook additionally validates the
 * registry's HMAC signature and deduplicates redelivered events.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/brysonmccleary/covecrm-registration-service/internal/app"
	"github.com/brysonmccleary/covecrm-registration-service/internal/domain"
)

// RegistrationHandlers holds the application service that handlers will use.
type RegistrationHandlers struct {
	service       *app.Service
	deduper       app.EventDeduper
	webhookSecret string
}

// NewRegistrationHandlers creates a new instance of RegistrationHandlers.
func NewRegistrationHandlers(service *app.Service, deduper app.EventDeduper, webhookSecret string) *RegistrationHandlers {
	return &RegistrationHandlers{
		service:       service,
		deduper:       deduper,
		webhookSecret: webhookSecret,
	}
}

type statusResponse struct {
	CustomerID         string  `json:"customer_id"`
	BrandID            *string `json:"brand_id"`
	MessagingServiceID *string `json:"messaging_service_id"`
	CampaignID         *string `json:"campaign_id"`
	BrandStatus        string  `json:"brand_status"`
	CampaignStatus     string  `json:"campaign_status"`
	MessagingReady     bool    `json:"messaging_ready"`
	LastSyncedAt       *string `json:"last_synced_at"`
	LastError          *string `json:"last_error"`
}

func buildStatusResponse(p *domain.RegistrationProfile) statusResponse {
	resp := statusResponse{
		CustomerID:         p.CustomerID.String(),
		BrandID:            p.BrandID,
		MessagingServiceID: p.MessagingServiceID,
		CampaignID:         p.CampaignID,
		BrandStatus:        p.BrandStatus,
		CampaignStatus:     p.CampaignStatus,
		MessagingReady:     p.MessagingReady,
		LastError:          p.LastError,
	}
	if p.LastSyncedAt != nil {
		formatted := p.LastSyncedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.LastSyncedAt = &formatted
	}
	return resp
}

func (h *RegistrationHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *RegistrationHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// resolveCustomer maps the authenticated JWT subject to the internal customer
// UUID, writing the error response itself on failure.
func (h *RegistrationHandlers) resolveCustomer(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := GetClerkUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	customerID, err := h.service.ResolveCustomerID(r.Context(), userIDStr)
	if err != nil {
		if errors.Is(err, app.ErrCustomerNotFound) {
			log.Printf("level=warn component=api endpoint=registration outcome=reject reason=user_resolution_failed clerk_user_id=%s", userIDStr)
			h.writeError(w, http.StatusBadRequest, "User not found")
			return uuid.Nil, false
		}
		log.Printf("level=error component=api endpoint=registration msg=\"user resolution failed\" clerk_user_id=%s err=%v", userIDStr, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to resolve user")
		return uuid.Nil, false
	}
	return customerID, true
}

// StatusHandler returns the caller's current registration state without
// touching the registry.
func (h *RegistrationHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.resolveCustomer(w, r)
	if !ok {
		return
	}

	profile, err := h.service.GetStatus(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, app.ErrProfileNotFound) {
			h.writeError(w, http.StatusNotFound, "No registration profile found")
			return
		}
		log.Printf("level=error component=api endpoint=status customer_id=%s err=%v", customerID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load registration status")
		return
	}

	h.writeJSON(w, http.StatusOK, buildStatusResponse(profile))
}

// SyncHandler runs an on-demand sync of the caller's registration profile
// against the registry and returns the refreshed state.
func (h *RegistrationHandlers) SyncHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.resolveCustomer(w, r)
	if !ok {
		return
	}

	profile, err := h.service.ForceSyncCustomer(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, app.ErrProfileNotFound) {
			h.writeError(w, http.StatusNotFound, "No registration profile found")
			return
		}
		log.Printf("level=error component=api endpoint=sync customer_id=%s err=%v", customerID, err)
		h.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	log.Printf("level=info component=api endpoint=sync outcome=ok customer_id=%s messaging_ready=%t", customerID, profile.MessagingReady)
	h.writeJSON(w, http.StatusOK, buildStatusResponse(profile))
}

// statusCallbackPayload tolerates the field-name drift seen across registry
// webhook versions: the campaign status may arrive as campaign_status,
// status, or state.
type statusCallbackPayload struct {
	BrandID            string `json:"brand_id"`
	CampaignID         string `json:"campaign_id"`
	MessagingServiceID string `json:"messaging_service_id"`
	BrandStatus        string `json:"brand_status"`
	CampaignStatus     string `json:"campaign_status"`
	Status             string `json:"status"`
	State              string `json:"state"`
	EventID            string `json:"event_id"`
}

func (p statusCallbackPayload) toCallback() domain.StatusCallback {
	campaignStatus := p.CampaignStatus
	if campaignStatus == "" {
		campaignStatus = p.Status
	}
	if campaignStatus == "" {
		campaignStatus = p.State
	}
	return domain.StatusCallback{
		BrandID:            strings.TrimSpace(p.BrandID),
		CampaignID:         strings.TrimSpace(p.CampaignID),
		MessagingServiceID: strings.TrimSpace(p.MessagingServiceID),
		BrandStatus:        strings.TrimSpace(p.BrandStatus),
		CampaignStatus:     strings.TrimSpace(campaignStatus),
		EventID:            strings.TrimSpace(p.EventID),
	}
}

// StatusCallbackHandler processes status webhooks from the registry. Unknown
// profiles and duplicate events are acknowledged with 200 so the registry
// does not retry deliveries that will never succeed.
func (h *RegistrationHandlers) StatusCallbackHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Cannot read request body")
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if !h.isValidSignature(r.Header.Get("x-registry-signature"), body) {
		log.Println("level=warn component=api endpoint=status_callback outcome=reject reason=invalid_signature")
		h.writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var payload statusCallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("level=warn component=api endpoint=status_callback outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	cb := payload.toCallback()
	if cb.BrandID == "" && cb.CampaignID == "" {
		h.writeError(w, http.StatusBadRequest, "Payload carries no brand or campaign identifier")
		return
	}

	if h.deduper != nil && !h.deduper.MarkSeen(r.Context(), cb.EventID) {
		log.Printf("level=info component=api endpoint=status_callback outcome=duplicate event_id=%s", cb.EventID)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate event ignored"})
		return
	}

	if err := h.service.SyncFromStatusCallback(r.Context(), cb); err != nil {
		if errors.Is(err, app.ErrProfileNotFound) {
			log.Printf("level=warn component=api endpoint=status_callback outcome=unmatched brand_id=%s campaign_id=%s", cb.BrandID, cb.CampaignID)
			h.writeJSON(w, http.StatusOK, map[string]string{"status": "no matching profile"})
			return
		}
		// Release the dedup mark so the registry's redelivery of this event
		// is processed instead of being dropped as a duplicate.
		if h.deduper != nil {
			h.deduper.Forget(r.Context(), cb.EventID)
		}
		log.Printf("level=error component=api endpoint=status_callback outcome=failed brand_id=%s campaign_id=%s err=%v", cb.BrandID, cb.CampaignID, err)
		h.writeError(w, http.StatusInternalServerError, "Callback processing failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CronCheckStatusHandler runs one polling pass over pending profiles. Guarded
// by CronAuthMiddleware; an optional limit query parameter caps the batch.
func (h *RegistrationHandlers) CronCheckStatusHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	result, err := h.service.RunPendingSync(r.Context(), limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=cron_check_status outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Pending sync failed")
		return
	}

	log.Printf("level=info component=api endpoint=cron_check_status outcome=ok processed=%d became_ready=%d switched=%d failed=%d",
		result.Processed, result.BecameReady, result.Switched, result.Failed)
	h.writeJSON(w, http.StatusOK, result)
}

// isValidSignature validates the webhook HMAC. The registry signs the raw
// body with SHA-256; both hex and base64 encodings of the digest are
// accepted. An unset secret skips validation entirely.
func (h *RegistrationHandlers) isValidSignature(signatureHeader string, body []byte) bool {
	if h.webhookSecret == "" {
		return true
	}

	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if hmac.Equal([]byte(header), []byte(hex.EncodeToString(expected))) {
		return true
	}
	return hmac.Equal([]byte(header), []byte(base64.StdEncoding.EncodeToString(expected)))
}
