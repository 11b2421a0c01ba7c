/**
 * @description
 * Core business logic for A2P registration sync. Two entry points feed the
 * same workflow: the registry's status webhook and the periodic polling
 * pass. Both reconcile the stored profile against registry truth, recompute
 * messaging readiness, and trigger the one-time approval fee exactly once
 * per profile via a durable claim on approval_notified_at, with the payment
 * gateway's own idempotency key as the backstop.
 */
package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/brysonmccleary/covecrm-registration-service/internal/domain"
	"github.com/brysonmccleary/covecrm-registration-service/internal/store"
	"github.com/brysonmccleary/covecrm-registration-service/pkg/registryclient"
)

const (
	defaultPendingSyncLimit = 100
	maxPendingSyncLimit     = 500

	eventsExchange = "covecrm.events"
)

var (
	ErrProfileNotFound  = errors.New("registration profile not found")
	ErrCustomerNotFound = errors.New("customer not found")
)

// Repository defines the database operations the service needs.
type Repository interface {
	GetCustomerIDByAuthUserID(ctx context.Context, authUserID string) (uuid.UUID, error)
	GetProfileByCustomerID(ctx context.Context, customerID uuid.UUID) (*domain.RegistrationProfile, error)
	GetProfileByCampaignID(ctx context.Context, campaignID string) (*domain.RegistrationProfile, error)
	GetProfileByBrandID(ctx context.Context, brandID string) (*domain.RegistrationProfile, error)
	ListPendingSyncProfiles(ctx context.Context, limit int) ([]domain.RegistrationProfile, error)
	UpdateProfileSync(ctx context.Context, profileID uuid.UUID, params store.UpdateProfileSyncParams) error
	ClaimApprovalNotification(ctx context.Context, profileID uuid.UUID) (bool, error)
}

// RegistryClient defines the read operations against the compliance registry.
type RegistryClient interface {
	FetchBrand(ctx context.Context, brandID string) (*registryclient.Brand, error)
	FetchCampaign(ctx context.Context, messagingServiceID, campaignID string) (*registryclient.Campaign, error)
	ScanCampaignsForBrand(ctx context.Context, brandID string) ([]registryclient.Campaign, error)
}

// BillingClient defines the interface for collecting the approval fee.
type BillingClient interface {
	ChargeApprovalFeeIfNeeded(ctx context.Context, customerID uuid.UUID) error
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Service provides the registration sync business logic.
type Service struct {
	repo      Repository
	registry  RegistryClient
	billing   BillingClient
	publisher EventPublisher

	pendingBatchSize int
}

// NewService creates a new registration sync service.
func NewService(repo Repository, registry RegistryClient, billing BillingClient, publisher EventPublisher) *Service {
	return &Service{
		repo:             repo,
		registry:         registry,
		billing:          billing,
		publisher:        publisher,
		pendingBatchSize: defaultPendingSyncLimit,
	}
}

// SetPendingSyncBatchSize overrides the default batch size used when a
// polling pass is triggered without an explicit limit.
func (s *Service) SetPendingSyncBatchSize(n int) {
	if n > 0 {
		s.pendingBatchSize = n
	}
}

// ResolveCustomerID maps an authenticated external user id to the internal
// customer UUID. Handlers call this with the JWT subject.
func (s *Service) ResolveCustomerID(ctx context.Context, authUserID string) (uuid.UUID, error) {
	id, err := s.repo.GetCustomerIDByAuthUserID(ctx, authUserID)
	if err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			return uuid.Nil, ErrCustomerNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// GetStatus returns the registration profile for a customer.
func (s *Service) GetStatus(ctx context.Context, customerID uuid.UUID) (*domain.RegistrationProfile, error) {
	profile, err := s.repo.GetProfileByCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return profile, nil
}

// SyncFromStatusCallback reconciles a profile from an inbound registry
// webhook. The payload already carries the affected identifiers and their
// new statuses, so no registry fetch is needed on the happy path. Only a
// failure to persist the reconciled statuses is reported to the caller;
// billing problems never are.
func (s *Service) SyncFromStatusCallback(ctx context.Context, cb domain.StatusCallback) error {
	profile, err := s.lookupCallbackProfile(ctx, cb)
	if err != nil {
		return err
	}

	// Stored identifiers missing or pointing at a different campaign than
	// the one reporting status: let the registry scan decide what is
	// canonical before adopting the payload.
	selection := canonicalSelection{
		CampaignID:         stringValue(profile.CampaignID),
		MessagingServiceID: stringValue(profile.MessagingServiceID),
		BrandID:            stringValue(profile.BrandID),
		CampaignStatus:     profile.CampaignStatus,
	}
	if selection.CampaignID == "" || selection.MessagingServiceID == "" ||
		(cb.CampaignID != "" && cb.CampaignID != selection.CampaignID) {
		selection = s.resolveCanonicalCampaign(ctx, profile)
	}

	brandStatus := cb.BrandStatus
	if brandStatus == "" {
		brandStatus = profile.BrandStatus
	}
	campaignStatus := cb.CampaignStatus
	if campaignStatus == "" {
		campaignStatus = selection.CampaignStatus
	}
	// Payload statuses only apply to the record they describe; after a
	// canonical switch the scanned record's status wins.
	if selection.Switched && cb.CampaignID != selection.CampaignID {
		campaignStatus = selection.CampaignStatus
	}

	_, err = s.finishReconciliation(ctx, profile, selection, brandStatus, campaignStatus, selection.FetchError)
	return err
}

// SyncProfile runs one polling unit of work for a profile: fetch registry
// truth, reconcile, and trigger the approval fee on a first-time ready
// transition. Returns the outcome so batch callers can aggregate.
func (s *Service) SyncProfile(ctx context.Context, profile *domain.RegistrationProfile) (becameReady bool, switched bool, err error) {
	selection := s.resolveCanonicalCampaign(ctx, profile)

	brandStatus := profile.BrandStatus
	lastError := selection.FetchError
	if selection.BrandID != "" {
		brand, fetchErr := s.registry.FetchBrand(ctx, selection.BrandID)
		if fetchErr != nil {
			lastError = fetchErr.Error()
			log.Printf("level=warn component=service flow=a2p_sync msg=\"brand fetch failed; keeping stored brand status\" profile_id=%s brand_id=%s err=%v", profile.ID, selection.BrandID, fetchErr)
		} else if brand.Status != "" {
			brandStatus = brand.Status
		}
	}

	result, err := s.finishReconciliation(ctx, profile, selection, brandStatus, selection.CampaignStatus, lastError)
	if err != nil {
		return false, selection.Switched, err
	}
	return result.FirstTime, selection.Switched, nil
}

// RunPendingSync polls every profile that is registered but not yet
// messaging-ready. Per-profile failures are counted and skipped so one bad
// profile cannot stall the pass.
func (s *Service) RunPendingSync(ctx context.Context, limit int) (*domain.SyncRunResult, error) {
	if limit <= 0 {
		limit = s.pendingBatchSize
	}
	if limit > maxPendingSyncLimit {
		limit = maxPendingSyncLimit
	}

	profiles, err := s.repo.ListPendingSyncProfiles(ctx, limit)
	if err != nil {
		return nil, err
	}

	result := &domain.SyncRunResult{Processed: len(profiles)}
	for i := range profiles {
		becameReady, switched, syncErr := s.SyncProfile(ctx, &profiles[i])
		if syncErr != nil {
			result.Failed++
			log.Printf("level=warn component=service flow=a2p_sync msg=\"profile sync failed\" profile_id=%s err=%v", profiles[i].ID, syncErr)
			continue
		}
		if becameReady {
			result.BecameReady++
		}
		if switched {
			result.Switched++
		}
	}
	return result, nil
}

// ForceSyncCustomer syncs a single customer's profile on demand.
func (s *Service) ForceSyncCustomer(ctx context.Context, customerID uuid.UUID) (*domain.RegistrationProfile, error) {
	profile, err := s.GetStatus(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.SyncProfile(ctx, profile); err != nil {
		return nil, err
	}
	return s.GetStatus(ctx, customerID)
}

func (s *Service) lookupCallbackProfile(ctx context.Context, cb domain.StatusCallback) (*domain.RegistrationProfile, error) {
	if cb.CampaignID != "" {
		profile, err := s.repo.GetProfileByCampaignID(ctx, cb.CampaignID)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, store.ErrProfileNotFound) {
			return nil, err
		}
	}
	if cb.BrandID != "" {
		profile, err := s.repo.GetProfileByBrandID(ctx, cb.BrandID)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, store.ErrProfileNotFound) {
			return nil, err
		}
	}
	return nil, ErrProfileNotFound
}

// finishReconciliation persists the reconciled status fields, detects the
// ready transition, and drives the one-time billing trigger. The status
// persist is the only failure surfaced to callers.
func (s *Service) finishReconciliation(ctx context.Context, profile *domain.RegistrationProfile, selection canonicalSelection, brandStatus, campaignStatus, lastError string) (transitionResult, error) {
	ready := isApprovedStatus(brandStatus) && isApprovedStatus(campaignStatus)

	params := store.UpdateProfileSyncParams{
		BrandStatus:       &brandStatus,
		CampaignStatus:    &campaignStatus,
		MessagingReady:    &ready,
		TouchLastSyncedAt: true,
	}
	if lastError != "" {
		params.LastError = &lastError
	}
	if err := s.repo.UpdateProfileSync(ctx, profile.ID, params); err != nil {
		return transitionResult{}, err
	}

	tr := detectTransition(brandStatus, campaignStatus, profile.ApprovalNotifiedAt != nil)
	if tr.FirstTime {
		claimed, claimErr := s.repo.ClaimApprovalNotification(ctx, profile.ID)
		switch {
		case claimErr != nil:
			// Gate write failed. Charge anyway and lean on the gateway's
			// per-customer idempotency key to prevent a double charge.
			log.Printf("level=warn component=service flow=a2p_sync msg=\"approval gate write failed; charging via gateway idempotency\" profile_id=%s err=%v", profile.ID, claimErr)
			s.chargeApprovalFee(ctx, profile)
		case claimed:
			s.chargeApprovalFee(ctx, profile)
			s.publishEvent(ctx, "registration.ready", profile, brandStatus, campaignStatus, true)
		default:
			// A concurrent sync won the claim; it owns the billing call.
			tr.FirstTime = false
			log.Printf("level=info component=service flow=a2p_sync msg=\"approval already claimed by concurrent sync\" profile_id=%s", profile.ID)
		}
	}

	if brandStatus != profile.BrandStatus || campaignStatus != profile.CampaignStatus || ready != profile.MessagingReady {
		s.publishEvent(ctx, "registration.status.changed", profile, brandStatus, campaignStatus, ready)
	}

	return tr, nil
}

// chargeApprovalFee invokes the gateway's idempotent one-time approval fee
// charge. Billing failures are logged and swallowed: a billing outage must
// never block status reconciliation, and the next pass that still sees the
// gate behavior unchanged will not re-enter here once the claim is held.
func (s *Service) chargeApprovalFee(ctx context.Context, profile *domain.RegistrationProfile) {
	if err := s.billing.ChargeApprovalFeeIfNeeded(ctx, profile.CustomerID); err != nil {
		log.Printf("level=warn component=service flow=a2p_sync msg=\"approval fee charge failed (non-fatal)\" profile_id=%s customer_id=%s err=%v", profile.ID, profile.CustomerID, err)
	}
}

func (s *Service) publishEvent(ctx context.Context, routingKey string, profile *domain.RegistrationProfile, brandStatus, campaignStatus string, ready bool) {
	if s.publisher == nil {
		return
	}
	event := domain.RegistrationEvent{
		CustomerID:     profile.CustomerID,
		ProfileID:      profile.ID,
		BrandStatus:    brandStatus,
		CampaignStatus: campaignStatus,
		MessagingReady: ready,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, eventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service flow=a2p_sync msg=\"event publish failed\" routing_key=%s profile_id=%s err=%v", routingKey, profile.ID, err)
	}
}
