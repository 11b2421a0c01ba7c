package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/brysonmccleary/covecrm-registration-service/internal/domain"
	"github.com/brysonmccleary/covecrm-registration-service/internal/store"
	"github.com/brysonmccleary/covecrm-registration-service/pkg/registryclient"
)

type repoStub struct {
	mu sync.Mutex

	profile      *domain.RegistrationProfile
	pending      []domain.RegistrationProfile
	pendingErr   error
	updates      []store.UpdateProfileSyncParams
	updateErrFor map[uuid.UUID]error
	claimed      bool
	claimErr     error
	claimCalls   int
}

func (s *repoStub) GetCustomerIDByAuthUserID(ctx context.Context, authUserID string) (uuid.UUID, error) {
	if s.profile == nil {
		return uuid.Nil, store.ErrCustomerNotFound
	}
	return s.profile.CustomerID, nil
}

func (s *repoStub) GetProfileByCustomerID(ctx context.Context, customerID uuid.UUID) (*domain.RegistrationProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil || s.profile.CustomerID != customerID {
		return nil, store.ErrProfileNotFound
	}
	copied := *s.profile
	return &copied, nil
}

func (s *repoStub) GetProfileByCampaignID(ctx context.Context, campaignID string) (*domain.RegistrationProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil || s.profile.CampaignID == nil || *s.profile.CampaignID != campaignID {
		return nil, store.ErrProfileNotFound
	}
	copied := *s.profile
	return &copied, nil
}

func (s *repoStub) GetProfileByBrandID(ctx context.Context, brandID string) (*domain.RegistrationProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil || s.profile.BrandID == nil || *s.profile.BrandID != brandID {
		return nil, store.ErrProfileNotFound
	}
	copied := *s.profile
	return &copied, nil
}

func (s *repoStub) ListPendingSyncProfiles(ctx context.Context, limit int) ([]domain.RegistrationProfile, error) {
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	if limit < len(s.pending) {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *repoStub) UpdateProfileSync(ctx context.Context, profileID uuid.UUID, params store.UpdateProfileSyncParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, failing := s.updateErrFor[profileID]; failing {
		return err
	}
	s.updates = append(s.updates, params)
	return nil
}

// ClaimApprovalNotification mirrors the conditional UPDATE: only the first
// caller wins the claim.
func (s *repoStub) ClaimApprovalNotification(ctx context.Context, profileID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimCalls++
	if s.claimErr != nil {
		return false, s.claimErr
	}
	if s.claimed {
		return false, nil
	}
	s.claimed = true
	return true, nil
}

type registryStub struct {
	brand       *registryclient.Brand
	brandErr    error
	campaigns   map[string]*registryclient.Campaign
	campaignErr error
	scan        []registryclient.Campaign
	scanErr     error
}

func (s *registryStub) FetchBrand(ctx context.Context, brandID string) (*registryclient.Brand, error) {
	if s.brandErr != nil {
		return nil, s.brandErr
	}
	return s.brand, nil
}

func (s *registryStub) FetchCampaign(ctx context.Context, messagingServiceID, campaignID string) (*registryclient.Campaign, error) {
	if s.campaignErr != nil {
		return nil, s.campaignErr
	}
	if c, ok := s.campaigns[campaignID]; ok {
		return c, nil
	}
	return nil, &registryclient.ErrorResponse{StatusCode: 404}
}

func (s *registryStub) ScanCampaignsForBrand(ctx context.Context, brandID string) ([]registryclient.Campaign, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	return s.scan, nil
}

type billingStub struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *billingStub) ChargeApprovalFeeIfNeeded(ctx context.Context, customerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *billingStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type publisherStub struct {
	mu     sync.Mutex
	events []string
}

func (s *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, routingKey)
	return nil
}

func (s *publisherStub) published(routingKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, key := range s.events {
		if key == routingKey {
			count++
		}
	}
	return count
}

func pendingProfile() *domain.RegistrationProfile {
	brandID := "BN001"
	serviceID := "MG001"
	campaignID := "CM001"
	return &domain.RegistrationProfile{
		ID:                 uuid.New(),
		CustomerID:         uuid.New(),
		BrandID:            &brandID,
		MessagingServiceID: &serviceID,
		CampaignID:         &campaignID,
		BrandStatus:        "pending",
		CampaignStatus:     "pending",
	}
}

func TestSyncFromStatusCallback_FirstApprovalChargesOnce(t *testing.T) {
	repo := &repoStub{profile: pendingProfile()}
	billing := &billingStub{}
	publisher := &publisherStub{}
	svc := NewService(repo, &registryStub{}, billing, publisher)

	err := svc.SyncFromStatusCallback(context.Background(), domain.StatusCallback{
		CampaignID:     "CM001",
		BrandStatus:    "approved",
		CampaignStatus: "approved",
	})
	if err != nil {
		t.Fatalf("SyncFromStatusCallback returned error: %v", err)
	}
	if billing.callCount() != 1 {
		t.Fatalf("expected exactly one billing call, got %d", billing.callCount())
	}
	if publisher.published("registration.ready") != 1 {
		t.Fatal("expected registration.ready event")
	}

	if len(repo.updates) == 0 {
		t.Fatal("expected a status update to be persisted")
	}
	last := repo.updates[len(repo.updates)-1]
	if last.MessagingReady == nil || !*last.MessagingReady {
		t.Fatal("expected messaging_ready to be persisted as true")
	}
}

func TestSyncFromStatusCallback_AlreadyNotifiedDoesNotCharge(t *testing.T) {
	profile := pendingProfile()
	notifiedAt := time.Now().Add(-time.Hour)
	profile.ApprovalNotifiedAt = &notifiedAt
	profile.BrandStatus = "approved"
	profile.CampaignStatus = "approved"
	profile.MessagingReady = true

	repo := &repoStub{profile: profile, claimed: true}
	billing := &billingStub{}
	svc := NewService(repo, &registryStub{}, billing, &publisherStub{})

	err := svc.SyncFromStatusCallback(context.Background(), domain.StatusCallback{
		CampaignID:     "CM001",
		BrandStatus:    "approved",
		CampaignStatus: "approved",
	})
	if err != nil {
		t.Fatalf("SyncFromStatusCallback returned error: %v", err)
	}
	if billing.callCount() != 0 {
		t.Fatalf("expected no billing call for already notified profile, got %d", billing.callCount())
	}
	if repo.claimCalls != 0 {
		t.Fatalf("expected no claim attempt, got %d", repo.claimCalls)
	}
}

func TestConcurrentSyncsChargeExactlyOnce(t *testing.T) {
	profile := pendingProfile()
	repo := &repoStub{profile: profile}
	registry := &registryStub{
		brand: &registryclient.Brand{ID: "BN001", Status: "approved"},
		campaigns: map[string]*registryclient.Campaign{
			"CM001": {ID: "CM001", MessagingServiceID: "MG001", BrandID: "BN001", Status: "approved"},
		},
		scan: []registryclient.Campaign{
			{ID: "CM001", MessagingServiceID: "MG001", BrandID: "BN001", Status: "approved"},
		},
	}
	billing := &billingStub{}
	svc := NewService(repo, registry, billing, &publisherStub{})

	// Webhook and polling race each other toward the approval gate.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = svc.SyncFromStatusCallback(context.Background(), domain.StatusCallback{
			CampaignID:     "CM001",
			BrandStatus:    "approved",
			CampaignStatus: "approved",
		})
	}()
	go func() {
		defer wg.Done()
		copied := *profile
		_, _, _ = svc.SyncProfile(context.Background(), &copied)
	}()
	wg.Wait()

	if billing.callCount() != 1 {
		t.Fatalf("expected exactly one billing call across concurrent syncs, got %d", billing.callCount())
	}
}

func TestBillingFailureDoesNotFailSync(t *testing.T) {
	repo := &repoStub{profile: pendingProfile()}
	billing := &billingStub{err: errors.New("billing gateway down")}
	svc := NewService(repo, &registryStub{}, billing, &publisherStub{})

	err := svc.SyncFromStatusCallback(context.Background(), domain.StatusCallback{
		CampaignID:     "CM001",
		BrandStatus:    "approved",
		CampaignStatus: "approved",
	})
	if err != nil {
		t.Fatalf("expected billing failure to be swallowed, got %v", err)
	}
	if billing.callCount() != 1 {
		t.Fatalf("expected billing to be attempted once, got %d", billing.callCount())
	}
}

func TestClaimWriteFailureStillCharges(t *testing.T) {
	repo := &repoStub{profile: pendingProfile(), claimErr: errors.New("db timeout")}
	billing := &billingStub{}
	svc := NewService(repo, &registryStub{}, billing, &publisherStub{})

	err := svc.SyncFromStatusCallback(context.Background(), domain.StatusCallback{
		CampaignID:     "CM001",
		BrandStatus:    "approved",
		CampaignStatus: "approved",
	})
	if err != nil {
		t.Fatalf("SyncFromStatusCallback returned error: %v", err)
	}
	// The gateway's idempotency key is the backstop when the gate write fails.
	if billing.callCount() != 1 {
		t.Fatalf("expected billing call despite claim failure, got %d", billing.callCount())
	}
}

func TestSyncProfile_RegistryUnreachableKeepsStoredState(t *testing.T) {
	profile := pendingProfile()
	repo := &repoStub{profile: profile}
	registry := &registryStub{
		brandErr:    errors.New("registry unavailable"),
		campaignErr: errors.New("registry unavailable"),
		scanErr:     errors.New("registry unavailable"),
	}
	billing := &billingStub{}
	svc := NewService(repo, registry, billing, &publisherStub{})

	becameReady, switched, err := svc.SyncProfile(context.Background(), profile)
	if err != nil {
		t.Fatalf("expected registry outage to be tolerated, got %v", err)
	}
	if becameReady || switched {
		t.Fatalf("expected no state change, got becameReady=%t switched=%t", becameReady, switched)
	}
	if billing.callCount() != 0 {
		t.Fatal("expected no billing call during registry outage")
	}

	if len(repo.updates) == 0 {
		t.Fatal("expected the sync attempt to be recorded")
	}
	last := repo.updates[len(repo.updates)-1]
	if last.LastError == nil {
		t.Fatal("expected last_error to be recorded")
	}
	if last.CampaignStatus == nil || *last.CampaignStatus != "pending" {
		t.Fatalf("expected stored campaign status to be kept, got %v", last.CampaignStatus)
	}
}

func TestSyncFromStatusCallback_ScanFailureRecordsLastError(t *testing.T) {
	// Missing messaging service id forces a registry resolution on the
	// webhook path; the scan failure must land in last_error just like it
	// does on the polling path.
	profile := pendingProfile()
	profile.MessagingServiceID = nil

	repo := &repoStub{profile: profile}
	registry := &registryStub{scanErr: errors.New("registry unavailable")}
	svc := NewService(repo, registry, &billingStub{}, &publisherStub{})

	err := svc.SyncFromStatusCallback(context.Background(), domain.StatusCallback{
		CampaignID:     "CM001",
		CampaignStatus: "in_review",
	})
	if err != nil {
		t.Fatalf("SyncFromStatusCallback returned error: %v", err)
	}

	if len(repo.updates) == 0 {
		t.Fatal("expected a status update to be persisted")
	}
	last := repo.updates[len(repo.updates)-1]
	if last.LastError == nil || *last.LastError != "registry unavailable" {
		t.Fatalf("expected the scan failure in last_error, got %v", last.LastError)
	}
}

func TestSyncProfile_SwitchesToCanonicalCampaign(t *testing.T) {
	profile := pendingProfile()
	repo := &repoStub{profile: profile}
	newer := time.Now()
	registry := &registryStub{
		brand: &registryclient.Brand{ID: "BN001", Status: "approved"},
		campaigns: map[string]*registryclient.Campaign{
			"CM001": {ID: "CM001", MessagingServiceID: "MG001", BrandID: "BN001", Status: "rejected"},
		},
		scan: []registryclient.Campaign{
			{ID: "CM002", MessagingServiceID: "MG002", BrandID: "BN001", Status: "approved", UpdatedAt: newer},
			{ID: "CM001", MessagingServiceID: "MG001", BrandID: "BN001", Status: "rejected", UpdatedAt: newer.Add(-time.Hour)},
		},
	}
	billing := &billingStub{}
	svc := NewService(repo, registry, billing, &publisherStub{})

	becameReady, switched, err := svc.SyncProfile(context.Background(), profile)
	if err != nil {
		t.Fatalf("SyncProfile returned error: %v", err)
	}
	if !switched {
		t.Fatal("expected a switch to the resubmitted campaign")
	}
	if !becameReady {
		t.Fatal("expected the profile to become messaging-ready")
	}
	if billing.callCount() != 1 {
		t.Fatalf("expected one billing call, got %d", billing.callCount())
	}

	var sawIdentifierPersist bool
	for _, update := range repo.updates {
		if update.CampaignID != nil && *update.CampaignID == "CM002" {
			sawIdentifierPersist = true
			if update.MessagingServiceID == nil || *update.MessagingServiceID != "MG002" {
				t.Fatalf("expected messaging service id MG002, got %v", update.MessagingServiceID)
			}
		}
	}
	if !sawIdentifierPersist {
		t.Fatal("expected canonical identifiers to be persisted")
	}
}

func TestRunPendingSync_IsolatesPerProfileFailures(t *testing.T) {
	healthy := pendingProfile()
	broken := pendingProfile()
	brokenBrand := "BN999"
	brokenCampaign := "CM999"
	broken.BrandID = &brokenBrand
	broken.CampaignID = &brokenCampaign

	repo := &repoStub{
		profile:      healthy,
		pending:      []domain.RegistrationProfile{*broken, *healthy},
		updateErrFor: map[uuid.UUID]error{broken.ID: errors.New("row gone")},
	}
	registry := &registryStub{
		brand: &registryclient.Brand{ID: "BN001", Status: "approved"},
		campaigns: map[string]*registryclient.Campaign{
			"CM001": {ID: "CM001", MessagingServiceID: "MG001", BrandID: "BN001", Status: "approved"},
		},
		scan: []registryclient.Campaign{
			{ID: "CM001", MessagingServiceID: "MG001", BrandID: "BN001", Status: "approved"},
		},
	}
	svc := NewService(repo, registry, &billingStub{}, &publisherStub{})

	result, err := svc.RunPendingSync(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunPendingSync returned error: %v", err)
	}
	if result.Processed != 2 {
		t.Fatalf("expected 2 processed, got %d", result.Processed)
	}
	if result.Failed != 1 {
		t.Fatalf("expected 1 failure, got %d", result.Failed)
	}
	if result.BecameReady != 1 {
		t.Fatalf("expected 1 profile to become ready, got %d", result.BecameReady)
	}
}

func TestSyncFromStatusCallback_UnknownProfile(t *testing.T) {
	repo := &repoStub{}
	svc := NewService(repo, &registryStub{}, &billingStub{}, &publisherStub{})

	err := svc.SyncFromStatusCallback(context.Background(), domain.StatusCallback{
		CampaignID:  "CM404",
		BrandStatus: "approved",
	})
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestSyncFromStatusCallback_BrandOnlyPayload(t *testing.T) {
	repo := &repoStub{profile: pendingProfile()}
	billing := &billingStub{}
	publisher := &publisherStub{}
	svc := NewService(repo, &registryStub{}, billing, publisher)

	err := svc.SyncFromStatusCallback(context.Background(), domain.StatusCallback{
		BrandID:     "BN001",
		BrandStatus: "approved",
	})
	if err != nil {
		t.Fatalf("SyncFromStatusCallback returned error: %v", err)
	}
	// Campaign is still pending, so brand approval alone must not bill.
	if billing.callCount() != 0 {
		t.Fatalf("expected no billing call, got %d", billing.callCount())
	}
	if publisher.published("registration.status.changed") != 1 {
		t.Fatal("expected a status change event for the brand approval")
	}

	last := repo.updates[len(repo.updates)-1]
	if last.BrandStatus == nil || *last.BrandStatus != "approved" {
		t.Fatalf("expected brand status approved to be persisted, got %v", last.BrandStatus)
	}
	if last.MessagingReady == nil || *last.MessagingReady {
		t.Fatal("expected messaging_ready to stay false")
	}
}
