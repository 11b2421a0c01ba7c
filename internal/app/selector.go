/**
 * @description
 * Canonical campaign selection. The registry is the source of truth: stored
 * identifiers can go stale when a campaign is resubmitted, which creates a
 * new registry record while the old one lingers. This file decides, from the
 * stored identifiers and a scan of the brand's registry records, which
 * campaign the profile should point at.
 */
package app

import (
	"context"
	"errors"
	"log"

	"github.com/brysonmccleary/covecrm-registration-service/internal/domain"
	"github.com/brysonmccleary/covecrm-registration-service/internal/store"
	"github.com/brysonmccleary/covecrm-registration-service/pkg/registryclient"
)

// canonicalSelection is the outcome of resolving a profile against the
// registry scan.
type canonicalSelection struct {
	CampaignID         string
	MessagingServiceID string
	BrandID            string
	CampaignStatus     string
	Switched           bool

	// FetchError carries the registry failure, if any, so the caller can
	// record it on the profile. The selection itself is still usable.
	FetchError string
}

// pickBestCandidate returns the highest-scoring candidate. Candidates arrive
// newest-first from the registry client, so on a score tie the most recently
// observed record wins by taking the first maximum.
func pickBestCandidate(candidates []registryclient.Campaign) *registryclient.Campaign {
	var best *registryclient.Campaign
	bestScore := -1
	for i := range candidates {
		score := scoreCampaignStatus(candidates[i].Status)
		if score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}
	return best
}

// shouldSwitchCampaign applies the canonical-selection rules in order:
//  1. stored identifiers incomplete -> adopt the scanned candidate
//  2. candidate scores strictly higher than the current record -> switch
//  3. candidate is a different campaign and the current one is not approved
//     -> switch (resubmission recovery); an approved current record is never
//     abandoned for a lower-or-equal candidate
func shouldSwitchCampaign(currentCampaignID, currentServiceID, currentStatus string, candidate *registryclient.Campaign) bool {
	if candidate == nil || candidate.ID == "" || candidate.MessagingServiceID == "" {
		return false
	}
	if currentCampaignID == "" || currentServiceID == "" {
		return true
	}
	if scoreCampaignStatus(candidate.Status) > scoreCampaignStatus(currentStatus) {
		return true
	}
	return candidate.ID != currentCampaignID && !isApprovedStatus(currentStatus)
}

// resolveCanonicalCampaign reconciles the profile's stored identifiers with
// the registry. Registry failures are swallowed: the selection falls back to
// whatever is stored and the caller continues with local state. When a
// switch happens the new identifiers are persisted immediately (best effort)
// so later syncs start from the canonical record.
func (s *Service) resolveCanonicalCampaign(ctx context.Context, profile *domain.RegistrationProfile) canonicalSelection {
	selection := canonicalSelection{
		CampaignID:     stringValue(profile.CampaignID),
		CampaignStatus: profile.CampaignStatus,
		BrandID:        stringValue(profile.BrandID),
	}
	selection.MessagingServiceID = stringValue(profile.MessagingServiceID)

	if selection.BrandID == "" {
		return selection
	}

	// Status baseline from the record the profile currently points at.
	if selection.CampaignID != "" && selection.MessagingServiceID != "" {
		fetched, err := s.registry.FetchCampaign(ctx, selection.MessagingServiceID, selection.CampaignID)
		if err != nil {
			var regErr *registryclient.ErrorResponse
			if !errors.As(err, &regErr) || !regErr.IsNotFound() {
				selection.FetchError = err.Error()
				log.Printf("level=warn component=service flow=a2p_sync msg=\"current campaign fetch failed; continuing with stored status\" profile_id=%s campaign_id=%s err=%v", profile.ID, selection.CampaignID, err)
			}
		} else if fetched.Status != "" {
			selection.CampaignStatus = fetched.Status
		}
	}

	candidates, err := s.registry.ScanCampaignsForBrand(ctx, selection.BrandID)
	if err != nil {
		selection.FetchError = err.Error()
		log.Printf("level=warn component=service flow=a2p_sync msg=\"brand campaign scan failed; keeping stored identifiers\" profile_id=%s brand_id=%s err=%v", profile.ID, selection.BrandID, err)
		return selection
	}

	best := pickBestCandidate(candidates)
	if !shouldSwitchCampaign(selection.CampaignID, selection.MessagingServiceID, selection.CampaignStatus, best) {
		return selection
	}

	selection.CampaignID = best.ID
	selection.MessagingServiceID = best.MessagingServiceID
	if best.BrandID != "" {
		selection.BrandID = best.BrandID
	}
	if best.Status != "" {
		selection.CampaignStatus = best.Status
	}
	selection.Switched = true

	// Persist the canonical identifiers so future syncs start from them.
	// Non-fatal: status reconciliation continues even if this write fails.
	params := store.UpdateProfileSyncParams{
		CampaignID:         &selection.CampaignID,
		MessagingServiceID: &selection.MessagingServiceID,
		ClearLastError:     true,
		TouchLastSyncedAt:  true,
	}
	if selection.BrandID != "" {
		params.BrandID = &selection.BrandID
	}
	if err := s.repo.UpdateProfileSync(ctx, profile.ID, params); err != nil {
		log.Printf("level=warn component=service flow=a2p_sync msg=\"canonical identifier persist failed; will retry on next pass\" profile_id=%s campaign_id=%s err=%v", profile.ID, selection.CampaignID, err)
	} else {
		log.Printf("level=info component=service flow=a2p_sync msg=\"switched to canonical campaign\" profile_id=%s campaign_id=%s messaging_service_id=%s", profile.ID, selection.CampaignID, selection.MessagingServiceID)
	}

	return selection
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
