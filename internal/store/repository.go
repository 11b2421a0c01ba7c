/**
 * @description
 * Data access layer for registration profiles. All writes are partial,
 * column-level updates so the webhook and polling paths can run concurrently
 * without clobbering each other's fields.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brysonmccleary/covecrm-registration-service/internal/domain"
)

var (
	ErrProfileNotFound  = errors.New("registration profile not found")
	ErrCustomerNotFound = errors.New("customer not found")
)

const profileColumns = `id, customer_id, brand_id, messaging_service_id, campaign_id,
       brand_status, campaign_status, messaging_ready, approval_notified_at,
       last_synced_at, last_error, created_at, updated_at`

// Repository handles database operations for registration profiles.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func scanProfile(row pgx.Row) (*domain.RegistrationProfile, error) {
	var p domain.RegistrationProfile
	if err := row.Scan(
		&p.ID,
		&p.CustomerID,
		&p.BrandID,
		&p.MessagingServiceID,
		&p.CampaignID,
		&p.BrandStatus,
		&p.CampaignStatus,
		&p.MessagingReady,
		&p.ApprovalNotifiedAt,
		&p.LastSyncedAt,
		&p.LastError,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetCustomerIDByAuthUserID maps an external auth subject (the Clerk user id
// carried in the JWT 'sub' claim) to the internal customer UUID.
func (r *Repository) GetCustomerIDByAuthUserID(ctx context.Context, authUserID string) (uuid.UUID, error) {
	query := `SELECT id FROM customers WHERE auth_user_id = $1`
	var id uuid.UUID
	if err := r.db.QueryRow(ctx, query, authUserID).Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, ErrCustomerNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// GetProfileByCustomerID retrieves the registration profile for a customer.
func (r *Repository) GetProfileByCustomerID(ctx context.Context, customerID uuid.UUID) (*domain.RegistrationProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM registration_profiles WHERE customer_id = $1`
	return scanProfile(r.db.QueryRow(ctx, query, customerID))
}

// GetProfileByCampaignID retrieves the profile currently pointing at a
// registry campaign. Used by the webhook path to resolve the affected row.
func (r *Repository) GetProfileByCampaignID(ctx context.Context, campaignID string) (*domain.RegistrationProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM registration_profiles WHERE campaign_id = $1`
	return scanProfile(r.db.QueryRow(ctx, query, campaignID))
}

// GetProfileByBrandID retrieves the profile registered under a registry brand.
func (r *Repository) GetProfileByBrandID(ctx context.Context, brandID string) (*domain.RegistrationProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM registration_profiles WHERE brand_id = $1`
	return scanProfile(r.db.QueryRow(ctx, query, brandID))
}

// ListPendingSyncProfiles fetches profiles that have started registration but
// are not messaging-ready yet. These are the polling candidates.
func (r *Repository) ListPendingSyncProfiles(ctx context.Context, limit int) ([]domain.RegistrationProfile, error) {
	query := `
		SELECT ` + profileColumns + `
		FROM registration_profiles
		WHERE messaging_ready = FALSE
		  AND brand_id IS NOT NULL
		ORDER BY last_synced_at ASC NULLS FIRST
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []domain.RegistrationProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// HasPendingSyncProfiles reports whether any polling candidates exist. The
// scheduler uses it as a cheap pre-check before triggering a sync pass.
func (r *Repository) HasPendingSyncProfiles(ctx context.Context) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM registration_profiles
			WHERE messaging_ready = FALSE
			  AND brand_id IS NOT NULL
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// UpdateProfileSyncParams describes a partial profile update. Nil fields are
// left untouched. ClearLastError unsets last_error; approval_notified_at is
// deliberately not settable here, only ClaimApprovalNotification touches it.
type UpdateProfileSyncParams struct {
	BrandID            *string
	MessagingServiceID *string
	CampaignID         *string
	BrandStatus        *string
	CampaignStatus     *string
	MessagingReady     *bool
	LastError          *string
	ClearLastError     bool
	TouchLastSyncedAt  bool
}

// UpdateProfileSync applies a partial update to a profile.
func (r *Repository) UpdateProfileSync(ctx context.Context, profileID uuid.UUID, params UpdateProfileSyncParams) error {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{profileID}

	appendSet := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.BrandID != nil {
		appendSet("brand_id", *params.BrandID)
	}
	if params.MessagingServiceID != nil {
		appendSet("messaging_service_id", *params.MessagingServiceID)
	}
	if params.CampaignID != nil {
		appendSet("campaign_id", *params.CampaignID)
	}
	if params.BrandStatus != nil {
		appendSet("brand_status", *params.BrandStatus)
	}
	if params.CampaignStatus != nil {
		appendSet("campaign_status", *params.CampaignStatus)
	}
	if params.MessagingReady != nil {
		appendSet("messaging_ready", *params.MessagingReady)
	}
	if params.ClearLastError {
		sets = append(sets, "last_error = NULL")
	} else if params.LastError != nil {
		appendSet("last_error", *params.LastError)
	}
	if params.TouchLastSyncedAt {
		sets = append(sets, "last_synced_at = NOW()")
	}

	query := fmt.Sprintf("UPDATE registration_profiles SET %s WHERE id = $1", strings.Join(sets, ", "))
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// ClaimApprovalNotification marks the profile as approval-notified if and
// only if it has never been marked before. Returns true when this call won
// the claim. The conditional write is what keeps the one-time approval fee
// from being triggered by more than one concurrent sync.
func (r *Repository) ClaimApprovalNotification(ctx context.Context, profileID uuid.UUID) (bool, error) {
	query := `
		UPDATE registration_profiles
		SET approval_notified_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
		  AND approval_notified_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, profileID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
