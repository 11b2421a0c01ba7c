/**
 * @description
 * Scheduled job implementations for the scheduler binary.
 */
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/brysonmccleary/covecrm-registration-service/pkg/syncclient"
)

// Repository defines the database operations needed by the jobs.
type Repository interface {
	HasPendingSyncProfiles(ctx context.Context) (bool, error)
}

// SyncTrigger defines the interface for kicking off a pending-status sync
// pass on the registration service.
type SyncTrigger interface {
	TriggerStatusCheck(ctx context.Context) (*syncclient.RunResult, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo    Repository
	trigger SyncTrigger
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo Repository, trigger SyncTrigger, logger *slog.Logger) *Jobs {
	return &Jobs{
		repo:    repo,
		trigger: trigger,
		logger:  logger,
	}
}

// CheckRegistrationStatuses triggers a pending-status sync pass on the
// registration service. A cheap existence query skips the HTTP round trip
// when no profile is waiting on approval; a failed pre-check falls through
// to the trigger rather than skipping a needed pass.
func (j *Jobs) CheckRegistrationStatuses() {
	j.logger.Info("starting registration status check job")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	hasPending, err := j.repo.HasPendingSyncProfiles(ctx)
	if err != nil {
		j.logger.Error("pending profile pre-check failed, triggering anyway", "error", err)
	} else if !hasPending {
		j.logger.Info("no pending registration profiles to check")
		return
	}

	summary, err := j.trigger.TriggerStatusCheck(ctx)
	if err != nil {
		j.logger.Error("failed to run registration status check", "error", err)
		return
	}

	j.logger.Info("registration status check job finished",
		"processed", summary.Processed,
		"became_ready", summary.BecameReady,
		"switched", summary.Switched,
		"failed", summary.Failed,
	)
}
