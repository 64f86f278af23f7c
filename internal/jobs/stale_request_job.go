package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"expense-approval/internal/events"
	"expense-approval/internal/repository"
)

// StaleRequestJob periodically sweeps for pending requests that have
// sat untouched past the configured age and publishes a reminder event
// for each. It never mutates the requests; nudging is the consumers'
// job.
type StaleRequestJob struct {
	repo          repository.ApprovalRepositoryInterface
	publisher     *events.Publisher
	logger        *logrus.Logger
	interval      time.Duration
	staleAfterHrs int
	stopCh        chan struct{}
}

// NewStaleRequestJob creates a new stale request job.
func NewStaleRequestJob(repo repository.ApprovalRepositoryInterface, publisher *events.Publisher, logger *logrus.Logger, interval time.Duration, staleAfterHrs int) *StaleRequestJob {
	if interval <= 0 {
		interval = time.Hour
	}
	if staleAfterHrs <= 0 {
		staleAfterHrs = 72
	}
	return &StaleRequestJob{
		repo:          repo,
		publisher:     publisher,
		logger:        logger,
		interval:      interval,
		staleAfterHrs: staleAfterHrs,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the sweep loop. Blocks until Stop is called or the
// context is cancelled.
func (j *StaleRequestJob) Start(ctx context.Context) {
	j.logger.Info("Stale request job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			j.sweep(ctx)
		case <-j.stopCh:
			j.logger.Info("Stale request job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Stale request job context cancelled")
			return
		}
	}
}

// Stop signals the job to stop
func (j *StaleRequestJob) Stop() {
	close(j.stopCh)
}

func (j *StaleRequestJob) sweep(ctx context.Context) {
	j.logger.Debug("Running stale request sweep...")

	requests, err := j.repo.FindStalePendingRequests(ctx, j.staleAfterHrs)
	if err != nil {
		j.logger.Errorf("Failed to find stale pending requests: %v", err)
		return
	}
	if len(requests) == 0 {
		j.logger.Debug("No stale pending requests")
		return
	}

	j.logger.Infof("Found %d stale pending requests", len(requests))

	for _, request := range requests {
		j.publisher.Publish(ctx, events.SubjectStale, events.ApprovalEvent{
			RequestID:   request.ID,
			TargetType:  request.TargetType,
			TargetID:    request.TargetID,
			Status:      request.Status,
			CurrentStep: request.CurrentStep,
		})
	}
}
