package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
)

// lockWorkload moves the workload from available to locked. Snapshots,
// modifications and retention passes all hold this lock, so a workload that
// is busy with any of them is refused with InvalidState.
func lockWorkload(ctx context.Context, workloads repository.WorkloadRepository, workload *domain.Workload) error {
	if workload.Status != domain.WorkloadStatusAvailable {
		return domain.NewInvalidState("workload", workload.ID, string(workload.Status), string(domain.WorkloadStatusAvailable))
	}
	ok, err := workloads.CompareAndSetStatus(ctx, workload.ID, domain.WorkloadStatusAvailable, domain.WorkloadStatusLocked)
	if err != nil {
		return fmt.Errorf("failed to lock workload: %w", err)
	}
	if !ok {
		return domain.NewInvalidState("workload", workload.ID, string(domain.WorkloadStatusLocked), string(domain.WorkloadStatusAvailable))
	}
	workload.Status = domain.WorkloadStatusLocked
	return nil
}

// unlockWorkload releases the lock even when ctx has been cancelled.
func unlockWorkload(ctx context.Context, workloads repository.WorkloadRepository, log logrus.FieldLogger, workloadID string) {
	ok, err := workloads.CompareAndSetStatus(context.WithoutCancel(ctx), workloadID, domain.WorkloadStatusLocked, domain.WorkloadStatusAvailable)
	if err != nil {
		log.WithError(err).WithField("workload", workloadID).Error("Failed to unlock workload")
		return
	}
	if !ok {
		log.WithField("workload", workloadID).Warn("Workload was not locked")
	}
}
