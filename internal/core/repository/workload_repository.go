package repository

import (
	"context"

	"github.com/martijn/vmvault/internal/api/util"
	"github.com/martijn/vmvault/internal/core/domain"
)

type WorkloadFilter struct {
	util.ListFilter
}

type WorkloadRepository interface {
	Create(ctx context.Context, workload *domain.Workload) error
	FindByID(ctx context.Context, id string) (*domain.Workload, error)
	Update(ctx context.Context, workload *domain.Workload) error
	// Upsert inserts the workload or overwrites the row with the same id.
	Upsert(ctx context.Context, workload *domain.Workload) error
	List(ctx context.Context, filter WorkloadFilter) ([]*domain.Workload, error)
	Count(ctx context.Context, filter WorkloadFilter) (int, error)

	// CompareAndSetStatus moves the workload from one status to another in a
	// single statement. It returns false when the workload was not in from.
	CompareAndSetStatus(ctx context.Context, id string, from, to domain.WorkloadStatus) (bool, error)

	// Find all workloads in the given status (for retention sweeps and lock recovery)
	FindByStatus(ctx context.Context, status domain.WorkloadStatus) ([]*domain.Workload, error)

	ListVMs(ctx context.Context, workloadID string) ([]*domain.WorkloadVM, error)
	UpsertVM(ctx context.Context, vm *domain.WorkloadVM) error
	DeleteVM(ctx context.Context, id string) error
}
