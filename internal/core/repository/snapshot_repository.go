package repository

import (
	"context"

	"github.com/martijn/vmvault/internal/api/util"
	"github.com/martijn/vmvault/internal/core/domain"
)

type SnapshotFilter struct {
	util.ListFilter
}

type SnapshotRepository interface {
	Create(ctx context.Context, snapshot *domain.Snapshot) error
	FindByID(ctx context.Context, id string) (*domain.Snapshot, error)
	Update(ctx context.Context, snapshot *domain.Snapshot) error
	Upsert(ctx context.Context, snapshot *domain.Snapshot) error
	List(ctx context.Context, filter SnapshotFilter) ([]*domain.Snapshot, error)
	Count(ctx context.Context, filter SnapshotFilter) (int, error)

	// Find all snapshots of a workload ordered by creation time, oldest first
	FindByWorkload(ctx context.Context, workloadID string) ([]*domain.Snapshot, error)

	// Find the most recent snapshot of the given type that reached available
	FindLatestByType(ctx context.Context, workloadID string, snapshotType domain.SnapshotType) (*domain.Snapshot, error)

	// Purge removes the snapshot and every row it owns in one transaction.
	Purge(ctx context.Context, id string) error

	UpsertVM(ctx context.Context, vm *domain.SnapshotVM) error
	ListVMs(ctx context.Context, snapshotID string) ([]*domain.SnapshotVM, error)
}

type SnapshotResourceRepository interface {
	Upsert(ctx context.Context, resource *domain.SnapshotResource) error
	FindByID(ctx context.Context, id string) (*domain.SnapshotResource, error)
	ListBySnapshot(ctx context.Context, snapshotID string) ([]*domain.SnapshotResource, error)

	UpsertDiskSnapshot(ctx context.Context, disk *domain.DiskResourceSnapshot) error
	FindDiskSnapshot(ctx context.Context, id string) (*domain.DiskResourceSnapshot, error)
	ListDiskSnapshots(ctx context.Context, snapshotID string) ([]*domain.DiskResourceSnapshot, error)
	// Every disk snapshot across all snapshots of the workload
	ListDiskSnapshotsByWorkload(ctx context.Context, workloadID string) ([]*domain.DiskResourceSnapshot, error)
	// The newest available disk snapshot of each disk of a VM, used as backing for the next incremental
	FindLatestDiskSnapshots(ctx context.Context, workloadID, vmID string) ([]*domain.DiskResourceSnapshot, error)

	UpsertResourceSnap(ctx context.Context, snap *domain.ResourceSnap) error
	ListResourceSnaps(ctx context.Context, snapshotResourceID string) ([]*domain.ResourceSnap, error)
}
