package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
)

const (
	resourceColumns = `id, snapshot_id, vm_id, resource_type, resource_name, status, size, metadata, created_at`
	diskColumns     = `id, snapshot_resource_id, snapshot_id, disk_id, backing_id, name, vault_key, size,
		restore_size, status, metadata, created_at`
	resourceSnapColumns = `id, snapshot_resource_id, snapshot_id, kind, name, data, created_at`
)

type snapshotResourceRepository struct {
	db *DB
}

func NewSnapshotResourceRepository(db *DB) repository.SnapshotResourceRepository {
	return &snapshotResourceRepository{db: db}
}

func (r *snapshotResourceRepository) Upsert(ctx context.Context, resource *domain.SnapshotResource) error {
	query := `INSERT INTO snapshot_resource (` + resourceColumns + `)
		VALUES (:id, :snapshot_id, :vm_id, :resource_type, :resource_name, :status, :size, :metadata, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			snapshot_id = excluded.snapshot_id, vm_id = excluded.vm_id,
			resource_type = excluded.resource_type, resource_name = excluded.resource_name,
			status = excluded.status, size = excluded.size, metadata = excluded.metadata,
			created_at = excluded.created_at`
	if _, err := r.db.NamedExecContext(ctx, query, resource); err != nil {
		return fmt.Errorf("failed to upsert snapshot resource: %w", err)
	}
	return nil
}

func (r *snapshotResourceRepository) FindByID(ctx context.Context, id string) (*domain.SnapshotResource, error) {
	var resource domain.SnapshotResource
	err := r.db.GetContext(ctx, &resource, `SELECT `+resourceColumns+` FROM snapshot_resource WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound("snapshot resource", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot resource: %w", err)
	}
	return &resource, nil
}

func (r *snapshotResourceRepository) ListBySnapshot(ctx context.Context, snapshotID string) ([]*domain.SnapshotResource, error) {
	var resources []*domain.SnapshotResource
	err := r.db.SelectContext(ctx, &resources,
		`SELECT `+resourceColumns+` FROM snapshot_resource WHERE snapshot_id = ? ORDER BY created_at ASC, id ASC`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot resources: %w", err)
	}
	return resources, nil
}

func (r *snapshotResourceRepository) UpsertDiskSnapshot(ctx context.Context, disk *domain.DiskResourceSnapshot) error {
	query := `INSERT INTO disk_resource_snapshot (` + diskColumns + `)
		VALUES (:id, :snapshot_resource_id, :snapshot_id, :disk_id, :backing_id, :name, :vault_key, :size,
			:restore_size, :status, :metadata, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			snapshot_resource_id = excluded.snapshot_resource_id, snapshot_id = excluded.snapshot_id,
			disk_id = excluded.disk_id, backing_id = excluded.backing_id, name = excluded.name,
			vault_key = excluded.vault_key, size = excluded.size, restore_size = excluded.restore_size,
			status = excluded.status, metadata = excluded.metadata, created_at = excluded.created_at`
	if _, err := r.db.NamedExecContext(ctx, query, disk); err != nil {
		return fmt.Errorf("failed to upsert disk snapshot: %w", err)
	}
	return nil
}

func (r *snapshotResourceRepository) FindDiskSnapshot(ctx context.Context, id string) (*domain.DiskResourceSnapshot, error) {
	var disk domain.DiskResourceSnapshot
	err := r.db.GetContext(ctx, &disk, `SELECT `+diskColumns+` FROM disk_resource_snapshot WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound("disk snapshot", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get disk snapshot: %w", err)
	}
	return &disk, nil
}

func (r *snapshotResourceRepository) ListDiskSnapshots(ctx context.Context, snapshotID string) ([]*domain.DiskResourceSnapshot, error) {
	var disks []*domain.DiskResourceSnapshot
	err := r.db.SelectContext(ctx, &disks,
		`SELECT `+diskColumns+` FROM disk_resource_snapshot WHERE snapshot_id = ? ORDER BY created_at ASC, id ASC`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list disk snapshots: %w", err)
	}
	return disks, nil
}

func (r *snapshotResourceRepository) ListDiskSnapshotsByWorkload(ctx context.Context, workloadID string) ([]*domain.DiskResourceSnapshot, error) {
	var disks []*domain.DiskResourceSnapshot
	err := r.db.SelectContext(ctx, &disks,
		`SELECT d.id, d.snapshot_resource_id, d.snapshot_id, d.disk_id, d.backing_id, d.name, d.vault_key,
			d.size, d.restore_size, d.status, d.metadata, d.created_at
		FROM disk_resource_snapshot d
		JOIN snapshot s ON s.id = d.snapshot_id
		WHERE s.workload_id = ?
		ORDER BY d.created_at ASC, d.id ASC`, workloadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workload disk snapshots: %w", err)
	}
	return disks, nil
}

// FindLatestDiskSnapshots returns the newest link of every disk of the VM
// found in an available snapshot. Disks that were never captured are absent.
func (r *snapshotResourceRepository) FindLatestDiskSnapshots(ctx context.Context, workloadID, vmID string) ([]*domain.DiskResourceSnapshot, error) {
	var disks []*domain.DiskResourceSnapshot
	err := r.db.SelectContext(ctx, &disks,
		`SELECT d.id, d.snapshot_resource_id, d.snapshot_id, d.disk_id, d.backing_id, d.name, d.vault_key,
			d.size, d.restore_size, d.status, d.metadata, d.created_at
		FROM disk_resource_snapshot d
		JOIN snapshot_resource r ON r.id = d.snapshot_resource_id
		JOIN snapshot s ON s.id = d.snapshot_id
		WHERE s.workload_id = ? AND r.vm_id = ? AND s.status = ?
		ORDER BY s.created_at DESC, d.created_at DESC`,
		workloadID, vmID, domain.SnapshotStatusAvailable)
	if err != nil {
		return nil, fmt.Errorf("failed to find latest disk snapshots: %w", err)
	}

	seen := make(map[string]bool, len(disks))
	latest := disks[:0]
	for _, d := range disks {
		if seen[d.DiskID] {
			continue
		}
		seen[d.DiskID] = true
		latest = append(latest, d)
	}
	return latest, nil
}

func (r *snapshotResourceRepository) UpsertResourceSnap(ctx context.Context, snap *domain.ResourceSnap) error {
	query := `INSERT INTO resource_snap (` + resourceSnapColumns + `)
		VALUES (:id, :snapshot_resource_id, :snapshot_id, :kind, :name, :data, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			snapshot_resource_id = excluded.snapshot_resource_id, snapshot_id = excluded.snapshot_id,
			kind = excluded.kind, name = excluded.name, data = excluded.data, created_at = excluded.created_at`
	if _, err := r.db.NamedExecContext(ctx, query, snap); err != nil {
		return fmt.Errorf("failed to upsert resource snap: %w", err)
	}
	return nil
}

func (r *snapshotResourceRepository) ListResourceSnaps(ctx context.Context, snapshotResourceID string) ([]*domain.ResourceSnap, error) {
	var snaps []*domain.ResourceSnap
	err := r.db.SelectContext(ctx, &snaps,
		`SELECT `+resourceSnapColumns+` FROM resource_snap WHERE snapshot_resource_id = ? ORDER BY created_at ASC, id ASC`,
		snapshotResourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource snaps: %w", err)
	}
	return snaps, nil
}
