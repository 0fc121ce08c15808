package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
)

const (
	snapshotColumns = `id, workload_id, name, description, snapshot_type, status, size, progress_percent,
		progress_msg, error_msg, user_id, project_id, host, version, created_at, updated_at, finished_at`
	snapshotValues = `:id, :workload_id, :name, :description, :snapshot_type, :status, :size, :progress_percent,
		:progress_msg, :error_msg, :user_id, :project_id, :host, :version, :created_at, :updated_at, :finished_at`
	snapshotVMColumns = `id, snapshot_id, vm_id, vm_name, status, size, metadata, created_at`
)

type snapshotRepository struct {
	db *DB
}

func NewSnapshotRepository(db *DB) repository.SnapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) Create(ctx context.Context, snapshot *domain.Snapshot) error {
	query := `INSERT INTO snapshot (` + snapshotColumns + `) VALUES (` + snapshotValues + `)`
	if _, err := r.db.NamedExecContext(ctx, query, snapshot); err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	return nil
}

func (r *snapshotRepository) FindByID(ctx context.Context, id string) (*domain.Snapshot, error) {
	var snapshot domain.Snapshot
	err := r.db.GetContext(ctx, &snapshot, `SELECT `+snapshotColumns+` FROM snapshot WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound("snapshot", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &snapshot, nil
}

func (r *snapshotRepository) Update(ctx context.Context, snapshot *domain.Snapshot) error {
	snapshot.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE snapshot
		SET name = :name, description = :description, snapshot_type = :snapshot_type, status = :status,
			size = :size, progress_percent = :progress_percent, progress_msg = :progress_msg,
			error_msg = :error_msg, user_id = :user_id, project_id = :project_id, host = :host,
			version = :version, updated_at = :updated_at, finished_at = :finished_at
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, snapshot)
	if err != nil {
		return fmt.Errorf("failed to update snapshot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NewNotFound("snapshot", snapshot.ID)
	}
	return nil
}

func (r *snapshotRepository) Upsert(ctx context.Context, snapshot *domain.Snapshot) error {
	query := `INSERT INTO snapshot (` + snapshotColumns + `) VALUES (` + snapshotValues + `)
		ON CONFLICT(id) DO UPDATE SET
			workload_id = excluded.workload_id, name = excluded.name, description = excluded.description,
			snapshot_type = excluded.snapshot_type, status = excluded.status, size = excluded.size,
			progress_percent = excluded.progress_percent, progress_msg = excluded.progress_msg,
			error_msg = excluded.error_msg, user_id = excluded.user_id, project_id = excluded.project_id,
			host = excluded.host, version = excluded.version, created_at = excluded.created_at,
			updated_at = excluded.updated_at, finished_at = excluded.finished_at`
	if _, err := r.db.NamedExecContext(ctx, query, snapshot); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func (r *snapshotRepository) List(ctx context.Context, filter repository.SnapshotFilter) ([]*domain.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshot WHERE 1=1`
	query, args := ApplyFilters(query, nil, filter.Filters)
	query = ApplyOrdering(query, filter.Order, "created_at DESC")
	query, args = ApplyPagination(query, args, filter.Page, filter.PerPage)

	var snapshots []*domain.Snapshot
	if err := r.db.SelectContext(ctx, &snapshots, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return snapshots, nil
}

func (r *snapshotRepository) Count(ctx context.Context, filter repository.SnapshotFilter) (int, error) {
	query, args := ApplyFilters(`SELECT COUNT(*) FROM snapshot WHERE 1=1`, nil, filter.Filters)

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

func (r *snapshotRepository) FindByWorkload(ctx context.Context, workloadID string) ([]*domain.Snapshot, error) {
	var snapshots []*domain.Snapshot
	err := r.db.SelectContext(ctx, &snapshots,
		`SELECT `+snapshotColumns+` FROM snapshot WHERE workload_id = ? ORDER BY created_at ASC, id ASC`, workloadID)
	if err != nil {
		return nil, fmt.Errorf("failed to find snapshots by workload: %w", err)
	}
	return snapshots, nil
}

// FindLatestByType returns nil without error when the workload has no such snapshot.
func (r *snapshotRepository) FindLatestByType(ctx context.Context, workloadID string, snapshotType domain.SnapshotType) (*domain.Snapshot, error) {
	var snapshot domain.Snapshot
	err := r.db.GetContext(ctx, &snapshot,
		`SELECT `+snapshotColumns+` FROM snapshot
		WHERE workload_id = ? AND snapshot_type = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`,
		workloadID, snapshotType, domain.SnapshotStatusAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest snapshot: %w", err)
	}
	return &snapshot, nil
}

func (r *snapshotRepository) Purge(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM resource_snap WHERE snapshot_id = ?`,
		`DELETE FROM disk_resource_snapshot WHERE snapshot_id = ?`,
		`DELETE FROM snapshot_resource WHERE snapshot_id = ?`,
		`DELETE FROM snapshot_vm WHERE snapshot_id = ?`,
		`DELETE FROM snapshot WHERE id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to purge snapshot %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot purge: %w", err)
	}
	return nil
}

func (r *snapshotRepository) UpsertVM(ctx context.Context, vm *domain.SnapshotVM) error {
	query := `INSERT INTO snapshot_vm (` + snapshotVMColumns + `)
		VALUES (:id, :snapshot_id, :vm_id, :vm_name, :status, :size, :metadata, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			snapshot_id = excluded.snapshot_id, vm_id = excluded.vm_id, vm_name = excluded.vm_name,
			status = excluded.status, size = excluded.size, metadata = excluded.metadata,
			created_at = excluded.created_at`
	if _, err := r.db.NamedExecContext(ctx, query, vm); err != nil {
		return fmt.Errorf("failed to upsert snapshot vm: %w", err)
	}
	return nil
}

func (r *snapshotRepository) ListVMs(ctx context.Context, snapshotID string) ([]*domain.SnapshotVM, error) {
	var vms []*domain.SnapshotVM
	err := r.db.SelectContext(ctx, &vms,
		`SELECT `+snapshotVMColumns+` FROM snapshot_vm WHERE snapshot_id = ? ORDER BY created_at ASC, vm_id ASC`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot vms: %w", err)
	}
	return vms, nil
}
