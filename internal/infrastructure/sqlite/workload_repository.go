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
	workloadColumns = `id, name, description, user_id, project_id, status, source_platform,
		jobschedule, metadata, error_msg, host, version, created_at, updated_at`
	workloadValues = `:id, :name, :description, :user_id, :project_id, :status, :source_platform,
		:jobschedule, :metadata, :error_msg, :host, :version, :created_at, :updated_at`
	workloadVMColumns = `id, workload_id, vm_id, vm_name, status, metadata, created_at`
)

type workloadRepository struct {
	db *DB
}

func NewWorkloadRepository(db *DB) repository.WorkloadRepository {
	return &workloadRepository{db: db}
}

func (r *workloadRepository) Create(ctx context.Context, workload *domain.Workload) error {
	query := `INSERT INTO workload (` + workloadColumns + `) VALUES (` + workloadValues + `)`
	if _, err := r.db.NamedExecContext(ctx, query, workload); err != nil {
		return fmt.Errorf("failed to create workload: %w", err)
	}
	return nil
}

func (r *workloadRepository) FindByID(ctx context.Context, id string) (*domain.Workload, error) {
	var workload domain.Workload
	err := r.db.GetContext(ctx, &workload, `SELECT `+workloadColumns+` FROM workload WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound("workload", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workload: %w", err)
	}
	return &workload, nil
}

func (r *workloadRepository) Update(ctx context.Context, workload *domain.Workload) error {
	workload.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE workload
		SET name = :name, description = :description, user_id = :user_id, project_id = :project_id,
			status = :status, source_platform = :source_platform, jobschedule = :jobschedule,
			metadata = :metadata, error_msg = :error_msg, host = :host, version = :version,
			updated_at = :updated_at
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, workload)
	if err != nil {
		return fmt.Errorf("failed to update workload: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NewNotFound("workload", workload.ID)
	}
	return nil
}

func (r *workloadRepository) Upsert(ctx context.Context, workload *domain.Workload) error {
	query := `INSERT INTO workload (` + workloadColumns + `) VALUES (` + workloadValues + `)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, description = excluded.description, user_id = excluded.user_id,
			project_id = excluded.project_id, status = excluded.status,
			source_platform = excluded.source_platform, jobschedule = excluded.jobschedule,
			metadata = excluded.metadata, error_msg = excluded.error_msg, host = excluded.host,
			version = excluded.version, created_at = excluded.created_at, updated_at = excluded.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, workload); err != nil {
		return fmt.Errorf("failed to upsert workload: %w", err)
	}
	return nil
}

func (r *workloadRepository) List(ctx context.Context, filter repository.WorkloadFilter) ([]*domain.Workload, error) {
	query := `SELECT ` + workloadColumns + ` FROM workload WHERE 1=1`
	query, args := ApplyFilters(query, nil, filter.Filters)
	query = ApplyOrdering(query, filter.Order, "created_at DESC")
	query, args = ApplyPagination(query, args, filter.Page, filter.PerPage)

	var workloads []*domain.Workload
	if err := r.db.SelectContext(ctx, &workloads, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list workloads: %w", err)
	}
	return workloads, nil
}

func (r *workloadRepository) Count(ctx context.Context, filter repository.WorkloadFilter) (int, error) {
	query, args := ApplyFilters(`SELECT COUNT(*) FROM workload WHERE 1=1`, nil, filter.Filters)

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count workloads: %w", err)
	}
	return count, nil
}

func (r *workloadRepository) CompareAndSetStatus(ctx context.Context, id string, from, to domain.WorkloadStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE workload SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set workload status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *workloadRepository) FindByStatus(ctx context.Context, status domain.WorkloadStatus) ([]*domain.Workload, error) {
	var workloads []*domain.Workload
	err := r.db.SelectContext(ctx, &workloads,
		`SELECT `+workloadColumns+` FROM workload WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to find workloads by status: %w", err)
	}
	return workloads, nil
}

func (r *workloadRepository) ListVMs(ctx context.Context, workloadID string) ([]*domain.WorkloadVM, error) {
	var vms []*domain.WorkloadVM
	err := r.db.SelectContext(ctx, &vms,
		`SELECT `+workloadVMColumns+` FROM workload_vm WHERE workload_id = ? ORDER BY created_at ASC, vm_id ASC`, workloadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workload vms: %w", err)
	}
	return vms, nil
}

func (r *workloadRepository) UpsertVM(ctx context.Context, vm *domain.WorkloadVM) error {
	query := `INSERT INTO workload_vm (` + workloadVMColumns + `)
		VALUES (:id, :workload_id, :vm_id, :vm_name, :status, :metadata, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			workload_id = excluded.workload_id, vm_id = excluded.vm_id, vm_name = excluded.vm_name,
			status = excluded.status, metadata = excluded.metadata, created_at = excluded.created_at`
	if _, err := r.db.NamedExecContext(ctx, query, vm); err != nil {
		return fmt.Errorf("failed to upsert workload vm: %w", err)
	}
	return nil
}

func (r *workloadRepository) DeleteVM(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM workload_vm WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete workload vm: %w", err)
	}
	return nil
}
