package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
)

const processColumns = `id, command_id, command, status, output, error, start_time, end_time, type, args`

type processRepository struct {
	db *DB
}

func NewProcessRepository(db *DB) repository.ProcessRepository {
	return &processRepository{db: db}
}

// processRow mirrors the process table; args is JSON text
type processRow struct {
	ID        int64          `db:"id"`
	CommandID string         `db:"command_id"`
	Command   string         `db:"command"`
	Status    string         `db:"status"`
	Output    sql.NullString `db:"output"`
	Error     sql.NullString `db:"error"`
	StartTime sql.NullTime   `db:"start_time"`
	EndTime   sql.NullTime   `db:"end_time"`
	Type      string         `db:"type"`
	Args      string         `db:"args"`
}

func (row *processRow) toDomain() (*domain.Process, error) {
	process := &domain.Process{
		ID:        row.ID,
		CommandID: row.CommandID,
		Command:   row.Command,
		Status:    domain.ProcessStatus(row.Status),
		StartTime: row.StartTime.Time,
		Type:      domain.ProcessType(row.Type),
	}
	if row.Output.Valid {
		process.Output = &row.Output.String
	}
	if row.Error.Valid {
		process.Error = &row.Error.String
	}
	if row.EndTime.Valid {
		process.EndTime = &row.EndTime.Time
	}
	if err := json.Unmarshal([]byte(row.Args), &process.Args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}
	return process, nil
}

func (r *processRepository) Create(ctx context.Context, process *domain.Process) error {
	argsJSON, err := json.Marshal(process.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}

	query := `
		INSERT INTO process (command_id, command, status, output, error, start_time, end_time, type, args)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		process.CommandID,
		process.Command,
		process.Status,
		NullString(process.Output),
		NullString(process.Error),
		process.StartTime,
		NullTime(process.EndTime),
		process.Type,
		string(argsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to create process: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	process.ID = id

	return nil
}

func (r *processRepository) FindByID(ctx context.Context, id int64) (*domain.Process, error) {
	return r.findOne(ctx, "id = ?", strconv.FormatInt(id, 10), id)
}

func (r *processRepository) FindByCommandID(ctx context.Context, commandID string) (*domain.Process, error) {
	return r.findOne(ctx, "command_id = ?", commandID, commandID)
}

func (r *processRepository) findOne(ctx context.Context, where, label string, arg interface{}) (*domain.Process, error) {
	var row processRow
	err := r.db.GetContext(ctx, &row, "SELECT "+processColumns+" FROM process WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound("process", label)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get process: %w", err)
	}
	return row.toDomain()
}

func (r *processRepository) Update(ctx context.Context, process *domain.Process) error {
	argsJSON, err := json.Marshal(process.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}

	query := `
		UPDATE process
		SET status = ?, output = ?, error = ?, end_time = ?, args = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		process.Status,
		NullString(process.Output),
		NullString(process.Error),
		NullTime(process.EndTime),
		string(argsJSON),
		process.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update process: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NewNotFound("process", strconv.FormatInt(process.ID, 10))
	}

	return nil
}

func (r *processRepository) List(ctx context.Context, filter repository.ProcessFilter) ([]*domain.Process, error) {
	query := "SELECT " + processColumns + " FROM process WHERE 1=1"
	query, args := ApplyFilters(query, nil, filter.Filters)
	query = ApplyOrdering(query, filter.Order, "start_time DESC")
	query, args = ApplyPagination(query, args, filter.Page, filter.PerPage)

	return r.selectProcesses(ctx, query, args...)
}

func (r *processRepository) Count(ctx context.Context, filter repository.ProcessFilter) (int, error) {
	query, args := ApplyFilters("SELECT COUNT(*) FROM process WHERE 1=1", nil, filter.Filters)

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count processes: %w", err)
	}
	return count, nil
}

func (r *processRepository) FindUnfinished(ctx context.Context) ([]*domain.Process, error) {
	query := "SELECT " + processColumns + " FROM process WHERE status IN (?, ?) ORDER BY start_time ASC"
	return r.selectProcesses(ctx, query, domain.ProcessStatusPending, domain.ProcessStatusInProgress)
}

func (r *processRepository) selectProcesses(ctx context.Context, query string, args ...interface{}) ([]*domain.Process, error) {
	var rows []processRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	processes := make([]*domain.Process, 0, len(rows))
	for i := range rows {
		process, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		processes = append(processes, process)
	}
	return processes, nil
}
