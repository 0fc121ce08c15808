package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
)

const settingColumns = `name, value, category, type, description, user_id, project_id, hidden, public,
	status, version, metadata, created_at, updated_at`

type settingRepository struct {
	db *DB
}

func NewSettingRepository(db *DB) repository.SettingRepository {
	return &settingRepository{db: db}
}

func (r *settingRepository) Upsert(ctx context.Context, setting *domain.Setting) error {
	query := `INSERT INTO setting (` + settingColumns + `)
		VALUES (:name, :value, :category, :type, :description, :user_id, :project_id, :hidden, :public,
			:status, :version, :metadata, :created_at, :updated_at)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value, category = excluded.category, type = excluded.type,
			description = excluded.description, user_id = excluded.user_id,
			project_id = excluded.project_id, hidden = excluded.hidden, public = excluded.public,
			status = excluded.status, version = excluded.version, metadata = excluded.metadata,
			updated_at = excluded.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, setting); err != nil {
		return fmt.Errorf("failed to upsert setting: %w", err)
	}
	return nil
}

func (r *settingRepository) FindByName(ctx context.Context, name string) (*domain.Setting, error) {
	var setting domain.Setting
	err := r.db.GetContext(ctx, &setting, `SELECT `+settingColumns+` FROM setting WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound("setting", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return &setting, nil
}

func (r *settingRepository) List(ctx context.Context) ([]*domain.Setting, error) {
	var settings []*domain.Setting
	if err := r.db.SelectContext(ctx, &settings, `SELECT `+settingColumns+` FROM setting ORDER BY name ASC`); err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return settings, nil
}
