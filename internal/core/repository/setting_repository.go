package repository

import (
	"context"

	"github.com/martijn/vmvault/internal/core/domain"
)

type SettingRepository interface {
	Upsert(ctx context.Context, setting *domain.Setting) error
	FindByName(ctx context.Context, name string) (*domain.Setting, error)
	List(ctx context.Context) ([]*domain.Setting, error)
}
