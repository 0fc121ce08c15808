package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
	"github.com/martijn/vmvault/internal/vault"
)

type SettingService struct {
	settings  repository.SettingRepository
	shares    ShareSource
	placement *PlacementService
	cloudID   string
	log       logrus.FieldLogger
}

func NewSettingService(settings repository.SettingRepository, shares ShareSource, placement *PlacementService, cloudID string, log logrus.FieldLogger) *SettingService {
	return &SettingService{
		settings:  settings,
		shares:    shares,
		placement: placement,
		cloudID:   cloudID,
		log:       log,
	}
}

func (s *SettingService) ListSettings(ctx context.Context) ([]*domain.Setting, error) {
	return s.settings.List(ctx)
}

func (s *SettingService) GetSetting(ctx context.Context, name string) (*domain.Setting, error) {
	return s.settings.FindByName(ctx, name)
}

// UpsertSetting stores a setting and mirrors the full settings list to the vault.
func (s *SettingService) UpsertSetting(ctx context.Context, setting *domain.Setting) (*domain.Setting, error) {
	if setting.Name == "" {
		return nil, invalidField("name", "is required")
	}

	now := time.Now().UTC()
	existing, err := s.settings.FindByName(ctx, setting.Name)
	switch {
	case err == nil:
		setting.CreatedAt = existing.CreatedAt
	case errors.Is(err, domain.ErrNotFound):
		setting.CreatedAt = now
	default:
		return nil, err
	}
	setting.UpdatedAt = now
	if setting.Status == "" {
		setting.Status = "available"
	}
	if setting.Metadata == nil {
		setting.Metadata = domain.Metadata{}
	}

	if err := s.settings.Upsert(ctx, setting); err != nil {
		return nil, fmt.Errorf("failed to store setting: %w", err)
	}
	if err := s.Persist(ctx); err != nil {
		return nil, err
	}
	return setting, nil
}

// Persist writes every setting to <cloud_unique_id>/settings_db, reusing the
// share that already holds it or placing it on the share with most free space.
func (s *SettingService) Persist(ctx context.Context) error {
	settings, err := s.settings.List(ctx)
	if err != nil {
		return err
	}

	key := vault.SettingsKey(s.cloudID)
	target, err := s.shares.Locate(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		target, err = s.placement.SelectForGlobalSettings(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to place settings: %w", err)
	}

	if err := vault.PutJSON(ctx, target, key, settings); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	s.log.WithFields(logrus.Fields{"share": target.Name(), "settings": len(settings)}).Debug("Persisted settings")
	return nil
}
