package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"supportdesk-backend/internal/mail/domain"
)

const settingsRowID = 1

// SettingsRepository reads and writes the assistant settings row
type SettingsRepository interface {
	// Get returns nil when no operator has configured the assistant yet
	Get(ctx context.Context) (*domain.AssistantSettings, error)
	Save(ctx context.Context, settings *domain.AssistantSettings) error
}

type settingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) Get(ctx context.Context) (*domain.AssistantSettings, error) {
	var settings domain.AssistantSettings
	err := r.db.WithContext(ctx).Where("id = ?", settingsRowID).First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &settings, nil
}

func (r *settingsRepository) Save(ctx context.Context, settings *domain.AssistantSettings) error {
	settings.ID = settingsRowID
	return r.db.WithContext(ctx).Save(settings).Error
}
