package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"supportdesk-backend/internal/mail/domain"
)

// MailRepository stores inbound mail
type MailRepository interface {
	// Seen reports whether a message id was ever stored, deleted rows included
	Seen(ctx context.Context, providerMessageID string) (bool, error)
	// Insert stores mail unless its message id exists. Returns false when it did.
	Insert(ctx context.Context, mail *domain.Mail) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Mail, error)
	// Purge hard-deletes a row so the next fetch ingests it again
	Purge(ctx context.Context, id string) error
}

type mailRepository struct {
	db *gorm.DB
}

// NewMailRepository creates a new instance of mailRepository
func NewMailRepository(db *gorm.DB) MailRepository {
	return &mailRepository{db: db}
}

func (r *mailRepository) Seen(ctx context.Context, providerMessageID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Unscoped().Model(&domain.Mail{}).
		Where("provider_message_id = ?", providerMessageID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *mailRepository) Insert(ctx context.Context, mail *domain.Mail) (bool, error) {
	if mail.ID == "" {
		mail.ID = uuid.New().String()
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "provider_message_id"}}, DoNothing: true}).
		Create(mail)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *mailRepository) GetByID(ctx context.Context, id string) (*domain.Mail, error) {
	var mail domain.Mail
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&mail).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mail, nil
}

func (r *mailRepository) Purge(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&domain.Mail{}).Error
}
