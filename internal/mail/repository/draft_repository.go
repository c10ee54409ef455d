package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"supportdesk-backend/internal/mail/domain"
)

// DraftReplyRepository keeps one draft per mail
type DraftReplyRepository interface {
	GetByMailID(ctx context.Context, mailID string) (*domain.DraftReply, error)
	// Save creates the draft or replaces the existing one for the same mail
	Save(ctx context.Context, draft *domain.DraftReply) error
}

type draftReplyRepository struct {
	db *gorm.DB
}

func NewDraftReplyRepository(db *gorm.DB) DraftReplyRepository {
	return &draftReplyRepository{db: db}
}

func (r *draftReplyRepository) GetByMailID(ctx context.Context, mailID string) (*domain.DraftReply, error) {
	var draft domain.DraftReply
	err := r.db.WithContext(ctx).Where("mail_id = ?", mailID).First(&draft).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &draft, nil
}

func (r *draftReplyRepository) Save(ctx context.Context, draft *domain.DraftReply) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.DraftReply
		err := tx.Where("mail_id = ?", draft.MailID).First(&existing).Error

		now := time.Now()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if draft.ID == "" {
				draft.ID = uuid.New().String()
			}
			draft.CreatedAt = now
			draft.UpdatedAt = now
			return tx.Create(draft).Error
		} else if err != nil {
			return err
		}

		// Re-running the job replaces the suggestion in place
		draft.ID = existing.ID
		draft.CreatedAt = existing.CreatedAt
		draft.UpdatedAt = now
		return tx.Save(draft).Error
	})
}
