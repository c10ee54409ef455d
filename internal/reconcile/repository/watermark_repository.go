package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	queuedomain "supportdesk-backend/internal/queue/domain"
	"supportdesk-backend/internal/reconcile/domain"
)

const maxErrorLength = 2000

// WatermarkRepository tracks per-source sync progress
type WatermarkRepository interface {
	Get(ctx context.Context, source string) (*domain.SyncWatermark, error)
	// MarkAttempt stamps the start of a run without moving the watermark
	MarkAttempt(ctx context.Context, source string) error
	// Advance moves the watermark after a batch fully committed
	Advance(ctx context.Context, source string, at time.Time, cursor string, stats any) error
	// RecordFailure keeps the watermark and stores the error
	RecordFailure(ctx context.Context, source string, cause error, stats any) error
}

type gormWatermarkRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewWatermarkRepository(db *gorm.DB) WatermarkRepository {
	return &gormWatermarkRepository{db: db, now: time.Now}
}

func (r *gormWatermarkRepository) Get(ctx context.Context, source string) (*domain.SyncWatermark, error) {
	var wm domain.SyncWatermark
	err := r.db.WithContext(ctx).Where("source = ?", source).First(&wm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wm, nil
}

func (r *gormWatermarkRepository) upsert(ctx context.Context, wm *domain.SyncWatermark, cols []string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}},
		DoUpdates: clause.AssignmentColumns(append(cols, "updated_at")),
	}).Create(wm).Error
}

func (r *gormWatermarkRepository) MarkAttempt(ctx context.Context, source string) error {
	now := r.now().UTC()
	return r.upsert(ctx, &domain.SyncWatermark{
		Source:        source,
		LastAttemptAt: &now,
		UpdatedAt:     now,
	}, []string{"last_attempt_at"})
}

func (r *gormWatermarkRepository) Advance(ctx context.Context, source string, at time.Time, cursor string, stats any) error {
	now := r.now().UTC()
	at = at.UTC()
	return r.upsert(ctx, &domain.SyncWatermark{
		Source:        source,
		WatermarkAt:   &at,
		Cursor:        cursor,
		LastSuccessAt: &now,
		LastError:     nil,
		Stats:         encodeStats(stats),
		UpdatedAt:     now,
	}, []string{"watermark_at", "cursor", "last_success_at", "last_error", "stats"})
}

func (r *gormWatermarkRepository) RecordFailure(ctx context.Context, source string, cause error, stats any) error {
	now := r.now().UTC()
	msg := queuedomain.ErrorText(cause, maxErrorLength)
	return r.upsert(ctx, &domain.SyncWatermark{
		Source:    source,
		LastError: &msg,
		Stats:     encodeStats(stats),
		UpdatedAt: now,
	}, []string{"last_error", "stats"})
}

func encodeStats(stats any) datatypes.JSON {
	if stats == nil {
		return nil
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
