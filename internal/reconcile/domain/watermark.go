package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Watermark sources
const (
	SourceMail    = "mail"
	SourceOrders  = "orders"
	SourceReturns = "returns"
	SourceCalls   = "calls"
)

// SyncWatermark records how far a sync source has progressed
type SyncWatermark struct {
	Source        string         `json:"source" gorm:"primaryKey;type:varchar(32)"`
	WatermarkAt   *time.Time     `json:"watermark_at"`
	Cursor        string         `json:"cursor" gorm:"type:text"`
	LastSuccessAt *time.Time     `json:"last_success_at"`
	LastAttemptAt *time.Time     `json:"last_attempt_at"`
	LastError     *string        `json:"last_error" gorm:"type:text"`
	Stats         datatypes.JSON `json:"stats"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (SyncWatermark) TableName() string { return "sync_watermarks" }
