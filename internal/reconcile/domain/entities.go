package domain

import (
	"time"
)

// Customer is matched by email
type Customer struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email        string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone" gorm:"type:varchar(32)"`
	InternalNote string    `json:"internal_note" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

// Order is matched by its customer-facing number
type Order struct {
	ID              string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderNumber     string     `json:"order_number" gorm:"type:varchar(64);uniqueIndex;not null"`
	CustomerID      *string    `json:"customer_id" gorm:"type:varchar(36);index"`
	ProviderOrderID string     `json:"provider_order_id" gorm:"type:varchar(64)"`
	TotalAmount     float64    `json:"total_amount"`
	Currency        string     `json:"currency" gorm:"type:varchar(8)"`
	ProviderStatus  string     `json:"provider_status" gorm:"type:varchar(32)"`
	OrderedAt       *time.Time `json:"ordered_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

type ReturnStatus string

const (
	ReturnStatusNew      ReturnStatus = "NEW"
	ReturnStatusInReview ReturnStatus = "IN_REVIEW"
	ReturnStatusApproved ReturnStatus = "APPROVED"
	ReturnStatusRejected ReturnStatus = "REJECTED"
	ReturnStatusRefunded ReturnStatus = "REFUNDED"
)

// Return is matched by (order, source). Status belongs to operators once
// the row exists.
type Return struct {
	ID             string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID        string       `json:"order_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_returns_order_source"`
	Source         string       `json:"source" gorm:"type:varchar(32);not null;uniqueIndex:idx_returns_order_source"`
	Reason         string       `json:"reason" gorm:"type:text"`
	RefundAmount   float64      `json:"refund_amount"`
	ProviderStatus string       `json:"provider_status" gorm:"type:varchar(32)"`
	RequestedAt    *time.Time   `json:"requested_at"`
	Status         ReturnStatus `json:"status" gorm:"type:varchar(20);not null"`
	InternalNote   string       `json:"internal_note" gorm:"type:text"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (Return) TableName() string { return "returns" }

type CallStatus string

const (
	CallStatusCompleted CallStatus = "COMPLETED"
	CallStatusNoAnswer  CallStatus = "NO_ANSWER"
	CallStatusFailed    CallStatus = "FAILED"
)

// Call is matched by the PBX's call id
type Call struct {
	ID              string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProviderCallID  string     `json:"provider_call_id" gorm:"type:varchar(64);uniqueIndex;not null"`
	CustomerID      *string    `json:"customer_id" gorm:"type:varchar(36);index"`
	PhoneNumber     string     `json:"phone_number" gorm:"type:varchar(32)"`
	Direction       string     `json:"direction" gorm:"type:varchar(16)"`
	Disposition     string     `json:"disposition" gorm:"type:varchar(32)"`
	Missed          bool       `json:"missed"`
	Status          CallStatus `json:"status" gorm:"type:varchar(16)"`
	DurationSeconds int        `json:"duration_seconds"`
	StartedAt       time.Time  `json:"started_at" gorm:"index"`
	RecordingURL    string     `json:"recording_url"`
	InternalNote    string     `json:"internal_note" gorm:"type:text"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Call) TableName() string { return "calls" }

// TimelineEvent is an append-only audit entry
type TimelineEvent struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CustomerID *string   `json:"customer_id" gorm:"type:varchar(36);index"`
	EntityType string    `json:"entity_type" gorm:"type:varchar(32);not null;index:idx_timeline_entity"`
	EntityID   string    `json:"entity_id" gorm:"type:varchar(36);not null;index:idx_timeline_entity"`
	Kind       string    `json:"kind" gorm:"type:varchar(64);not null;index:idx_timeline_entity"`
	Message    string    `json:"message" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
}

func (TimelineEvent) TableName() string { return "timeline_events" }
