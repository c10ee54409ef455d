package domain

import (
	"time"

	"gorm.io/gorm"
)

// Category is the classifier's verdict for a mail
type Category string

const (
	CategoryReturnRequest Category = "RETURN_REQUEST"
	CategoryComplaint     Category = "COMPLAINT"
	CategoryOrderInquiry  Category = "ORDER_INQUIRY"
	CategoryGeneral       Category = "GENERAL"
)

// Mail is an inbound customer message, keyed by the sender's Message-Id.
// Soft-deleted rows still block re-ingestion.
type Mail struct {
	ID                string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProviderMessageID string         `json:"provider_message_id" gorm:"type:varchar(512);uniqueIndex;not null"`
	UID               uint32         `json:"uid"`
	Mailbox           string         `json:"mailbox" gorm:"type:varchar(255)"`
	FromAddress       string         `json:"from_address" gorm:"type:varchar(255);index"`
	FromName          string         `json:"from_name"`
	Subject           string         `json:"subject"`
	Body              string         `json:"body" gorm:"type:text"`
	Category          Category       `json:"category" gorm:"type:varchar(32);index"`
	OrderNumber       string         `json:"order_number" gorm:"type:varchar(64)"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"index"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Mail) TableName() string { return "mails" }

// DraftReply is the AI suggestion for a mail. An agent edits and sends it
// elsewhere.
type DraftReply struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailID      string    `json:"mail_id" gorm:"type:varchar(36);uniqueIndex;not null"`
	Body        string    `json:"body" gorm:"type:text"`
	Provider    string    `json:"provider" gorm:"type:varchar(32)"`
	Model       string    `json:"model" gorm:"type:varchar(64)"`
	OrderNumber string    `json:"order_number" gorm:"type:varchar(64)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (DraftReply) TableName() string { return "draft_replies" }

// AssistantSettings is the single operator-managed row configuring replies
type AssistantSettings struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	KnowledgeBase string    `json:"knowledge_base" gorm:"type:text"`
	Provider      string    `json:"provider" gorm:"type:varchar(32)"`
	Model         string    `json:"model" gorm:"type:varchar(64)"`
	APIKey        string    `json:"-" gorm:"column:api_key;type:text"` // sealed
	Temperature   float64   `json:"temperature"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (AssistantSettings) TableName() string { return "assistant_settings" }
