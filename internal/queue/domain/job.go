package domain

import (
	"time"

	"gorm.io/datatypes"
)

// JobType identifies the handler a job is routed to
type JobType string

const (
	JobTypeMailFetch  JobType = "mail_fetch"
	JobTypeAIReply    JobType = "ai_reply"
	JobTypeReturnSync JobType = "return_sync"
	JobTypeCallSync   JobType = "call_sync"
)

// AllJobTypes lists every job type the worker knows about
var AllJobTypes = []JobType{JobTypeMailFetch, JobTypeAIReply, JobTypeReturnSync, JobTypeCallSync}

func (t JobType) Valid() bool {
	for _, known := range AllJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DefaultMaxAttempts returns the retry budget used when the enqueuer does not set one
func (t JobType) DefaultMaxAttempts() int {
	switch t {
	case JobTypeMailFetch:
		return 5
	case JobTypeAIReply:
		return 4
	case JobTypeReturnSync, JobTypeCallSync:
		return 6
	default:
		return 3
	}
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending         JobStatus = "PENDING"
	JobStatusProcessing      JobStatus = "PROCESSING"
	JobStatusSucceeded       JobStatus = "SUCCEEDED"
	JobStatusFailedRetryable JobStatus = "FAILED_RETRYABLE"
	JobStatusDead            JobStatus = "DEAD"
)

// Terminal reports whether no further transition is allowed
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusDead
}

// Job is a durable unit of deferred work
type Job struct {
	ID            string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Type          JobType        `json:"type" gorm:"type:varchar(32);not null;index:idx_jobs_type_status"`
	Payload       datatypes.JSON `json:"payload" gorm:"not null"`
	Status        JobStatus      `json:"status" gorm:"type:varchar(20);not null;index:idx_jobs_type_status;index:idx_jobs_due"`
	Attempts      int            `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts   int            `json:"max_attempts" gorm:"not null"`
	NotBefore     time.Time      `json:"not_before" gorm:"not null;index:idx_jobs_due"`
	LockOwner     *string        `json:"lock_owner,omitempty" gorm:"type:varchar(64)"`
	LockExpiresAt *time.Time     `json:"lock_expires_at,omitempty"`
	LastError     *string        `json:"last_error,omitempty" gorm:"type:text"`
	Result        datatypes.JSON `json:"result,omitempty"`
	CreatedAt     time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

// EnqueueOptions overrides per-type defaults at enqueue time
type EnqueueOptions struct {
	MaxAttempts int
	NotBefore   *time.Time
}

// Stats summarizes recent job rows for the trigger gateway
type Stats struct {
	ByStatus map[JobStatus]int64 `json:"byStatus"`
	ByType   map[JobType]int64   `json:"byType"`
	Total    int64               `json:"total"`
}
