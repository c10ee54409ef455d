package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the tagged variant carried by a job. Each job type has exactly
// one payload struct.
type Payload interface {
	JobType() JobType
	Validate() error
}

// MailFetchPayload asks the worker to pull new mail from a mailbox
type MailFetchPayload struct {
	Mailbox string `json:"mailbox,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (MailFetchPayload) JobType() JobType { return JobTypeMailFetch }

func (p MailFetchPayload) Validate() error {
	if p.Limit < 0 {
		return &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	return nil
}

// AIReplyPayload asks the worker to draft a reply for a stored mail
type AIReplyPayload struct {
	MailID      string `json:"mail_id"`
	OrderNumber string `json:"order_number,omitempty"`
}

func (AIReplyPayload) JobType() JobType { return JobTypeAIReply }

func (p AIReplyPayload) Validate() error {
	if strings.TrimSpace(p.MailID) == "" {
		return &ValidationError{Field: "mail_id", Reason: "is required"}
	}
	return nil
}

// ReturnSyncPayload drives a refund-request reconciliation run
type ReturnSyncPayload struct {
	PageSize int `json:"page_size,omitempty"`
}

func (ReturnSyncPayload) JobType() JobType { return JobTypeReturnSync }

func (p ReturnSyncPayload) Validate() error {
	if p.PageSize < 0 || p.PageSize > 250 {
		return &ValidationError{Field: "page_size", Reason: "must be between 0 and 250"}
	}
	return nil
}

// CallSyncPayload drives a CDR reconciliation run over a trailing window
type CallSyncPayload struct {
	WindowHours int `json:"window_hours,omitempty"`
}

func (CallSyncPayload) JobType() JobType { return JobTypeCallSync }

func (p CallSyncPayload) Validate() error {
	if p.WindowHours < 0 || p.WindowHours > 24*31 {
		return &ValidationError{Field: "window_hours", Reason: "must be between 0 and 744"}
	}
	return nil
}

// DecodePayload turns raw JSON into the payload variant for jobType
func DecodePayload(jobType JobType, raw []byte) (Payload, error) {
	var p Payload
	switch jobType {
	case JobTypeMailFetch:
		var v MailFetchPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, &ValidationError{Field: "payload", Reason: err.Error()}
		}
		p = v
	case JobTypeAIReply:
		var v AIReplyPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, &ValidationError{Field: "payload", Reason: err.Error()}
		}
		p = v
	case JobTypeReturnSync:
		var v ReturnSyncPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, &ValidationError{Field: "payload", Reason: err.Error()}
		}
		p = v
	case JobTypeCallSync:
		var v CallSyncPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, &ValidationError{Field: "payload", Reason: err.Error()}
		}
		p = v
	default:
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown job type %q", jobType)}
	}
	return p, nil
}
