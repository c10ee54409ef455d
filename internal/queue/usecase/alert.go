package usecase

import (
	"context"
	"time"

	"supportdesk-backend/internal/queue/domain"
)

// DeadJobAlerter is told about jobs that exhausted their attempts. The job
// is passed as stored after the final attempt.
type DeadJobAlerter interface {
	JobDead(ctx context.Context, job *domain.Job, cause error) error
}

// MailSender is the outbound mail adapter used for operator alerts
type MailSender interface {
	Send(ctx context.Context, to, template string, vars map[string]any) error
}

const deadJobTemplate = "job_dead"

type mailAlerter struct {
	sender MailSender
	to     string
}

// NewMailAlerter sends an operator mail per dead job. Returns nil when no
// recipient is configured.
func NewMailAlerter(sender MailSender, to string) DeadJobAlerter {
	if sender == nil || to == "" {
		return nil
	}
	return &mailAlerter{sender: sender, to: to}
}

func (a *mailAlerter) JobDead(ctx context.Context, job *domain.Job, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return a.sender.Send(ctx, a.to, deadJobTemplate, map[string]any{
		"JobID":       job.ID,
		"Type":        string(job.Type),
		"Attempts":    job.Attempts,
		"MaxAttempts": job.MaxAttempts,
		"Error":       reason,
		"CreatedAt":   job.CreatedAt.Format(time.RFC3339),
	})
}
