package usecase

import (
	"context"
	"time"

	queuedomain "supportdesk-backend/internal/queue/domain"
	"supportdesk-backend/pkg/commerce"
	"supportdesk-backend/pkg/imap"
)

// CommerceProvider is the token manager key for the commerce API
const CommerceProvider = "commerce"

// Mailbox is the read side of the IMAP adapter
type Mailbox interface {
	FetchUnseen(ctx context.Context, mailbox string, since time.Time, limit int) (*imap.Unseen, error)
}

// Enqueuer schedules follow-up jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, payload queuedomain.Payload, opts queuedomain.EnqueueOptions) (string, error)
}

// OrderLookup fetches one order by its customer-facing number
type OrderLookup interface {
	GetOrder(ctx context.Context, accessToken, number string) (*commerce.Order, error)
}

// TokenRunner runs a provider call with a managed access token
type TokenRunner interface {
	Do(ctx context.Context, provider string, fn func(ctx context.Context, accessToken string) error) error
}
