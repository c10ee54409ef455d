package usecase

import (
	"context"
	"errors"
	"time"

	queuedomain "supportdesk-backend/internal/queue/domain"
	"supportdesk-backend/internal/reconcile/domain"
	"supportdesk-backend/pkg/cdr"
	"supportdesk-backend/pkg/commerce"
)

// CommerceProvider is the token manager key for the commerce API
const CommerceProvider = "commerce"

// OrderLister pages through commerce orders
type OrderLister interface {
	ListOrders(ctx context.Context, accessToken string, filter commerce.OrderFilter, cursor string) (*commerce.OrderPage, error)
}

// CallLister reads CDRs for a time range
type CallLister interface {
	ListCalls(ctx context.Context, from, to time.Time) ([]cdr.Record, error)
}

// TokenRunner runs a provider call with a managed access token
type TokenRunner interface {
	Do(ctx context.Context, provider string, fn func(ctx context.Context, accessToken string) error) error
}

// Upserter is the slice of the reconciliation engine the sync handlers use
type Upserter interface {
	UpsertCustomer(ctx context.Context, rec domain.CustomerRecord) (domain.UpsertResult, error)
	UpsertOrder(ctx context.Context, rec domain.OrderRecord) (domain.UpsertResult, error)
	UpsertReturn(ctx context.Context, rec domain.ReturnRecord) (domain.UpsertResult, error)
	UpsertCall(ctx context.Context, rec domain.CallRecord) (domain.UpsertResult, error)
	EnsureTimeline(ctx context.Context, ev *domain.TimelineEvent) (bool, error)
	CustomerPhoneIndex(ctx context.Context) (map[string]string, error)
}

// classifyProviderError maps adapter errors onto the queue's retry policy
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	var commerceErr *commerce.StatusError
	if errors.As(err, &commerceErr) {
		if commerceErr.Temporary() {
			return queuedomain.Transient(err)
		}
		return queuedomain.Permanent(err)
	}
	var cdrErr *cdr.StatusError
	if errors.As(err, &cdrErr) {
		if cdrErr.Temporary() {
			return queuedomain.Transient(err)
		}
		return queuedomain.Permanent(err)
	}
	return err
}

func maxErrors(errs []string, err error) []string {
	if len(errs) < 20 {
		errs = append(errs, err.Error())
	}
	return errs
}
