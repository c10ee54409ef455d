package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	queuedomain "supportdesk-backend/internal/queue/domain"
	"supportdesk-backend/internal/reconcile/domain"
	"supportdesk-backend/internal/reconcile/repository"
	"supportdesk-backend/pkg/commerce"
)

const (
	returnSource       = "commerce"
	defaultPageSize    = 100
	maxPagesPerRun     = 50
	returnCreatedEvent = "return_created"
)

// ReturnSyncResult is stored on the job row
type ReturnSyncResult struct {
	Pages     int        `json:"pages"`
	Orders    int        `json:"orders"`
	Created   int        `json:"returns_created"`
	Updated   int        `json:"returns_updated"`
	Failed    int        `json:"failed"`
	Stopped   bool       `json:"stopped_on_failure"`
	Watermark *time.Time `json:"watermark,omitempty"`
	Errors    []string   `json:"errors,omitempty"`
}

// ReturnSync mirrors refund requests from the commerce provider
type ReturnSync struct {
	orders     OrderLister
	tokens     TokenRunner
	engine     Upserter
	watermarks repository.WatermarkRepository
}

func NewReturnSync(orders OrderLister, tokens TokenRunner, engine Upserter, watermarks repository.WatermarkRepository) *ReturnSync {
	return &ReturnSync{orders: orders, tokens: tokens, engine: engine, watermarks: watermarks}
}

func (s *ReturnSync) Handle(ctx context.Context, p queuedomain.ReturnSyncPayload) (any, error) {
	wm, err := s.watermarks.Get(ctx, domain.SourceReturns)
	if err != nil {
		return nil, fmt.Errorf("load returns watermark: %w", err)
	}
	if err := s.watermarks.MarkAttempt(ctx, domain.SourceReturns); err != nil {
		return nil, fmt.Errorf("mark returns attempt: %w", err)
	}

	var since time.Time
	if wm != nil && wm.WatermarkAt != nil {
		since = *wm.WatermarkAt
	}
	pageSize := p.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}

	res := &ReturnSyncResult{}
	filter := commerce.OrderFilter{RefundRequested: true, UpdatedSince: since, PageSize: pageSize}
	cursor := ""

	for res.Pages < maxPagesPerRun {
		var page *commerce.OrderPage
		err := s.tokens.Do(ctx, CommerceProvider, func(ctx context.Context, accessToken string) error {
			var err error
			page, err = s.orders.ListOrders(ctx, accessToken, filter, cursor)
			return err
		})
		if err != nil {
			if ferr := s.watermarks.RecordFailure(ctx, domain.SourceReturns, err, res); ferr != nil {
				log.Printf("[ReturnSync] Failed to record failure: %v", ferr)
			}
			return nil, classifyProviderError(err)
		}
		res.Pages++

		pageFailed := 0
		newest := since
		for _, order := range page.Orders {
			res.Orders++
			created, err := s.syncOrder(ctx, order)
			if err != nil {
				pageFailed++
				res.Errors = maxErrors(res.Errors, fmt.Errorf("order %s: %w", order.Number, err))
				continue
			}
			if created {
				res.Created++
			} else {
				res.Updated++
			}
			if order.UpdatedAt.After(newest) {
				newest = order.UpdatedAt
			}
		}

		if pageFailed > 0 {
			// The page is replayed next run; upserts make that harmless
			res.Failed += pageFailed
			res.Stopped = true
			if ferr := s.watermarks.RecordFailure(ctx, domain.SourceReturns, fmt.Errorf("%d order(s) failed on page %d", pageFailed, res.Pages), res); ferr != nil {
				log.Printf("[ReturnSync] Failed to record failure: %v", ferr)
			}
			log.Printf("[ReturnSync] Stopping after page %d: %d order(s) failed", res.Pages, pageFailed)
			break
		}

		if !newest.IsZero() {
			since = newest
			res.Watermark = &since
			if err := s.watermarks.Advance(ctx, domain.SourceReturns, since, page.NextCursor, res); err != nil {
				return nil, fmt.Errorf("advance returns watermark: %w", err)
			}
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	log.Printf("[ReturnSync] Done: %d page(s), %d order(s), %d created, %d updated, %d failed",
		res.Pages, res.Orders, res.Created, res.Updated, res.Failed)
	return res, nil
}

// syncOrder upserts customer, order and return, and reports whether the
// return row is new.
func (s *ReturnSync) syncOrder(ctx context.Context, o commerce.Order) (bool, error) {
	var customerID *string
	if email := strings.TrimSpace(o.Customer.Email); email != "" {
		c, err := s.engine.UpsertCustomer(ctx, domain.CustomerRecord{
			Email: email,
			Name:  strings.TrimSpace(o.Customer.Name),
			Phone: strings.TrimSpace(o.Customer.Phone),
		})
		if err != nil {
			return false, err
		}
		customerID = &c.ID
	}

	number := strings.TrimSpace(o.Number)
	if number == "" {
		number = o.ID
	}
	var orderedAt *time.Time
	if !o.OrderedAt.IsZero() {
		t := o.OrderedAt.UTC()
		orderedAt = &t
	}
	order, err := s.engine.UpsertOrder(ctx, domain.OrderRecord{
		OrderNumber:     number,
		CustomerID:      customerID,
		ProviderOrderID: o.ID,
		TotalAmount:     o.TotalAmount,
		Currency:        strings.ToUpper(o.Currency),
		ProviderStatus:  o.Status,
		OrderedAt:       orderedAt,
	})
	if err != nil {
		return false, err
	}

	if o.Refund == nil {
		return false, nil
	}
	var requestedAt *time.Time
	if !o.Refund.RequestedAt.IsZero() {
		t := o.Refund.RequestedAt.UTC()
		requestedAt = &t
	}
	ret, err := s.engine.UpsertReturn(ctx, domain.ReturnRecord{
		OrderID:        order.ID,
		Source:         returnSource,
		Reason:         o.Refund.Reason,
		RefundAmount:   o.Refund.Amount,
		ProviderStatus: o.Refund.Status,
		RequestedAt:    requestedAt,
	})
	if err != nil {
		return false, err
	}

	// Checked on every pass so a run that died after the upsert still
	// leaves its audit entry on replay
	msg := fmt.Sprintf("Return requested for order #%s", number)
	if o.Refund.Reason != "" {
		msg += ": " + o.Refund.Reason
	}
	if _, err := s.engine.EnsureTimeline(ctx, &domain.TimelineEvent{
		CustomerID: customerID,
		EntityType: string(domain.KindReturn),
		EntityID:   ret.ID,
		Kind:       returnCreatedEvent,
		Message:    msg,
	}); err != nil {
		return ret.Created, err
	}
	return ret.Created, nil
}
