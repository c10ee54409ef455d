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
	"supportdesk-backend/pkg/cdr"
)

// CallSyncResult is stored on the job row
type CallSyncResult struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Seen     int       `json:"seen"`
	Created  int       `json:"created"`
	Updated  int       `json:"updated"`
	Matched  int       `json:"matched_customers"`
	Failed   int       `json:"failed"`
	Advanced bool      `json:"watermark_advanced"`
	Errors   []string  `json:"errors,omitempty"`
}

// CallSync mirrors PBX call records
type CallSync struct {
	calls      CallLister
	engine     Upserter
	watermarks repository.WatermarkRepository
	window     time.Duration
	now        func() time.Time
}

func NewCallSync(calls CallLister, engine Upserter, watermarks repository.WatermarkRepository, window time.Duration) *CallSync {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &CallSync{calls: calls, engine: engine, watermarks: watermarks, window: window, now: time.Now}
}

func (s *CallSync) Handle(ctx context.Context, p queuedomain.CallSyncPayload) (any, error) {
	window := s.window
	if p.WindowHours > 0 {
		window = time.Duration(p.WindowHours) * time.Hour
	}
	to := s.now().UTC()
	from := to.Add(-window)

	wm, err := s.watermarks.Get(ctx, domain.SourceCalls)
	if err != nil {
		return nil, fmt.Errorf("load calls watermark: %w", err)
	}
	// A long outage must not leave a gap behind the trailing window
	if wm != nil && wm.WatermarkAt != nil && wm.WatermarkAt.Before(from) {
		from = wm.WatermarkAt.UTC()
	}
	if err := s.watermarks.MarkAttempt(ctx, domain.SourceCalls); err != nil {
		return nil, fmt.Errorf("mark calls attempt: %w", err)
	}

	res := &CallSyncResult{From: from, To: to}

	records, err := s.calls.ListCalls(ctx, from, to)
	if err != nil {
		if ferr := s.watermarks.RecordFailure(ctx, domain.SourceCalls, err, res); ferr != nil {
			log.Printf("[CallSync] Failed to record failure: %v", ferr)
		}
		return nil, classifyProviderError(err)
	}

	phones, err := s.engine.CustomerPhoneIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("load customer phones: %w", err)
	}

	for _, r := range records {
		res.Seen++
		rec := toCallRecord(r)
		if id, ok := phones[repository.NormalizePhone(rec.PhoneNumber)]; ok {
			customerID := id
			rec.CustomerID = &customerID
			res.Matched++
		}
		out, err := s.engine.UpsertCall(ctx, rec)
		if err != nil {
			res.Failed++
			res.Errors = maxErrors(res.Errors, fmt.Errorf("call %s: %w", r.ID, err))
			continue
		}
		if out.Created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	if res.Failed > 0 {
		if ferr := s.watermarks.RecordFailure(ctx, domain.SourceCalls, fmt.Errorf("%d call(s) failed", res.Failed), res); ferr != nil {
			log.Printf("[CallSync] Failed to record failure: %v", ferr)
		}
	} else {
		if err := s.watermarks.Advance(ctx, domain.SourceCalls, to, "", res); err != nil {
			return nil, fmt.Errorf("advance calls watermark: %w", err)
		}
		res.Advanced = true
	}

	log.Printf("[CallSync] Done: %d call(s) in [%s, %s], %d created, %d updated, %d failed",
		res.Seen, from.Format(time.RFC3339), to.Format(time.RFC3339), res.Created, res.Updated, res.Failed)
	return res, nil
}

func toCallRecord(r cdr.Record) domain.CallRecord {
	direction := strings.ToLower(strings.TrimSpace(r.Direction))
	switch direction {
	case "in", "incoming":
		direction = "inbound"
	case "out", "outgoing":
		direction = "outbound"
	case "inbound", "outbound", "internal":
	default:
		direction = ""
	}

	// The customer is the far end of the call
	phone := r.Caller
	if direction == "outbound" {
		phone = r.Callee
	}

	duration := r.Duration
	if duration < 0 {
		duration = 0
	}

	return domain.CallRecord{
		ProviderCallID:  r.ID,
		PhoneNumber:     strings.TrimSpace(phone),
		Direction:       direction,
		Disposition:     strings.ToUpper(strings.TrimSpace(r.Disposition)),
		Missed:          r.Missed,
		Status:          DeriveCallStatus(r.Missed, r.Disposition),
		DurationSeconds: duration,
		StartedAt:       r.StartedAt.UTC(),
		RecordingURL:    strings.TrimSpace(r.RecordingURL),
	}
}

// DeriveCallStatus maps PBX flags onto the call status shown to agents
func DeriveCallStatus(missed bool, disposition string) domain.CallStatus {
	if !missed {
		return domain.CallStatusCompleted
	}
	switch strings.ToUpper(strings.TrimSpace(disposition)) {
	case "BUSY", "FAILED", "CONGESTION", "CHANUNAVAIL":
		return domain.CallStatusFailed
	default:
		return domain.CallStatusNoAnswer
	}
}
