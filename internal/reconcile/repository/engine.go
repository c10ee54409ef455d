package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"supportdesk-backend/internal/reconcile/domain"
)

// ErrNotSyncOwned is returned when an upsert touches a column operators own
var ErrNotSyncOwned = errors.New("attribute is not sync-owned")

// kindSpec lists, per entity, the natural key columns and the columns a sync
// may write. Anything else on the row belongs to operators.
type kindSpec struct {
	model          func() interface{}
	keys           []string
	syncOwned      map[string]bool
	insertDefaults map[string]interface{}
}

func columns(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

var specs = map[domain.Kind]kindSpec{
	domain.KindCustomer: {
		model:     func() interface{} { return &domain.Customer{} },
		keys:      []string{"email"},
		syncOwned: columns("name", "phone"),
	},
	domain.KindOrder: {
		model:     func() interface{} { return &domain.Order{} },
		keys:      []string{"order_number"},
		syncOwned: columns("customer_id", "provider_order_id", "total_amount", "currency", "provider_status", "ordered_at"),
	},
	domain.KindReturn: {
		model:          func() interface{} { return &domain.Return{} },
		keys:           []string{"order_id", "source"},
		syncOwned:      columns("reason", "refund_amount", "provider_status", "requested_at"),
		insertDefaults: map[string]interface{}{"status": domain.ReturnStatusNew},
	},
	domain.KindCall: {
		model:     func() interface{} { return &domain.Call{} },
		keys:      []string{"provider_call_id"},
		syncOwned: columns("customer_id", "phone_number", "direction", "disposition", "missed", "status", "duration_seconds", "started_at", "recording_url"),
	},
}

// Engine performs idempotent upserts of provider data by natural key
type Engine struct {
	db       *gorm.DB
	validate *validator.Validate
	now      func() time.Time
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{
		db:       db,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Upsert inserts the row identified by key if absent, otherwise updates only
// the sync-owned columns in attrs.
func (e *Engine) Upsert(ctx context.Context, kind domain.Kind, key domain.NaturalKey, attrs domain.Attrs) (domain.UpsertResult, error) {
	spec, ok := specs[kind]
	if !ok {
		return domain.UpsertResult{}, fmt.Errorf("unknown entity kind %q", kind)
	}
	if err := checkKey(spec, key); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("%s: %w", kind, err)
	}
	for col := range attrs {
		if !spec.syncOwned[col] {
			return domain.UpsertResult{}, fmt.Errorf("%s.%s: %w", kind, col, ErrNotSyncOwned)
		}
	}

	var result domain.UpsertResult
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := findID(tx, spec, key)
		if err != nil {
			return err
		}
		now := e.now().UTC()

		if id == "" {
			row := make(map[string]interface{}, len(key)+len(attrs)+len(spec.insertDefaults)+3)
			for col, v := range spec.insertDefaults {
				row[col] = v
			}
			for col, v := range attrs {
				row[col] = v
			}
			for col, v := range key {
				row[col] = v
			}
			id = uuid.New().String()
			row["id"] = id
			row["created_at"] = now
			row["updated_at"] = now

			if err := tx.Model(spec.model()).Create(row).Error; err != nil {
				return fmt.Errorf("insert %s: %w", kind, err)
			}
			result = domain.UpsertResult{ID: id, Created: true}
			return nil
		}

		if len(attrs) > 0 {
			updates := make(map[string]interface{}, len(attrs)+1)
			for col, v := range attrs {
				updates[col] = v
			}
			updates["updated_at"] = now
			if err := tx.Model(spec.model()).Where("id = ?", id).Updates(updates).Error; err != nil {
				return fmt.Errorf("update %s %s: %w", kind, id, err)
			}
		}
		result = domain.UpsertResult{ID: id}
		return nil
	})
	return result, err
}

func checkKey(spec kindSpec, key domain.NaturalKey) error {
	if len(key) != len(spec.keys) {
		return fmt.Errorf("natural key must be (%s)", strings.Join(spec.keys, ", "))
	}
	for _, col := range spec.keys {
		v, ok := key[col]
		if !ok {
			return fmt.Errorf("natural key is missing %s", col)
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return fmt.Errorf("natural key %s is empty", col)
		}
	}
	return nil
}

func findID(tx *gorm.DB, spec kindSpec, key domain.NaturalKey) (string, error) {
	cols := make([]string, 0, len(key))
	for col := range key {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	q := tx.Model(spec.model())
	for _, col := range cols {
		q = q.Where(col+" = ?", key[col])
	}
	var ids []string
	if err := q.Limit(1).Pluck("id", &ids).Error; err != nil {
		return "", fmt.Errorf("lookup by natural key: %w", err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// UpsertCustomer validates and upserts a customer by email
func (e *Engine) UpsertCustomer(ctx context.Context, rec domain.CustomerRecord) (domain.UpsertResult, error) {
	rec.Email = strings.ToLower(strings.TrimSpace(rec.Email))
	if err := e.validate.Struct(rec); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("invalid customer: %w", err)
	}
	attrs := domain.Attrs{}
	// Blank provider fields never erase what is already known
	if rec.Name != "" {
		attrs["name"] = rec.Name
	}
	if rec.Phone != "" {
		attrs["phone"] = rec.Phone
	}
	return e.Upsert(ctx, domain.KindCustomer, domain.NaturalKey{"email": rec.Email}, attrs)
}

func (e *Engine) UpsertOrder(ctx context.Context, rec domain.OrderRecord) (domain.UpsertResult, error) {
	if err := e.validate.Struct(rec); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("invalid order: %w", err)
	}
	return e.Upsert(ctx, domain.KindOrder, domain.NaturalKey{"order_number": rec.OrderNumber}, domain.Attrs{
		"customer_id":       rec.CustomerID,
		"provider_order_id": rec.ProviderOrderID,
		"total_amount":      rec.TotalAmount,
		"currency":          rec.Currency,
		"provider_status":   rec.ProviderStatus,
		"ordered_at":        rec.OrderedAt,
	})
}

func (e *Engine) UpsertReturn(ctx context.Context, rec domain.ReturnRecord) (domain.UpsertResult, error) {
	if err := e.validate.Struct(rec); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("invalid return: %w", err)
	}
	return e.Upsert(ctx, domain.KindReturn, domain.NaturalKey{"order_id": rec.OrderID, "source": rec.Source}, domain.Attrs{
		"reason":          rec.Reason,
		"refund_amount":   rec.RefundAmount,
		"provider_status": rec.ProviderStatus,
		"requested_at":    rec.RequestedAt,
	})
}

func (e *Engine) UpsertCall(ctx context.Context, rec domain.CallRecord) (domain.UpsertResult, error) {
	if err := e.validate.Struct(rec); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("invalid call: %w", err)
	}
	return e.Upsert(ctx, domain.KindCall, domain.NaturalKey{"provider_call_id": rec.ProviderCallID}, domain.Attrs{
		"customer_id":      rec.CustomerID,
		"phone_number":     rec.PhoneNumber,
		"direction":        rec.Direction,
		"disposition":      rec.Disposition,
		"missed":           rec.Missed,
		"status":           rec.Status,
		"duration_seconds": rec.DurationSeconds,
		"started_at":       rec.StartedAt.UTC(),
		"recording_url":    rec.RecordingURL,
	})
}

// EnsureTimeline writes ev unless an event of the same kind already exists
// for the entity, and reports whether it wrote one. Replaying a sync after a
// failed write therefore still leaves exactly one entry.
func (e *Engine) EnsureTimeline(ctx context.Context, ev *domain.TimelineEvent) (bool, error) {
	if ev.EntityType == "" || ev.EntityID == "" || ev.Kind == "" {
		return false, errors.New("timeline event needs entity type, entity id and kind")
	}
	written := false
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&domain.TimelineEvent{}).
			Where("entity_type = ? AND entity_id = ? AND kind = ?", ev.EntityType, ev.EntityID, ev.Kind).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("lookup timeline event: %w", err)
		}
		if count > 0 {
			return nil
		}
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = e.now().UTC()
		}
		if err := tx.Create(ev).Error; err != nil {
			return fmt.Errorf("insert timeline event: %w", err)
		}
		written = true
		return nil
	})
	return written, err
}

// CustomerPhoneIndex maps normalized phone numbers to customer ids
func (e *Engine) CustomerPhoneIndex(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		ID    string
		Phone string
	}
	err := e.db.WithContext(ctx).Model(&domain.Customer{}).
		Select("id, phone").
		Where("phone <> ''").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	index := make(map[string]string, len(rows))
	for _, r := range rows {
		if n := NormalizePhone(r.Phone); n != "" {
			index[n] = r.ID
		}
	}
	return index, nil
}

// NormalizePhone keeps the last ten digits so "+90 555 111 22 33" and
// "0555-111-2233" compare equal.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 7 {
		return ""
	}
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}
