package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"supportdesk-backend/internal/queue/backoff"
	"supportdesk-backend/internal/queue/domain"
	"supportdesk-backend/internal/queue/schema"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// maxClaimRaces bounds how often ClaimNext re-selects after losing a race
	maxClaimRaces   = 5
	maxErrorLength  = 2000
	expiredLeaseMsg = "lease expired during final attempt"
)

// gormJobRepository implements JobRepository using GORM
type gormJobRepository struct {
	db        *gorm.DB
	validator *schema.Validator
	backoff   backoff.Strategy
	now       func() time.Time
}

// Option customizes the job repository
type Option func(*gormJobRepository)

// WithBackoff sets the retry delay strategy
func WithBackoff(s backoff.Strategy) Option {
	return func(r *gormJobRepository) { r.backoff = s }
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(r *gormJobRepository) { r.now = now }
}

// NewJobRepository creates a new GORM-based JobRepository
func NewJobRepository(db *gorm.DB, validator *schema.Validator, opts ...Option) JobRepository {
	r := &gormJobRepository{
		db:        db,
		validator: validator,
		backoff:   backoff.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *gormJobRepository) Enqueue(ctx context.Context, payload domain.Payload, opts domain.EnqueueOptions) (string, error) {
	if payload == nil {
		return "", &domain.ValidationError{Field: "payload", Reason: "is required"}
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", &domain.ValidationError{Field: "payload", Reason: err.Error()}
	}
	return r.insert(ctx, payload.JobType(), raw, opts)
}

func (r *gormJobRepository) EnqueueRaw(ctx context.Context, jobType domain.JobType, raw []byte, opts domain.EnqueueOptions) (string, error) {
	if !jobType.Valid() {
		return "", &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown job type %q", jobType)}
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	payload, err := domain.DecodePayload(jobType, raw)
	if err != nil {
		return "", err
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}
	// Schema check runs on the caller's document so unknown fields are rejected
	if err := r.validator.Validate(jobType, raw); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", &domain.ValidationError{Field: "payload", Reason: err.Error()}
	}
	return r.insert(ctx, jobType, canonical, opts)
}

func (r *gormJobRepository) insert(ctx context.Context, jobType domain.JobType, raw []byte, opts domain.EnqueueOptions) (string, error) {
	if err := r.validator.Validate(jobType, raw); err != nil {
		return "", err
	}
	if opts.MaxAttempts < 0 {
		return "", &domain.ValidationError{Field: "max_attempts", Reason: "must be positive"}
	}

	now := r.now().UTC()
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = jobType.DefaultMaxAttempts()
	}
	notBefore := now
	if opts.NotBefore != nil {
		notBefore = opts.NotBefore.UTC()
	}

	job := &domain.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     datatypes.JSON(raw),
		Status:      domain.JobStatusPending,
		MaxAttempts: maxAttempts,
		NotBefore:   notBefore,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return job.ID, nil
}

// eligible narrows q to rows a worker may claim at now. The same predicate is
// used to select the candidate and, again, inside the conditional update.
func eligible(q *gorm.DB, now time.Time, types []domain.JobType) *gorm.DB {
	q = q.Where(
		"((status IN ? AND not_before <= ?) OR (status = ? AND lock_expires_at <= ? AND attempts + 1 < max_attempts))",
		[]string{string(domain.JobStatusPending), string(domain.JobStatusFailedRetryable)}, now,
		string(domain.JobStatusProcessing), now,
	)
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		q = q.Where("type IN ?", names)
	}
	return q
}

func (r *gormJobRepository) ClaimNext(ctx context.Context, owner string, types []domain.JobType, lease time.Duration) (*domain.Job, error) {
	if owner == "" {
		return nil, errors.New("claim owner is required")
	}
	for race := 0; race < maxClaimRaces; race++ {
		now := r.now().UTC()

		var candidate domain.Job
		err := eligible(r.db.WithContext(ctx).Model(&domain.Job{}), now, types).
			Order("not_before ASC, created_at ASC").
			Limit(1).
			Find(&candidate).Error
		if err != nil {
			return nil, fmt.Errorf("select claim candidate: %w", err)
		}
		if candidate.ID == "" {
			return nil, nil
		}

		expires := now.Add(lease)
		res := eligible(r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", candidate.ID), now, types).
			Updates(map[string]interface{}{
				// A reclaimed lease counts the crashed run as an attempt
				"attempts":        gorm.Expr("CASE WHEN status = ? THEN attempts + 1 ELSE attempts END", string(domain.JobStatusProcessing)),
				"status":          domain.JobStatusProcessing,
				"lock_owner":      owner,
				"lock_expires_at": expires,
				"updated_at":      now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claim job %s: %w", candidate.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Another worker won this row; look for the next one
			continue
		}

		var claimed domain.Job
		if err := r.db.WithContext(ctx).Where("id = ?", candidate.ID).First(&claimed).Error; err != nil {
			return nil, fmt.Errorf("reload claimed job %s: %w", candidate.ID, err)
		}
		if candidate.Status == domain.JobStatusProcessing {
			log.Printf("[JobStore] Reclaimed expired lease on job %s (%s), attempt %d/%d", claimed.ID, claimed.Type, claimed.Attempts+1, claimed.MaxAttempts)
		}
		return &claimed, nil
	}
	return nil, nil
}

// BuryExpired moves expired leases with no attempts left to DEAD so they are
// not reclaimed forever. Each row is moved by its own conditional update, so
// a job is reported by exactly one caller.
func (r *gormJobRepository) BuryExpired(ctx context.Context) ([]*domain.Job, error) {
	now := r.now().UTC()
	expiredFinal := func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ? AND lock_expires_at <= ? AND attempts + 1 >= max_attempts", string(domain.JobStatusProcessing), now)
	}

	var candidates []domain.Job
	if err := expiredFinal(r.db.WithContext(ctx).Model(&domain.Job{})).Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("select expired leases: %w", err)
	}

	var buried []*domain.Job
	for _, c := range candidates {
		res := expiredFinal(r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", c.ID)).
			Updates(map[string]interface{}{
				"attempts":        gorm.Expr("attempts + 1"),
				"status":          domain.JobStatusDead,
				"lock_owner":      nil,
				"lock_expires_at": nil,
				"last_error":      expiredLeaseMsg,
				"updated_at":      now,
			})
		if res.Error != nil {
			return buried, fmt.Errorf("bury job %s: %w", c.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		job := c
		job.Attempts++
		job.Status = domain.JobStatusDead
		job.LockOwner = nil
		job.LockExpiresAt = nil
		msg := expiredLeaseMsg
		job.LastError = &msg
		job.UpdatedAt = now
		buried = append(buried, &job)
	}
	if len(buried) > 0 {
		log.Printf("[JobStore] Moved %d job(s) with expired final lease to DEAD", len(buried))
	}
	return buried, nil
}

func (r *gormJobRepository) Complete(ctx context.Context, jobID, owner string, result []byte) error {
	now := r.now().UTC()
	updates := map[string]interface{}{
		"status":          domain.JobStatusSucceeded,
		"lock_owner":      nil,
		"lock_expires_at": nil,
		"updated_at":      now,
	}
	if len(result) > 0 {
		updates["result"] = datatypes.JSON(result)
	}
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ? AND lock_owner = ?", jobID, string(domain.JobStatusProcessing), owner).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("complete job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

func (r *gormJobRepository) Fail(ctx context.Context, jobID, owner string, cause error, retryable bool) (domain.JobStatus, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != domain.JobStatusProcessing || job.LockOwner == nil || *job.LockOwner != owner {
		return "", domain.ErrLeaseLost
	}

	now := r.now().UTC()
	attempts := job.Attempts + 1
	msg := domain.ErrorText(cause, maxErrorLength)

	updates := map[string]interface{}{
		"attempts":        attempts,
		"lock_owner":      nil,
		"lock_expires_at": nil,
		"last_error":      msg,
		"updated_at":      now,
	}
	status := domain.JobStatusDead
	if retryable && attempts < job.MaxAttempts {
		status = domain.JobStatusFailedRetryable
		updates["not_before"] = now.Add(r.backoff.Delay(attempts))
	}
	updates["status"] = status

	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ? AND lock_owner = ? AND attempts = ?", jobID, string(domain.JobStatusProcessing), owner, job.Attempts).
		Updates(updates)
	if res.Error != nil {
		return "", fmt.Errorf("fail job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return "", domain.ErrLeaseLost
	}
	return status, nil
}

func (r *gormJobRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *gormJobRepository) CountActive(ctx context.Context, jobType domain.JobType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("type = ? AND status IN ?", string(jobType), []string{
			string(domain.JobStatusPending),
			string(domain.JobStatusProcessing),
			string(domain.JobStatusFailedRetryable),
		}).
		Count(&count).Error
	return count, err
}

func (r *gormJobRepository) Stats(ctx context.Context, since time.Time) (*domain.Stats, error) {
	type bucket struct {
		Name  string
		Count int64
	}

	stats := &domain.Stats{
		ByStatus: make(map[domain.JobStatus]int64),
		ByType:   make(map[domain.JobType]int64),
	}

	var byStatus []bucket
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Select("status AS name, COUNT(*) AS count").
		Where("created_at >= ?", since.UTC()).
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	for _, b := range byStatus {
		stats.ByStatus[domain.JobStatus(b.Name)] = b.Count
		stats.Total += b.Count
	}

	var byType []bucket
	err = r.db.WithContext(ctx).Model(&domain.Job{}).
		Select("type AS name, COUNT(*) AS count").
		Where("created_at >= ?", since.UTC()).
		Group("type").
		Scan(&byType).Error
	if err != nil {
		return nil, fmt.Errorf("count jobs by type: %w", err)
	}
	for _, b := range byType {
		stats.ByType[domain.JobType(b.Name)] = b.Count
	}
	return stats, nil
}
