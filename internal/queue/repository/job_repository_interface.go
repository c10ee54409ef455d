package repository

import (
	"context"
	"time"

	"supportdesk-backend/internal/queue/domain"
)

// JobRepository is the durable job store and the claim protocol on top of it
type JobRepository interface {
	// Enqueue validates a typed payload and inserts a PENDING job
	Enqueue(ctx context.Context, payload domain.Payload, opts domain.EnqueueOptions) (string, error)

	// EnqueueRaw validates raw JSON against the schema of jobType and inserts a PENDING job
	EnqueueRaw(ctx context.Context, jobType domain.JobType, raw []byte, opts domain.EnqueueOptions) (string, error)

	// ClaimNext atomically moves one eligible job to PROCESSING for owner.
	// Returns nil when nothing is eligible.
	ClaimNext(ctx context.Context, owner string, types []domain.JobType, lease time.Duration) (*domain.Job, error)

	// BuryExpired moves expired leases on their final attempt to DEAD and
	// returns the jobs it moved
	BuryExpired(ctx context.Context) ([]*domain.Job, error)

	// Complete moves a PROCESSING job held by owner to SUCCEEDED
	Complete(ctx context.Context, jobID, owner string, result []byte) error

	// Fail records a handler failure and returns the resulting status
	// (FAILED_RETRYABLE or DEAD)
	Fail(ctx context.Context, jobID, owner string, cause error, retryable bool) (domain.JobStatus, error)

	// Get finds a job by ID, returning nil when it does not exist
	Get(ctx context.Context, jobID string) (*domain.Job, error)

	// CountActive counts jobs of a type that are not yet terminal
	CountActive(ctx context.Context, jobType domain.JobType) (int64, error)

	// Stats summarizes jobs created since the given instant
	Stats(ctx context.Context, since time.Time) (*domain.Stats, error)
}
