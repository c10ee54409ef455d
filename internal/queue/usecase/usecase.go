package usecase

import (
	"context"
	"time"

	"supportdesk-backend/internal/queue/domain"
)

// QueueUsecase is what the trigger gateway and the worker loop drive
type QueueUsecase interface {
	// Process enqueues due recurring jobs, then runs one dispatcher batch
	Process(ctx context.Context) (*RunResult, error)

	// Stats summarizes jobs created within the configured window
	Stats(ctx context.Context) (*domain.Stats, error)

	// Enqueue validates and stores a manually submitted job
	Enqueue(ctx context.Context, jobType domain.JobType, payload []byte, opts domain.EnqueueOptions) (string, error)
}

// Runner executes one batch of claimed jobs
type Runner interface {
	RunOnce(ctx context.Context, maxBatch int) (*RunResult, error)
}

// QueueConfig holds the gateway-facing knobs
type QueueConfig struct {
	MaxBatch    int
	StatsWindow time.Duration
}
