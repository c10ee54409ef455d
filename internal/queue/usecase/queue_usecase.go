package usecase

import (
	"context"
	"fmt"
	"log"
	"time"

	"supportdesk-backend/internal/queue/domain"
	"supportdesk-backend/internal/queue/repository"
)

// queueUsecase implements QueueUsecase
type queueUsecase struct {
	repo      repository.JobRepository
	runner    Runner
	recurring []domain.Payload
	cfg       QueueConfig
	now       func() time.Time
}

// NewQueueUsecase wires the store and dispatcher. recurring lists the
// payloads kept alive by every trigger.
func NewQueueUsecase(repo repository.JobRepository, runner Runner, recurring []domain.Payload, cfg QueueConfig) QueueUsecase {
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = 10
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = 24 * time.Hour
	}
	return &queueUsecase{
		repo:      repo,
		runner:    runner,
		recurring: recurring,
		cfg:       cfg,
		now:       time.Now,
	}
}

// DefaultRecurring is the standing set of integration jobs
func DefaultRecurring() []domain.Payload {
	return []domain.Payload{
		domain.MailFetchPayload{},
		domain.ReturnSyncPayload{},
		domain.CallSyncPayload{},
	}
}

func (u *queueUsecase) Process(ctx context.Context) (*RunResult, error) {
	if err := u.enqueueRecurring(ctx); err != nil {
		return nil, err
	}
	return u.runner.RunOnce(ctx, u.cfg.MaxBatch)
}

// enqueueRecurring adds a recurring job only when none of its type is
// pending, running or waiting to retry.
func (u *queueUsecase) enqueueRecurring(ctx context.Context) error {
	for _, payload := range u.recurring {
		jobType := payload.JobType()
		active, err := u.repo.CountActive(ctx, jobType)
		if err != nil {
			return fmt.Errorf("count active %s jobs: %w", jobType, err)
		}
		if active > 0 {
			continue
		}
		id, err := u.repo.Enqueue(ctx, payload, domain.EnqueueOptions{})
		if err != nil {
			return fmt.Errorf("enqueue recurring %s: %w", jobType, err)
		}
		jobsEnqueuedTotal.WithLabelValues(string(jobType), "recurring").Inc()
		log.Printf("[Queue] Enqueued recurring %s job %s", jobType, id)
	}
	return nil
}

func (u *queueUsecase) Stats(ctx context.Context) (*domain.Stats, error) {
	return u.repo.Stats(ctx, u.now().Add(-u.cfg.StatsWindow))
}

func (u *queueUsecase) Enqueue(ctx context.Context, jobType domain.JobType, payload []byte, opts domain.EnqueueOptions) (string, error) {
	id, err := u.repo.EnqueueRaw(ctx, jobType, payload, opts)
	if err != nil {
		return "", err
	}
	jobsEnqueuedTotal.WithLabelValues(string(jobType), "manual").Inc()
	log.Printf("[Queue] Enqueued manual %s job %s", jobType, id)
	return id, nil
}
