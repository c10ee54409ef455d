package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportdesk-backend/internal/queue/domain"
)

type countingRunner struct {
	calls    int
	maxBatch int
}

func (r *countingRunner) RunOnce(_ context.Context, maxBatch int) (*RunResult, error) {
	r.calls++
	r.maxBatch = maxBatch
	return &RunResult{Errors: []string{}}, nil
}

func TestProcessEnqueuesRecurringOnlyWhenIdle(t *testing.T) {
	repo, _ := newStore(t)
	ctx := context.Background()
	runner := &countingRunner{}

	uc := NewQueueUsecase(repo, runner, DefaultRecurring(), QueueConfig{MaxBatch: 7})

	_, err := uc.Process(ctx)
	require.NoError(t, err)
	_, err = uc.Process(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, runner.calls)
	assert.Equal(t, 7, runner.maxBatch)

	for _, jobType := range []domain.JobType{domain.JobTypeMailFetch, domain.JobTypeReturnSync, domain.JobTypeCallSync} {
		active, err := repo.CountActive(ctx, jobType)
		require.NoError(t, err)
		assert.Equal(t, int64(1), active, jobType)
	}
	active, err := repo.CountActive(ctx, domain.JobTypeAIReply)
	require.NoError(t, err)
	assert.Zero(t, active)

	stats, err := uc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(3), stats.ByStatus[domain.JobStatusPending])
}

func TestEnqueueSurfacesValidationErrors(t *testing.T) {
	repo, _ := newStore(t)
	uc := NewQueueUsecase(repo, &countingRunner{}, nil, QueueConfig{})

	_, err := uc.Enqueue(context.Background(), domain.JobTypeAIReply, []byte(`{}`), domain.EnqueueOptions{})
	var verr *domain.ValidationError
	assert.True(t, errors.As(err, &verr))

	id, err := uc.Enqueue(context.Background(), domain.JobTypeAIReply, []byte(`{"mail_id":"m-1"}`), domain.EnqueueOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
