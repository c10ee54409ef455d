package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"supportdesk-backend/internal/queue/usecase"
)

type scriptedQueue struct {
	mu      sync.Mutex
	results []*usecase.RunResult
	err     error
	calls   int
}

func (q *scriptedQueue) Process(context.Context) (*usecase.RunResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.err != nil {
		return nil, q.err
	}
	if len(q.results) == 0 {
		return &usecase.RunResult{}, nil
	}
	res := q.results[0]
	q.results = q.results[1:]
	return res, nil
}

func (q *scriptedQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func TestSchedulerDrainsFullBatches(t *testing.T) {
	q := &scriptedQueue{results: []*usecase.RunResult{
		{Processed: 2},
		{Processed: 1, Failed: 1},
		{Processed: 1},
	}}
	s := NewProcessScheduler(q, time.Hour, 2)
	s.Start(context.Background())
	defer s.Stop()

	// Two full batches then a short one, all before the first tick
	assert.Eventually(t, func() bool { return q.count() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, q.count())
}

func TestSchedulerTicks(t *testing.T) {
	q := &scriptedQueue{}
	s := NewProcessScheduler(q, 10*time.Millisecond, 10)
	s.Start(context.Background())

	assert.Eventually(t, func() bool { return q.count() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
	stopped := q.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, q.count())
}

func TestSchedulerSurvivesErrorsAndStopsWithContext(t *testing.T) {
	q := &scriptedQueue{err: errors.New("database is down")}
	ctx, cancel := context.WithCancel(context.Background())
	s := NewProcessScheduler(q, 10*time.Millisecond, 1)
	s.Start(ctx)

	assert.Eventually(t, func() bool { return q.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	s.Stop()
}
