package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"supportdesk-backend/internal/queue/usecase"
)

// Processor runs one queue batch
type Processor interface {
	Process(ctx context.Context) (*usecase.RunResult, error)
}

// ProcessScheduler drives the queue from a long-running process. It runs a
// batch on every tick and keeps going without waiting while batches come
// back full.
type ProcessScheduler struct {
	queue    Processor
	interval time.Duration
	maxBatch int
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewProcessScheduler creates a new scheduler
func NewProcessScheduler(queue Processor, interval time.Duration, maxBatch int) *ProcessScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ProcessScheduler{
		queue:    queue,
		interval: interval,
		maxBatch: maxBatch,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *ProcessScheduler) Start(ctx context.Context) {
	log.Printf("[QueueScheduler] Starting queue scheduler (interval: %s)", s.interval)

	go func() {
		defer close(s.done)

		// Run immediately on start
		s.drain(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.drain(ctx)
			case <-ctx.Done():
				log.Println("[QueueScheduler] Context cancelled, scheduler stopped")
				return
			case <-s.stopChan:
				log.Println("[QueueScheduler] Scheduler stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler and waits for the running batch
func (s *ProcessScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}

func (s *ProcessScheduler) drain(ctx context.Context) {
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		res, err := s.queue.Process(ctx)
		if err != nil {
			log.Printf("[QueueScheduler] Batch failed: %v", err)
			return
		}
		handled := res.Processed + res.Failed
		if handled > 0 {
			log.Printf("[QueueScheduler] Batch done: %d processed, %d failed", res.Processed, res.Failed)
		}
		if s.maxBatch <= 0 || handled < s.maxBatch {
			return
		}
	}
}
