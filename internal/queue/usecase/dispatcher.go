package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"supportdesk-backend/internal/queue/domain"
	"supportdesk-backend/internal/queue/repository"
)

// RunResult summarizes one dispatcher invocation
type RunResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// DispatcherConfig tunes a Dispatcher. Lease must exceed JobTimeout so a
// running handler never loses its row to another worker.
type DispatcherConfig struct {
	Lease       time.Duration
	JobTimeout  time.Duration
	Concurrency int
}

// Dispatcher claims jobs and routes them through the registry
type Dispatcher struct {
	repo     repository.JobRepository
	registry *Registry
	alerter  DeadJobAlerter
	cfg      DispatcherConfig
	host     string
}

func NewDispatcher(repo repository.JobRepository, registry *Registry, alerter DeadJobAlerter, cfg DispatcherConfig) *Dispatcher {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if cfg.Lease <= cfg.JobTimeout {
		cfg.Lease = cfg.JobTimeout + time.Minute
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return &Dispatcher{
		repo:     repo,
		registry: registry,
		alerter:  alerter,
		cfg:      cfg,
		host:     host,
	}
}

type runState struct {
	mu  sync.Mutex
	res RunResult
}

func (s *runState) succeeded() {
	s.mu.Lock()
	s.res.Processed++
	s.mu.Unlock()
}

func (s *runState) failed(job *domain.Job, err error) {
	s.mu.Lock()
	s.res.Failed++
	s.res.Errors = append(s.res.Errors, fmt.Sprintf("%s %s: %v", job.Type, job.ID, err))
	s.mu.Unlock()
}

func (s *runState) note(msg string) {
	s.mu.Lock()
	s.res.Errors = append(s.res.Errors, msg)
	s.mu.Unlock()
}

// RunOnce claims and executes up to maxBatch jobs, stopping early once
// nothing is eligible. Handler failures are recorded in the result; only a
// job store failure is returned as an error.
func (d *Dispatcher) RunOnce(ctx context.Context, maxBatch int) (*RunResult, error) {
	state := &runState{res: RunResult{Errors: []string{}}}
	if maxBatch < 1 {
		return &state.res, nil
	}

	if err := d.buryExpired(ctx, state); err != nil {
		log.Printf("[Dispatcher] Run aborted by store failure: %v", err)
		return &state.res, err
	}

	owner := fmt.Sprintf("%s/%s", d.host, uuid.NewString())
	types := d.registry.Types()

	var (
		g       errgroup.Group
		drained atomic.Bool
	)
	g.SetLimit(d.cfg.Concurrency)

	for i := 0; i < maxBatch && !drained.Load(); i++ {
		g.Go(func() error {
			if drained.Load() || ctx.Err() != nil {
				return nil
			}
			// Claim right before running so the lease clock starts with the handler
			job, err := d.repo.ClaimNext(ctx, owner, types, d.cfg.Lease)
			if err != nil {
				drained.Store(true)
				return fmt.Errorf("claim job: %w", err)
			}
			if job == nil {
				drained.Store(true)
				return nil
			}
			return d.process(ctx, owner, job, state)
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("[Dispatcher] Run aborted by store failure: %v", err)
		return &state.res, err
	}
	if state.res.Processed+state.res.Failed > 0 {
		log.Printf("[Dispatcher] Run finished: %d processed, %d failed", state.res.Processed, state.res.Failed)
	}
	return &state.res, nil
}

func (d *Dispatcher) process(ctx context.Context, owner string, job *domain.Job, state *runState) error {
	jobsInFlight.Inc()
	defer jobsInFlight.Dec()

	start := time.Now()
	result, handlerErr := d.execute(ctx, job)
	jobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())

	// Write-back must survive the caller giving up on the request
	storeCtx := context.WithoutCancel(ctx)

	if handlerErr == nil {
		var raw []byte
		if result != nil {
			encoded, err := json.Marshal(result)
			if err != nil {
				log.Printf("[Dispatcher] Dropping unencodable result of job %s: %v", job.ID, err)
			} else {
				raw = encoded
			}
		}
		if err := d.repo.Complete(storeCtx, job.ID, owner, raw); err != nil {
			if errors.Is(err, domain.ErrLeaseLost) {
				log.Printf("[Dispatcher] Job %s finished after its lease moved; result discarded", job.ID)
				state.note(fmt.Sprintf("%s %s: %v", job.Type, job.ID, err))
				return nil
			}
			return fmt.Errorf("complete job %s: %w", job.ID, err)
		}
		jobsProcessedTotal.WithLabelValues(string(job.Type), string(domain.JobStatusSucceeded)).Inc()
		state.succeeded()
		return nil
	}

	retryable := domain.IsRetryable(handlerErr)
	status, err := d.repo.Fail(storeCtx, job.ID, owner, handlerErr, retryable)
	if err != nil {
		if errors.Is(err, domain.ErrLeaseLost) {
			log.Printf("[Dispatcher] Job %s failed after its lease moved: %v", job.ID, handlerErr)
			state.note(fmt.Sprintf("%s %s: %v", job.Type, job.ID, err))
			return nil
		}
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}

	jobsProcessedTotal.WithLabelValues(string(job.Type), string(status)).Inc()
	state.failed(job, handlerErr)

	if status == domain.JobStatusDead {
		log.Printf("[Dispatcher] Job %s (%s) is DEAD after attempt %d/%d: %v", job.ID, job.Type, job.Attempts+1, job.MaxAttempts, handlerErr)
		dead := *job
		dead.Attempts++
		dead.Status = domain.JobStatusDead
		d.alert(storeCtx, &dead, handlerErr)
	} else {
		log.Printf("[Dispatcher] Job %s (%s) will retry, attempt %d/%d failed: %v", job.ID, job.Type, job.Attempts+1, job.MaxAttempts, handlerErr)
	}
	return nil
}

// buryExpired settles jobs whose worker died during the final attempt. They
// are reported like any other dead job.
func (d *Dispatcher) buryExpired(ctx context.Context, state *runState) error {
	buried, err := d.repo.BuryExpired(ctx)
	for _, job := range buried {
		cause := errors.New("lease expired during final attempt")
		if job.LastError != nil {
			cause = errors.New(*job.LastError)
		}
		jobsProcessedTotal.WithLabelValues(string(job.Type), string(domain.JobStatusDead)).Inc()
		state.failed(job, cause)
		log.Printf("[Dispatcher] Job %s (%s) is DEAD after attempt %d/%d: %v", job.ID, job.Type, job.Attempts, job.MaxAttempts, cause)
		d.alert(context.WithoutCancel(ctx), job, cause)
	}
	if err != nil {
		return fmt.Errorf("bury expired leases: %w", err)
	}
	return nil
}

// execute runs the handler under the per-job timeout. A panic is converted
// into a transient failure.
func (d *Dispatcher) execute(ctx context.Context, job *domain.Job) (result any, err error) {
	reg, ok := d.registry.get(job.Type)
	if !ok {
		return nil, domain.Permanent(fmt.Errorf("no handler registered for job type %q", job.Type))
	}

	timeout := d.cfg.JobTimeout
	if reg.timeout > 0 && reg.timeout < d.cfg.Lease {
		timeout = reg.timeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Dispatcher] Handler for job %s panicked: %v\n%s", job.ID, r, debug.Stack())
			result = nil
			err = domain.Transient(fmt.Errorf("handler panic: %v", r))
		}
	}()

	return reg.handler(jobCtx, job)
}

func (d *Dispatcher) alert(ctx context.Context, job *domain.Job, cause error) {
	if d.alerter == nil {
		return
	}
	alertCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := d.alerter.JobDead(alertCtx, job, cause); err != nil {
		log.Printf("[Dispatcher] Failed to send dead-job alert for %s: %v", job.ID, err)
	}
}
