package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"supportdesk-backend/internal/queue/domain"
)

// HandlerFunc runs one claimed job. The returned result is stored on the job
// row as a JSON summary.
type HandlerFunc func(ctx context.Context, job *domain.Job) (any, error)

// Definition binds a typed payload handler to a job type.
type Definition[T domain.Payload] struct {
	Type    domain.JobType
	Handler func(ctx context.Context, payload T) (any, error)
	// Timeout overrides the dispatcher's per-job timeout when set
	Timeout time.Duration
}

type registration struct {
	handler HandlerFunc
	timeout time.Duration
}

// Registry maps job types to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.JobType]registration
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.JobType]registration)}
}

// RegisterDefinition wraps a typed handler so the payload is decoded and
// validated before it runs. A payload that does not decode can never succeed,
// so it fails permanently.
func RegisterDefinition[T domain.Payload](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, job *domain.Job) (any, error) {
		var payload T
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return nil, domain.Permanent(fmt.Errorf("decode %s payload: %w", def.Type, err))
			}
		}
		if err := payload.Validate(); err != nil {
			return nil, domain.Permanent(err)
		}
		return def.Handler(ctx, payload)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Type] = registration{handler: handler, timeout: def.Timeout}
}

func (r *Registry) get(jobType domain.JobType) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[jobType]
	return reg, ok
}

// Types returns the registered job types in a stable order
func (r *Registry) Types() []domain.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]domain.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
