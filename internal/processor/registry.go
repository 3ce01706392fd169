package processor

import (
	"context"
	"sort"

	"github.com/bravapress/bravapress/internal/domain"
)

// Handler runs one job. The returned value is stored as the job result.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job, payload domain.Payload) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *domain.Job, payload domain.Payload) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job, payload domain.Payload) (any, error) {
	return f(ctx, job, payload)
}

// FailureObserver is implemented by handlers that track failures outside
// the job row. terminal is true when no retry will follow.
type FailureObserver interface {
	JobFailed(ctx context.Context, job *domain.Job, cause error, terminal bool)
}

// Registry maps job types to handlers.
type Registry struct {
	handlers map[domain.JobType]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.JobType]Handler)}
}

// Register sets the handler for t, replacing any earlier one.
func (r *Registry) Register(t domain.JobType, h Handler) {
	r.handlers[t] = h
}

// Lookup returns the handler for t, or nil.
func (r *Registry) Lookup(t domain.JobType) Handler {
	return r.handlers[t]
}

// Types returns the registered types in sorted order.
func (r *Registry) Types() []domain.JobType {
	types := make([]domain.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
