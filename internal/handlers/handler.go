package handlers

import (
	"context"
	"slices"
	"sync"

	"github.com/AlxanderArt/HumanOS/internal/domain"
)

// Handler processes events of the types it declares. Handlers must be
// idempotent: the queue delivers at least once.
type Handler interface {
	Handle(ctx context.Context, ev *domain.Event) error
	EventTypes() []string
}

// Registry maps event types to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds h for every type it declares, replacing earlier
// registrations. Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range h.EventTypes() {
		r.handlers[t] = h
	}
}

// Get returns the handler for the given event type.
// Returns InvalidEventTypeError if not registered.
func (r *Registry) Get(eventType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventType]
	if !ok {
		return nil, &domain.InvalidEventTypeError{EventType: eventType}
	}
	return h, nil
}

// EventTypes returns the registered event types in sorted order. These are
// the queues a worker polls.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
