package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AlxanderArt/HumanOS/internal/domain"
)

// Memory is an in-process Queue. It honours the same claim, visibility and
// dead-letter rules as the Postgres event log and is used by tests and
// single-process runs.
type Memory struct {
	mu         sync.Mutex
	events     []*domain.Event
	byID       map[string]*domain.Event
	subs       map[string][]chan struct{}
	visibility time.Duration
	now        func() time.Time
}

// MemoryOption configures a Memory queue.
type MemoryOption func(*Memory)

func WithVisibilityTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) { m.visibility = d }
}

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns an empty in-memory queue.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		byID:       make(map[string]*domain.Event),
		subs:       make(map[string][]chan struct{}),
		visibility: DefaultVisibilityTimeout,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Send(_ context.Context, queueName string, env domain.Envelope) (string, error) {
	if !domain.KnownEventType(queueName) {
		return "", &domain.InvalidEventTypeError{EventType: queueName}
	}

	m.mu.Lock()
	ev := &domain.Event{
		ID:         uuid.New().String(),
		EventType:  queueName,
		TenantID:   env.TenantID,
		EntityType: env.EntityType,
		EntityID:   env.EntityID,
		ActorID:    env.ActorID,
		Payload:    env.Payload,
		CreatedAt:  m.now(),
	}
	m.events = append(m.events, ev)
	m.byID[ev.ID] = ev
	subs := append([]chan struct{}(nil), m.subs[queueName]...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return ev.ID, nil
}

func (m *Memory) Poll(_ context.Context, queueNames ...string) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, ev := range m.events {
		if ev.Processed || ev.DeadLetteredAt != nil || !slices.Contains(queueNames, ev.EventType) {
			continue
		}
		if ev.ClaimedUntil != nil && ev.ClaimedUntil.After(now) {
			continue
		}
		until := now.Add(m.visibility)
		ev.ClaimedUntil = &until
		cp := *ev
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) Ack(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.byID[id]
	if !ok || ev.Processed {
		return nil
	}
	now := m.now()
	ev.Processed = true
	ev.ProcessedAt = &now
	ev.ClaimedUntil = nil
	return nil
}

func (m *Memory) Fail(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.byID[id]
	if !ok || ev.Processed {
		return nil
	}
	ev.Attempts++
	ev.LastError = reason
	ev.ClaimedUntil = nil
	return nil
}

func (m *Memory) DeadLetter(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.byID[id]
	if !ok || ev.Processed {
		return nil
	}
	now := m.now()
	ev.LastError = reason
	ev.DeadLetteredAt = &now
	ev.ClaimedUntil = nil
	return nil
}

// Subscribe drains queueName once, then again on every Send to it, until ctx
// is cancelled.
func (m *Memory) Subscribe(ctx context.Context, queueName string, handler Handler) error {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.subs[queueName] = append(m.subs[queueName], ch)
	m.mu.Unlock()
	defer m.unsubscribe(queueName, ch)

	for {
		if err := Drain(ctx, m, queueName, handler); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
		}
	}
}

func (m *Memory) unsubscribe(queueName string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[queueName]
	for i, c := range subs {
		if c == ch {
			m.subs[queueName] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Get returns a snapshot of the event with the given id.
func (m *Memory) Get(id string) (domain.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.byID[id]
	if !ok {
		return domain.Event{}, false
	}
	return *ev, true
}

// Events returns snapshots of every event of the given type in insertion order.
func (m *Memory) Events(queueName string) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, ev := range m.events {
		if ev.EventType == queueName {
			out = append(out, *ev)
		}
	}
	return out
}

var _ Queue = (*Memory)(nil)
