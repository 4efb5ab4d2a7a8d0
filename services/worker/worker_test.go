package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/handlers"
	"github.com/AlxanderArt/HumanOS/internal/queue"
	redisstore "github.com/AlxanderArt/HumanOS/internal/redis"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type fakeDoneStore struct {
	mu      sync.Mutex
	done    map[string]bool
	lookErr error
}

func newFakeDoneStore() *fakeDoneStore { return &fakeDoneStore{done: make(map[string]bool)} }

func (s *fakeDoneStore) IsProcessed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookErr != nil {
		return false, s.lookErr
	}
	return s.done[id], nil
}

func (s *fakeDoneStore) MarkProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[id] = true
	return nil
}

func (s *fakeDoneStore) isDone(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[id]
}

var _ redisstore.ProcessedStore = (*fakeDoneStore)(nil)

type fakeHandler struct {
	eventType string
	callsErr  []error // errors to return per call; nil entry = success
	panicOn   int     // 1-indexed call that panics; 0 = never
	calls     atomic.Int32
	sawCancel atomic.Bool
}

func (h *fakeHandler) EventTypes() []string { return []string{h.eventType} }
func (h *fakeHandler) Handle(ctx context.Context, _ *domain.Event) error {
	n := int(h.calls.Add(1))
	if h.panicOn == n {
		panic("boom")
	}
	if ctx.Err() != nil {
		h.sawCancel.Store(true)
	}
	if n-1 < len(h.callsErr) {
		return h.callsErr[n-1]
	}
	return nil
}

// failingQueue wraps a Memory queue and fails Poll a fixed number of times.
type failingQueue struct {
	*queue.Memory
	pollFailures atomic.Int32
	polls        atomic.Int32
}

func (q *failingQueue) Poll(ctx context.Context, names ...string) (*domain.Event, error) {
	q.polls.Add(1)
	if q.pollFailures.Load() > 0 {
		q.pollFailures.Add(-1)
		return nil, errors.New("connection reset")
	}
	return q.Memory.Poll(ctx, names...)
}

// ── helpers ───────────────────────────────────────────────────────────────────

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestWorker(q queue.Queue, done redisstore.ProcessedStore, reg *handlers.Registry, opts ...Option) *Worker {
	base := []Option{
		WithLogger(discardLogger),
		WithRetries(3),
		WithPollInterval(5 * time.Millisecond),
		WithTimeout(time.Second),
		WithRole("test"),
	}
	return NewWorker("test-worker", q, done, reg, append(base, opts...)...)
}

func sendSubmitted(t *testing.T, q queue.Queue) string {
	t.Helper()
	env, err := domain.NewEnvelope("tenant-1", domain.EntityAnnotation, "ann-1", "user-1",
		map[string]string{"task_id": "task-1", "annotation_id": "ann-1"})
	require.NoError(t, err)
	id, err := q.Send(context.Background(), domain.EventAnnotationSubmitted, env)
	require.NoError(t, err)
	return id
}

func claim(t *testing.T, q queue.Queue) *domain.Event {
	t.Helper()
	ev, err := q.Poll(context.Background(), domain.EventAnnotationSubmitted)
	require.NoError(t, err)
	require.NotNil(t, ev)
	return ev
}

func registryWith(h handlers.Handler) *handlers.Registry {
	reg := handlers.NewRegistry()
	reg.Register(h)
	return reg
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestWorker_SuccessAcksAndMarksProcessed(t *testing.T) {
	q := queue.NewMemory()
	done := newFakeDoneStore()
	h := &fakeHandler{eventType: domain.EventAnnotationSubmitted}
	w := newTestWorker(q, done, registryWith(h))

	id := sendSubmitted(t, q)
	require.NoError(t, w.process(context.Background(), claim(t, q)))

	ev, ok := q.Get(id)
	require.True(t, ok)
	assert.True(t, ev.Processed)
	assert.NotNil(t, ev.ProcessedAt)
	assert.True(t, done.isDone(id))
	assert.EqualValues(t, 1, h.calls.Load())
}

func TestWorker_HandlerErrorFailsEvent(t *testing.T) {
	q := queue.NewMemory()
	h := &fakeHandler{eventType: domain.EventAnnotationSubmitted, callsErr: []error{errors.New("db timeout")}}
	w := newTestWorker(q, newFakeDoneStore(), registryWith(h))

	id := sendSubmitted(t, q)
	require.NoError(t, w.process(context.Background(), claim(t, q)))

	ev, _ := q.Get(id)
	assert.False(t, ev.Processed)
	assert.Equal(t, 1, ev.Attempts)
	assert.Equal(t, "db timeout", ev.LastError)
	assert.Nil(t, ev.ClaimedUntil, "failed event must be released for redelivery")
}

func TestWorker_DeadLettersAfterMaxRetries(t *testing.T) {
	q := queue.NewMemory()
	h := &fakeHandler{eventType: domain.EventAnnotationSubmitted, callsErr: []error{
		errors.New("e1"), errors.New("e2"), errors.New("e3"), errors.New("e4"),
	}}
	w := newTestWorker(q, newFakeDoneStore(), registryWith(h))
	id := sendSubmitted(t, q)

	for i := 0; i < 4; i++ {
		require.NoError(t, w.process(context.Background(), claim(t, q)))
	}

	ev, _ := q.Get(id)
	assert.True(t, ev.IsDeadLettered())
	assert.False(t, ev.Processed)
	assert.Equal(t, 3, ev.Attempts)
	assert.Equal(t, queue.ReasonMaxRetries, ev.LastError)
	assert.EqualValues(t, 3, h.calls.Load(), "handler is not invoked on the dead-letter pass")

	next, err := q.Poll(context.Background(), domain.EventAnnotationSubmitted)
	require.NoError(t, err)
	assert.Nil(t, next, "dead-lettered events are never polled again")
}

func TestWorker_SkipsAlreadyProcessed(t *testing.T) {
	q := queue.NewMemory()
	done := newFakeDoneStore()
	h := &fakeHandler{eventType: domain.EventAnnotationSubmitted}
	w := newTestWorker(q, done, registryWith(h))

	id := sendSubmitted(t, q)
	done.done[id] = true

	require.NoError(t, w.process(context.Background(), claim(t, q)))

	ev, _ := q.Get(id)
	assert.True(t, ev.Processed)
	assert.Zero(t, h.calls.Load())
}

func TestWorker_MarkerLookupErrorStillRunsHandler(t *testing.T) {
	q := queue.NewMemory()
	done := newFakeDoneStore()
	done.lookErr = errors.New("redis down")
	h := &fakeHandler{eventType: domain.EventAnnotationSubmitted}
	w := newTestWorker(q, done, registryWith(h))

	id := sendSubmitted(t, q)
	require.NoError(t, w.process(context.Background(), claim(t, q)))

	ev, _ := q.Get(id)
	assert.True(t, ev.Processed)
	assert.EqualValues(t, 1, h.calls.Load())
}

func TestWorker_NilProcessedStore(t *testing.T) {
	q := queue.NewMemory()
	h := &fakeHandler{eventType: domain.EventAnnotationSubmitted}
	w := newTestWorker(q, nil, registryWith(h))

	id := sendSubmitted(t, q)
	require.NoError(t, w.process(context.Background(), claim(t, q)))

	ev, _ := q.Get(id)
	assert.True(t, ev.Processed)
}

func TestWorker_PanicBecomesFailure(t *testing.T) {
	q := queue.NewMemory()
	h := &fakeHandler{eventType: domain.EventAnnotationSubmitted, panicOn: 1}
	w := newTestWorker(q, newFakeDoneStore(), registryWith(h))

	id := sendSubmitted(t, q)
	require.NotPanics(t, func() {
		require.NoError(t, w.process(context.Background(), claim(t, q)))
	})

	ev, _ := q.Get(id)
	assert.False(t, ev.Processed)
	assert.Equal(t, 1, ev.Attempts)
	assert.Contains(t, ev.LastError, "panic")
}

func TestWorker_NoHandlerDeadLetters(t *testing.T) {
	q := queue.NewMemory()
	w := newTestWorker(q, newFakeDoneStore(), handlers.NewRegistry())

	id := sendSubmitted(t, q)
	require.NoError(t, w.process(context.Background(), claim(t, q)))

	ev, _ := q.Get(id)
	assert.True(t, ev.IsDeadLettered())
	assert.Contains(t, ev.LastError, domain.EventAnnotationSubmitted)
}

func TestWorker_HandlerRunsDetachedFromCancellation(t *testing.T) {
	q := queue.NewMemory()
	h := &fakeHandler{eventType: domain.EventAnnotationSubmitted}
	w := newTestWorker(q, newFakeDoneStore(), registryWith(h))

	id := sendSubmitted(t, q)
	ev := claim(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.process(ctx, ev))

	assert.False(t, h.sawCancel.Load())
	got, _ := q.Get(id)
	assert.True(t, got.Processed, "cancelled worker still settles the claimed event")
}

func TestWorker_Run_ProcessesUntilCancelled(t *testing.T) {
	q := queue.NewMemory()
	done := newFakeDoneStore()
	h := &fakeHandler{eventType: domain.EventAnnotationSubmitted, callsErr: []error{errors.New("transient")}}
	w := newTestWorker(q, done, registryWith(h))

	id := sendSubmitted(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		ev, _ := q.Get(id)
		return ev.Processed
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	w.Wait()

	ev, _ := q.Get(id)
	assert.Equal(t, 1, ev.Attempts, "first failure is recorded before redelivery succeeds")
	assert.EqualValues(t, 2, h.calls.Load())
	assert.Zero(t, w.InFlight())
}

func TestWorker_Run_BacksOffOnPollError(t *testing.T) {
	q := &failingQueue{Memory: queue.NewMemory()}
	q.pollFailures.Store(2)
	h := &fakeHandler{eventType: domain.EventAnnotationSubmitted}
	w := newTestWorker(q, nil, registryWith(h))

	id := sendSubmitted(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool {
		ev, _ := q.Get(id)
		return ev.Processed
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, q.polls.Load(), int32(3))
}

func TestWorker_Run_RequiresEventTypes(t *testing.T) {
	w := newTestWorker(queue.NewMemory(), nil, handlers.NewRegistry())
	assert.Error(t, w.Run(context.Background()))
}

func TestWorker_Run_WithQueuesRestrictsPolling(t *testing.T) {
	q := queue.NewMemory()
	h := &fakeHandler{eventType: domain.EventAnnotationSubmitted}
	w := newTestWorker(q, nil, registryWith(h), WithQueues(domain.EventTaskCreated))

	id := sendSubmitted(t, q)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	ev, _ := q.Get(id)
	assert.False(t, ev.Processed)
	assert.Zero(t, h.calls.Load())
}

func TestWorker_EventPayloadReachesHandler(t *testing.T) {
	q := queue.NewMemory()
	var got map[string]string
	reg := handlers.NewRegistry()
	reg.Register(handlerFunc{types: []string{domain.EventAnnotationSubmitted}, fn: func(_ context.Context, ev *domain.Event) error {
		return json.Unmarshal(ev.Payload, &got)
	}})
	w := newTestWorker(q, nil, reg)

	sendSubmitted(t, q)
	require.NoError(t, w.process(context.Background(), claim(t, q)))
	assert.Equal(t, "task-1", got["task_id"])
}

type handlerFunc struct {
	types []string
	fn    func(context.Context, *domain.Event) error
}

func (h handlerFunc) EventTypes() []string                               { return h.types }
func (h handlerFunc) Handle(ctx context.Context, ev *domain.Event) error { return h.fn(ctx, ev) }
