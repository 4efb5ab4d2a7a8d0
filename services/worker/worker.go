package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/handlers"
	"github.com/AlxanderArt/HumanOS/internal/queue"
	redisstore "github.com/AlxanderArt/HumanOS/internal/redis"
	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
)

// settleTimeout bounds each ack, fail or dead-letter call.
const settleTimeout = 5 * time.Second

// Worker polls the event log for the event types its registry handles and
// runs one handler per claimed event.
type Worker struct {
	queue        queue.Queue
	done         redisstore.ProcessedStore
	registry     *handlers.Registry
	workerID     string
	role         string
	queues       []string
	maxRetries   int
	timeout      time.Duration
	pollInterval time.Duration
	logger       *slog.Logger

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

func WithRetries(n int) Option                { return func(w *Worker) { w.maxRetries = n } }
func WithTimeout(d time.Duration) Option      { return func(w *Worker) { w.timeout = d } }
func WithLogger(l *slog.Logger) Option        { return func(w *Worker) { w.logger = l } }
func WithRole(r string) Option                { return func(w *Worker) { w.role = r } }
func WithPollInterval(d time.Duration) Option { return func(w *Worker) { w.pollInterval = d } }

// WithQueues restricts polling to the given event types. By default the
// worker polls every type in its registry.
func WithQueues(names ...string) Option {
	return func(w *Worker) { w.queues = append([]string(nil), names...) }
}

// NewWorker constructs a Worker. done may be nil, in which case redelivered
// events rely on handler idempotency alone.
func NewWorker(
	workerID string,
	q queue.Queue,
	done redisstore.ProcessedStore,
	registry *handlers.Registry,
	opts ...Option,
) *Worker {
	w := &Worker{
		workerID:     workerID,
		queue:        q,
		done:         done,
		registry:     registry,
		role:         "worker",
		maxRetries:   queue.DefaultMaxRetries,
		timeout:      30 * time.Second,
		pollInterval: time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls and processes events until ctx is cancelled. Cancellation is
// observed between events; a handler already running is allowed to finish.
func (w *Worker) Run(ctx context.Context) error {
	queues := w.queues
	if len(queues) == 0 {
		queues = w.registry.EventTypes()
	}
	if len(queues) == 0 {
		return errors.New("worker has no event types to poll")
	}

	w.logger.Info("worker polling",
		slog.String("worker_id", w.workerID),
		slog.String("role", w.role),
		slog.Any("queues", queues),
		slog.Duration("poll_interval", w.pollInterval),
	)

	for {
		if ctx.Err() != nil {
			return nil
		}
		handled, err := w.runOnce(ctx, queues)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			telemetry.WorkerLoopErrorsTotal.WithLabelValues(w.role).Inc()
			w.logger.Error("worker loop error, backing off",
				slog.String("worker_id", w.workerID),
				slog.String("error", err.Error()),
			)
			sleep(ctx, 2*w.pollInterval)
		case !handled:
			sleep(ctx, w.pollInterval)
		}
	}
}

// Wait blocks until all in-flight events finish. Call after Run returns.
func (w *Worker) Wait() { w.wg.Wait() }

// InFlight reports the number of events currently being handled.
func (w *Worker) InFlight() int64 { return w.inFlight.Load() }

// runOnce claims at most one event and processes it. It reports whether an
// event was claimed.
func (w *Worker) runOnce(ctx context.Context, queues []string) (bool, error) {
	ev, err := w.queue.Poll(ctx, queues...)
	if err != nil {
		return false, fmt.Errorf("poll: %w", err)
	}
	if ev == nil {
		return false, nil
	}
	return true, w.process(ctx, ev)
}

// process runs the handler for one claimed event and settles it. The
// returned error covers only queue and store failures; handler errors are
// recorded on the event through Fail.
func (w *Worker) process(ctx context.Context, ev *domain.Event) error {
	w.wg.Add(1)
	w.inFlight.Add(1)
	telemetry.WorkerEventsInFlight.WithLabelValues(w.role).Inc()
	defer func() {
		telemetry.WorkerEventsInFlight.WithLabelValues(w.role).Dec()
		w.inFlight.Add(-1)
		w.wg.Done()
	}()

	ctx, span := otel.Tracer("worker").Start(ctx, "worker.process_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.EventType),
		attribute.Int("event.attempts", ev.Attempts),
		attribute.String("worker.id", w.workerID),
	)

	log := w.logger.With(
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.EventType),
		slog.String("worker_id", w.workerID),
		slog.Int("attempts", ev.Attempts),
	)

	if ev.Attempts >= w.maxRetries {
		log.Warn("event exhausted retries, dead-lettering", slog.String("last_error", ev.LastError))
		span.SetStatus(codes.Error, queue.ReasonMaxRetries)
		sctx, cancel := settleContext(ctx)
		defer cancel()
		return w.deadLetter(sctx, ev, queue.ReasonMaxRetries)
	}

	if w.done != nil {
		processed, err := w.done.IsProcessed(ctx, ev.ID)
		if err != nil {
			// Fall through to the handler.
			log.Warn("processed marker lookup failed", slog.String("error", err.Error()))
		} else if processed {
			skipped := &domain.EventAlreadyProcessedError{EventID: ev.ID}
			log.Info("event already processed, acking", slog.String("reason", skipped.Error()))
			sctx, cancel := settleContext(ctx)
			defer cancel()
			if err := w.queue.Ack(sctx, ev.ID); err != nil {
				return fmt.Errorf("ack %s: %w", ev.ID, err)
			}
			telemetry.WorkerEventsProcessed.WithLabelValues(w.role, "skipped").Inc()
			return nil
		}
	}

	h, err := w.registry.Get(ev.EventType)
	if err != nil {
		log.Error("no handler for event type", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no handler registered")
		sctx, cancel := settleContext(ctx)
		defer cancel()
		return w.deadLetter(sctx, ev, err.Error())
	}

	start := time.Now()
	herr := w.invoke(ctx, h, ev)
	elapsed := time.Since(start)
	telemetry.WorkerHandlerDurationSeconds.WithLabelValues(w.role, ev.EventType).Observe(elapsed.Seconds())

	sctx, cancel := settleContext(ctx)
	defer cancel()

	if herr != nil {
		log.Warn("handler failed",
			slog.String("error", herr.Error()),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
		)
		span.RecordError(herr)
		span.SetStatus(codes.Error, "handler failed")
		if err := w.queue.Fail(sctx, ev.ID, herr.Error()); err != nil {
			return fmt.Errorf("fail %s: %w", ev.ID, err)
		}
		telemetry.WorkerEventsProcessed.WithLabelValues(w.role, "failed").Inc()
		return nil
	}

	if w.done != nil {
		if err := w.done.MarkProcessed(sctx, ev.ID); err != nil {
			log.Warn("failed to record processed marker", slog.String("error", err.Error()))
		}
	}
	if err := w.queue.Ack(sctx, ev.ID); err != nil {
		return fmt.Errorf("ack %s: %w", ev.ID, err)
	}
	log.Info("event processed", slog.Int64("duration_ms", elapsed.Milliseconds()))
	telemetry.WorkerEventsProcessed.WithLabelValues(w.role, "acked").Inc()
	return nil
}

// invoke runs h with a context detached from worker cancellation and
// bounded by the handler timeout. A panic becomes an error.
func (w *Worker) invoke(ctx context.Context, h handlers.Handler, ev *domain.Event) (err error) {
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(execCtx, ev)
}

func (w *Worker) deadLetter(ctx context.Context, ev *domain.Event, reason string) error {
	if err := w.queue.DeadLetter(ctx, ev.ID, reason); err != nil {
		return fmt.Errorf("dead-letter %s: %w", ev.ID, err)
	}
	telemetry.WorkerDeadLetteredTotal.WithLabelValues(w.role).Inc()
	telemetry.WorkerEventsProcessed.WithLabelValues(w.role, "dead_lettered").Inc()
	return nil
}

// settleContext detaches from worker cancellation so a claimed event is
// always settled.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
