package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/queue"
)

// notifyChannel is the LISTEN channel the event_log insert trigger notifies
// with the new row's event type.
const notifyChannel = "event_log"

// EventLog is the Postgres-backed queue over the event_log table.
type EventLog struct {
	pool       *pgxpool.Pool
	visibility time.Duration
	resweep    time.Duration
	logger     *slog.Logger
}

// EventLogOption configures an EventLog.
type EventLogOption func(*EventLog)

// WithClaimVisibility sets how long a polled event stays claimed.
func WithClaimVisibility(d time.Duration) EventLogOption {
	return func(l *EventLog) { l.visibility = d }
}

// WithResweep sets how often Subscribe polls without a notification, which
// picks up events whose claim lapsed.
func WithResweep(d time.Duration) EventLogOption {
	return func(l *EventLog) { l.resweep = d }
}

func WithEventLogLogger(logger *slog.Logger) EventLogOption {
	return func(l *EventLog) { l.logger = logger }
}

// NewEventLog returns an EventLog on pool.
func NewEventLog(pool *pgxpool.Pool, opts ...EventLogOption) *EventLog {
	l := &EventLog{
		pool:       pool,
		visibility: queue.DefaultVisibilityTimeout,
		resweep:    30 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ queue.Queue = (*EventLog)(nil)

func (l *EventLog) Send(ctx context.Context, queueName string, env domain.Envelope) (string, error) {
	return insertEvent(ctx, l.pool, queueName, env)
}

// Poll claims the oldest visible event with a single UPDATE over a
// SKIP LOCKED subselect, so concurrent pollers never claim the same row.
func (l *EventLog) Poll(ctx context.Context, queueNames ...string) (*domain.Event, error) {
	if len(queueNames) == 0 {
		return nil, nil
	}
	row := l.pool.QueryRow(ctx, `
		UPDATE event_log
		SET claimed_until = now() + make_interval(secs => $2)
		WHERE id = (
			SELECT id FROM event_log
			WHERE event_type = ANY($1)
			  AND processed = false
			  AND dead_lettered_at IS NULL
			  AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+eventColumns,
		queueNames, l.visibility.Seconds(),
	)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim event: %w", err)
	}
	return ev, nil
}

func (l *EventLog) Ack(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	_, err := l.pool.Exec(ctx, `
		UPDATE event_log
		SET processed = true, processed_at = now(), claimed_until = NULL
		WHERE id = $1 AND processed = false
	`, id)
	if err != nil {
		return fmt.Errorf("ack event %s: %w", id, err)
	}
	return nil
}

func (l *EventLog) Fail(ctx context.Context, id, reason string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	_, err := l.pool.Exec(ctx, `
		UPDATE event_log
		SET attempts = attempts + 1, last_error = $2, claimed_until = NULL
		WHERE id = $1 AND processed = false
	`, id, reason)
	if err != nil {
		return fmt.Errorf("fail event %s: %w", id, err)
	}
	return nil
}

func (l *EventLog) DeadLetter(ctx context.Context, id, reason string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	_, err := l.pool.Exec(ctx, `
		UPDATE event_log
		SET last_error = $2, dead_lettered_at = now(), claimed_until = NULL
		WHERE id = $1 AND processed = false
	`, id, reason)
	if err != nil {
		return fmt.Errorf("dead-letter event %s: %w", id, err)
	}
	return nil
}

// Get returns one event by id, or nil when it does not exist.
func (l *EventLog) Get(ctx context.Context, id string) (*domain.Event, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	ev, err := scanEvent(l.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM event_log WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return ev, nil
}

// DeadLettered lists parked events of one type, newest first.
func (l *EventLog) DeadLettered(ctx context.Context, eventType string, limit int) ([]*domain.Event, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM event_log
		WHERE event_type = $1 AND dead_lettered_at IS NOT NULL
		ORDER BY dead_lettered_at DESC
		LIMIT $2
	`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead-lettered %s: %w", eventType, err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Subscribe LISTENs for inserts of queueName and drains the queue on each
// notification. Notifications only wake the loop; every claim still goes
// through Poll, so duplicate or lost notifications are harmless. It also
// drains every resweep interval to pick up lapsed claims.
func (l *EventLog) Subscribe(ctx context.Context, queueName string, handler queue.Handler) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	defer func() {
		// The connection goes back to the pool; stop receiving on it.
		_, _ = conn.Exec(context.WithoutCancel(ctx), "UNLISTEN "+notifyChannel)
	}()

	for {
		if err := queue.Drain(ctx, l, queueName, handler); err != nil {
			return err
		}

		waitCtx, cancel := context.WithTimeout(ctx, l.resweep)
		n, err := conn.Conn().WaitForNotification(waitCtx)
		cancel()
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded):
			continue
		case err != nil:
			return fmt.Errorf("wait for notification: %w", err)
		case n.Payload != queueName:
			l.logger.Debug("ignoring notification", slog.String("event_type", n.Payload))
		}
	}
}
