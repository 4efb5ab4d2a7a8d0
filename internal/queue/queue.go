package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/AlxanderArt/HumanOS/internal/domain"
)

const (
	// DefaultVisibilityTimeout is how long a claimed event stays invisible to
	// other pollers before it is considered abandoned.
	DefaultVisibilityTimeout = 5 * time.Minute

	// DefaultMaxRetries is the attempt count at which an event is dead-lettered.
	DefaultMaxRetries = 3

	// ReasonMaxRetries is recorded on events dead-lettered for exhausting retries.
	ReasonMaxRetries = "max retries exceeded"
)

// Handler processes one claimed event. Return nil to ack, an error to fail it.
type Handler func(ctx context.Context, ev *domain.Event) error

// Queue is the event-log work queue. Delivery is at-least-once: a claimed
// event that is neither acked nor failed becomes visible again once its
// visibility timeout lapses.
type Queue interface {
	// Send appends an unprocessed event of type queueName and returns its id.
	Send(ctx context.Context, queueName string, env domain.Envelope) (string, error)
	// Poll claims the oldest visible event of any of the given types.
	// It never blocks; a nil event means nothing is available.
	Poll(ctx context.Context, queueNames ...string) (*domain.Event, error)
	// Ack marks an event processed. Acking an acked or unknown id is a no-op.
	Ack(ctx context.Context, id string) error
	// Fail records a failed attempt and releases the claim.
	Fail(ctx context.Context, id, reason string) error
	// DeadLetter parks an event permanently. It is never polled again.
	DeadLetter(ctx context.Context, id, reason string) error
	// Subscribe invokes handler for events of queueName as they arrive,
	// until ctx is cancelled.
	Subscribe(ctx context.Context, queueName string, handler Handler) error
}

// Drain claims and handles events of queueName until none are visible.
// Events that have already failed DefaultMaxRetries times are dead-lettered
// without invoking the handler.
func Drain(ctx context.Context, q Queue, queueName string, handler Handler) error {
	for ctx.Err() == nil {
		ev, err := q.Poll(ctx, queueName)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("poll %s: %w", queueName, err)
		}
		if ev == nil {
			return nil
		}

		if ev.Attempts >= DefaultMaxRetries {
			if err := q.DeadLetter(ctx, ev.ID, ReasonMaxRetries); err != nil {
				return fmt.Errorf("dead-letter %s: %w", ev.ID, err)
			}
			continue
		}

		if herr := handler(ctx, ev); herr != nil {
			if err := q.Fail(ctx, ev.ID, herr.Error()); err != nil {
				return fmt.Errorf("fail %s: %w", ev.ID, err)
			}
			continue
		}
		if err := q.Ack(ctx, ev.ID); err != nil {
			return fmt.Errorf("ack %s: %w", ev.ID, err)
		}
	}
	return nil
}
