package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/kafka"
	"github.com/AlxanderArt/HumanOS/pkg/retry"
	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
)

// RelayedEvents are the outbound lifecycle events forwarded to Kafka.
var RelayedEvents = []string{
	domain.EventTaskAssigned,
	domain.EventTaskCompleted,
	domain.EventTaskEscalated,
	domain.EventWorkflowStageAdvanced,
	domain.EventWorkflowCompleted,
	domain.EventVendorCostRecorded,
	domain.EventAgentTraceIngested,
}

// EscalationNotifier is told about every escalated task.
type EscalationNotifier interface {
	Notify(ctx context.Context, ev *domain.Event) error
}

// relayedEvent is the Kafka message body.
type relayedEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	TenantID   string          `json:"tenant_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Relay forwards outbound events to Kafka and escalations to a webhook.
type Relay struct {
	producer kafka.Producer
	notifier EscalationNotifier
	retry    retry.Config
	logger   *slog.Logger
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithEscalationNotifier sends task.escalated events to n after publishing.
func WithEscalationNotifier(n EscalationNotifier) RelayOption {
	return func(r *Relay) { r.notifier = n }
}

// WithPublishRetry overrides the in-handler publish retry policy.
func WithPublishRetry(cfg retry.Config) RelayOption {
	return func(r *Relay) { r.retry = cfg }
}

func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = l }
}

// NewRelay creates a Relay publishing through producer.
func NewRelay(producer kafka.Producer, opts ...RelayOption) *Relay {
	r := &Relay{
		producer: producer,
		retry:    retry.Config{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) EventTypes() []string {
	return append([]string(nil), RelayedEvents...)
}

func (r *Relay) Handle(ctx context.Context, ev *domain.Event) error {
	ctx, span := otel.Tracer("worker").Start(ctx, "handler.relay")
	defer span.End()

	topic := kafka.EventTopic(ev.EventType)
	span.SetAttributes(
		attribute.String("messaging.destination", topic),
		attribute.String("event.id", ev.ID),
	)

	body, err := json.Marshal(relayedEvent{
		ID:         ev.ID,
		EventType:  ev.EventType,
		TenantID:   ev.TenantID,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		ActorID:    ev.ActorID,
		Payload:    ev.Payload,
		CreatedAt:  ev.CreatedAt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return fmt.Errorf("marshal relayed event %s: %w", ev.ID, err)
	}

	attrs := map[string]string{
		"event-id":   ev.ID,
		"event-type": ev.EventType,
		"tenant-id":  ev.TenantID,
	}
	cfg := r.retry
	cfg.OnRetry = func(attempt int, err error) {
		r.logger.Warn("relay publish failed, retrying",
			slog.String("event_id", ev.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	err = retry.Do(ctx, cfg, func() error {
		return r.producer.Publish(ctx, topic, ev.EntityID, body, attrs)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return err
	}
	telemetry.RelayPublishedTotal.WithLabelValues(ev.EventType).Inc()

	if ev.EventType == domain.EventTaskEscalated && r.notifier != nil {
		if err := r.notifier.Notify(ctx, ev); err != nil {
			telemetry.RelayWebhookTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "escalation webhook failed")
			return err
		}
		telemetry.RelayWebhookTotal.WithLabelValues("ok").Inc()
	}
	return nil
}
