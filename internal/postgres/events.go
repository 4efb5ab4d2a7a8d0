package postgres

import (
	"context"
	"fmt"

	"github.com/AlxanderArt/HumanOS/internal/domain"
)

const eventColumns = `
	id::text, event_type, tenant_id, entity_type, entity_id, COALESCE(actor_id, ''),
	payload, processed, processed_at, attempts, COALESCE(last_error, ''),
	dead_lettered_at, claimed_until, created_at`

// insertEvent appends an event through q. Inside a transaction the event
// commits with the state change it describes.
func insertEvent(ctx context.Context, q querier, eventType string, env domain.Envelope) (string, error) {
	if !domain.KnownEventType(eventType) {
		return "", &domain.InvalidEventTypeError{EventType: eventType}
	}
	payload := []byte(env.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	var id string
	err := q.QueryRow(ctx, `
		INSERT INTO event_log (event_type, tenant_id, entity_type, entity_id, actor_id, payload)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		RETURNING id::text
	`, eventType, env.TenantID, env.EntityType, env.EntityID, env.ActorID, payload).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert %s event: %w", eventType, err)
	}
	return id, nil
}

func scanEvent(row interface{ Scan(...any) error }) (*domain.Event, error) {
	var (
		ev      domain.Event
		payload []byte
	)
	err := row.Scan(
		&ev.ID, &ev.EventType, &ev.TenantID, &ev.EntityType, &ev.EntityID, &ev.ActorID,
		&payload, &ev.Processed, &ev.ProcessedAt, &ev.Attempts, &ev.LastError,
		&ev.DeadLetteredAt, &ev.ClaimedUntil, &ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Payload = payload
	return &ev, nil
}
