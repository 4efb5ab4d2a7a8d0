package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types carried by the event log. The event type doubles as the queue name.
const (
	EventTaskCreated           = "task.created"
	EventTaskAssigned          = "task.assigned"
	EventTaskCompleted         = "task.completed"
	EventTaskEscalated         = "task.escalated"
	EventAnnotationSubmitted   = "annotation.submitted"
	EventAnnotationReviewed    = "annotation.reviewed"
	EventQualityComputed       = "quality.computed"
	EventConsensusReached      = "consensus.reached"
	EventWorkflowStageAdvanced = "workflow.stage.advanced"
	EventWorkflowCompleted     = "workflow.completed"
	EventVendorCostRecorded    = "vendor.cost.recorded"
	EventAgentTraceIngested    = "agent.trace.ingested"
)

// Entity types recorded alongside events.
const (
	EntityTask       = "task"
	EntityAnnotation = "annotation"
	EntityWorkflow   = "workflow_instance"
	EntityCost       = "cost_entry"
	EntityAgentTrace = "agent_trace"
)

var knownEventTypes = map[string]struct{}{
	EventTaskCreated:           {},
	EventTaskAssigned:          {},
	EventTaskCompleted:         {},
	EventTaskEscalated:         {},
	EventAnnotationSubmitted:   {},
	EventAnnotationReviewed:    {},
	EventQualityComputed:       {},
	EventConsensusReached:      {},
	EventWorkflowStageAdvanced: {},
	EventWorkflowCompleted:     {},
	EventVendorCostRecorded:    {},
	EventAgentTraceIngested:    {},
}

// KnownEventType reports whether t is one of the recognised event types.
func KnownEventType(t string) bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Envelope is what a producer hands to the queue. The queue stamps the id,
// event type and bookkeeping columns.
type Envelope struct {
	TenantID   string          `json:"tenant_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload and returns a ready-to-send Envelope.
func NewEnvelope(tenantID, entityType, entityID, actorID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", entityType, err)
	}
	return Envelope{
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    raw,
	}, nil
}

// Event is a row of the append-only event log. Only the queue bookkeeping
// fields (Processed, ProcessedAt, Attempts, LastError, DeadLetteredAt,
// ClaimedUntil) ever change after insert.
type Event struct {
	ID             string          `json:"id"`
	EventType      string          `json:"event_type"`
	TenantID       string          `json:"tenant_id"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	ActorID        string          `json:"actor_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Processed      bool            `json:"processed"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	DeadLetteredAt *time.Time      `json:"dead_lettered_at,omitempty"`
	ClaimedUntil   *time.Time      `json:"claimed_until,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsDeadLettered reports whether the event has been parked permanently.
func (e *Event) IsDeadLettered() bool { return e.DeadLetteredAt != nil }

// TaskID extracts payload.task_id. A missing or empty value is a
// ValidationError so the worker can fail the event instead of crashing.
func (e *Event) TaskID() (string, error) {
	var p struct {
		TaskID string `json:"task_id"`
	}
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return "", &ValidationError{Field: "payload", Reason: err.Error()}
		}
	}
	if p.TaskID == "" {
		return "", &ValidationError{Field: "task_id", Reason: fmt.Sprintf("missing in %s event %s", e.EventType, e.ID)}
	}
	return p.TaskID, nil
}

// DecodePayload unmarshals the event payload into v.
func (e *Event) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return &ValidationError{Field: "payload", Reason: err.Error()}
	}
	return nil
}
