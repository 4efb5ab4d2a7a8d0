package domain

import (
	"encoding/json"
	"time"
)

// StageType is the kind of work a workflow stage represents.
type StageType string

const (
	StageLabel      StageType = "label"
	StageReview     StageType = "review"
	StageAdjudicate StageType = "adjudicate"
	StageAutoCheck  StageType = "auto_check"
	StageEscalate   StageType = "escalate"
)

// Stage is one ordered step of a workflow template.
type Stage struct {
	Order  int             `json:"order"`
	Type   StageType       `json:"type"`
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config,omitempty"`
}

// WorkflowTemplate is the ordered stage list instances run through.
type WorkflowTemplate struct {
	ID       string  `json:"id"`
	TenantID string  `json:"tenant_id"`
	Name     string  `json:"name"`
	Stages   []Stage `json:"stages"`
}

// InstanceStatus is the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceActive    InstanceStatus = "active"
	InstanceCompleted InstanceStatus = "completed"
	InstanceFailed    InstanceStatus = "failed"
	InstanceCancelled InstanceStatus = "cancelled"
)

// IsTerminal returns true for every status other than active.
func (s InstanceStatus) IsTerminal() bool { return s != InstanceActive }

// WorkflowInstance tracks one task's progress through a template.
// CurrentStage never decreases.
type WorkflowInstance struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	TemplateID   string         `json:"template_id"`
	TaskID       string         `json:"task_id"`
	CurrentStage int            `json:"current_stage"`
	Status       InstanceStatus `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// StageTransition is the immutable record of one instance advance.
type StageTransition struct {
	ID             string    `json:"id"`
	InstanceID     string    `json:"instance_id"`
	FromStage      int       `json:"from_stage"`
	ToStage        int       `json:"to_stage"`
	Reason         string    `json:"reason"`
	TriggerEventID string    `json:"trigger_event_id"`
	TransitionedAt time.Time `json:"transitioned_at"`
}
