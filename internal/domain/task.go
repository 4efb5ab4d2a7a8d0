package domain

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the states a labeling task can be in.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskSubmitted  TaskStatus = "submitted"
	TaskInReview   TaskStatus = "in_review"
	TaskAccepted   TaskStatus = "accepted"
	TaskRejected   TaskStatus = "rejected"
	TaskEscalated  TaskStatus = "escalated"
)

// DefaultTaskPriority is used when a task is created without an explicit priority.
const DefaultTaskPriority = 5

// IsTerminal returns true if the task has reached a final review outcome.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskAccepted || s == TaskRejected
}

// Task is a unit of labeling work. Tasks are never deleted, only transitioned.
type Task struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	TenantID   string          `json:"tenant_id"`
	Payload    json.RawMessage `json:"payload"`
	Status     TaskStatus      `json:"status"`
	Priority   int             `json:"priority"`
	Confidence *float64        `json:"confidence"`
	BatchID    *string         `json:"batch_id,omitempty"`
	IsGold     bool            `json:"is_gold"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// AssignmentStatus represents the lifecycle of a single task assignment.
type AssignmentStatus string

const (
	AssignmentAssigned   AssignmentStatus = "assigned"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentSubmitted  AssignmentStatus = "submitted"
	AssignmentExpired    AssignmentStatus = "expired"
	AssignmentCancelled  AssignmentStatus = "cancelled"
)

// IsActive reports whether the assignment still holds the task.
func (s AssignmentStatus) IsActive() bool {
	return s == AssignmentAssigned || s == AssignmentInProgress
}

// TaskAssignment binds a task to one assignee. A task has at most one active
// assignment at a time.
type TaskAssignment struct {
	ID          string           `json:"id"`
	TaskID      string           `json:"task_id"`
	AssigneeID  string           `json:"assignee_id"`
	Status      AssignmentStatus `json:"status"`
	AssignedAt  time.Time        `json:"assigned_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
}

// Project groups tasks under a tenant. LabelSchema, when set, is a JSON Schema
// every annotation's labels must satisfy.
type Project struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Name        string          `json:"name"`
	LabelSchema json.RawMessage `json:"label_schema,omitempty"`
}
