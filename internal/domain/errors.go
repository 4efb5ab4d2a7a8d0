package domain

import "fmt"

// ValidationError is returned when caller input is malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// ProjectNotFoundError is returned when a project ID does not exist.
type ProjectNotFoundError struct {
	ProjectID string
}

func (e *ProjectNotFoundError) Error() string {
	return fmt.Sprintf("project not found: %s", e.ProjectID)
}

// AnnotationNotFoundError is returned when an annotation ID does not exist.
type AnnotationNotFoundError struct {
	AnnotationID string
}

func (e *AnnotationNotFoundError) Error() string {
	return fmt.Sprintf("annotation not found: %s", e.AnnotationID)
}

// RateLimitExceededError is returned when a caller exceeds its request budget.
type RateLimitExceededError struct {
	Key   string
	Limit int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q: limit is %d", e.Key, e.Limit)
}

// InvalidEventTypeError is returned for an event type outside the catalogue,
// or one no handler in a registry accepts.
type InvalidEventTypeError struct {
	EventType string
}

func (e *InvalidEventTypeError) Error() string {
	return fmt.Sprintf("unsupported event type %q", e.EventType)
}

// EventAlreadyProcessedError is returned when an event is redelivered after
// its handler already succeeded.
type EventAlreadyProcessedError struct {
	EventID string
}

func (e *EventAlreadyProcessedError) Error() string {
	return fmt.Sprintf("event %s already processed", e.EventID)
}
