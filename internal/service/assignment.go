package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
)

// AssignTaskInput asks for the next pending task of a project.
type AssignTaskInput struct {
	ProjectID        string `json:"project_id"`
	ExpiresInMinutes *int   `json:"expires_in_minutes"`
}

// Assignment is an assignment together with the task it holds.
type Assignment struct {
	domain.TaskAssignment
	Task *domain.Task `json:"task"`
}

// AssignTaskResult reports whether a task was handed out.
type AssignTaskResult struct {
	Assigned   bool        `json:"assigned"`
	Assignment *Assignment `json:"assignment,omitempty"`
	Message    string      `json:"message,omitempty"`
}

const noTasksMessage = "No tasks available"

// AssignTask claims the highest-priority, oldest pending task of the project
// for assigneeID. Concurrent callers never receive the same task.
func (s *Service) AssignTask(ctx context.Context, assigneeID string, in AssignTaskInput) (*AssignTaskResult, error) {
	if assigneeID == "" {
		return nil, &domain.ValidationError{Field: "assignee_id", Reason: "required"}
	}
	if err := validateID("project_id", in.ProjectID); err != nil {
		return nil, err
	}
	ttl := DefaultAssignmentTTL
	if in.ExpiresInMinutes != nil {
		if *in.ExpiresInMinutes <= 0 {
			return nil, &domain.ValidationError{Field: "expires_in_minutes", Reason: "must be positive"}
		}
		ttl = time.Duration(*in.ExpiresInMinutes) * time.Minute
	}

	project, err := s.store.GetProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}

	var out *AssignTaskResult
	err = s.store.InTx(ctx, func(tx Tx) error {
		task, asg, err := tx.ClaimNextTask(ctx, project.ID, assigneeID, s.now().Add(ttl))
		if err != nil {
			return err
		}
		if task == nil {
			out = &AssignTaskResult{Assigned: false, Message: noTasksMessage}
			return nil
		}

		env, err := domain.NewEnvelope(task.TenantID, domain.EntityTask, task.ID, assigneeID, map[string]any{
			"task_id":       task.ID,
			"project_id":    project.ID,
			"assignee_id":   assigneeID,
			"assignment_id": asg.ID,
			"expires_at":    asg.ExpiresAt,
		})
		if err != nil {
			return err
		}
		if _, err := tx.Emit(ctx, domain.EventTaskAssigned, env); err != nil {
			return err
		}
		out = &AssignTaskResult{Assigned: true, Assignment: &Assignment{TaskAssignment: *asg, Task: task}}
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.AssignmentsTotal.WithLabelValues(strconv.FormatBool(out.Assigned)).Inc()
	if out.Assigned {
		s.logger.Info("task assigned",
			slog.String("task_id", out.Assignment.Task.ID),
			slog.String("assignment_id", out.Assignment.ID),
			slog.String("assignee_id", assigneeID),
		)
	}
	return out, nil
}
