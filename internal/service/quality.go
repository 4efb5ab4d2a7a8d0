package service

import (
	"context"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/quality"
)

// ComputeQualityInput selects either one task or a whole project.
type ComputeQualityInput struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
}

// QualityResult holds exactly one of Task or Project.
type QualityResult struct {
	Task    *quality.TaskResult
	Project *quality.ProjectIAA
}

// ComputeQuality scores a task's consensus on demand, or reports a project's
// inter-annotator agreement. task_id wins when both are given.
func (s *Service) ComputeQuality(ctx context.Context, in ComputeQualityInput) (*QualityResult, error) {
	switch {
	case in.TaskID != "":
		if err := validateID("task_id", in.TaskID); err != nil {
			return nil, err
		}
		res, err := s.scorer.ScoreTask(ctx, in.TaskID)
		if err != nil {
			return nil, err
		}
		return &QualityResult{Task: res}, nil

	case in.ProjectID != "":
		if err := validateID("project_id", in.ProjectID); err != nil {
			return nil, err
		}
		if _, err := s.store.GetProject(ctx, in.ProjectID); err != nil {
			return nil, err
		}
		iaa, err := s.scorer.ProjectIAA(ctx, in.ProjectID)
		if err != nil {
			return nil, err
		}
		return &QualityResult{Project: iaa}, nil

	default:
		return nil, &domain.ValidationError{Field: "task_id", Reason: "task_id or project_id is required"}
	}
}
