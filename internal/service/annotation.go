package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/quality"
	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
)

// SubmitAnnotationInput is the body of a submission.
type SubmitAnnotationInput struct {
	TaskID      string          `json:"task_id"`
	Labels      json.RawMessage `json:"labels"`
	Confidence  *float64        `json:"confidence"`
	TimeSpentMs int64           `json:"time_spent_ms"`
}

// SubmitAnnotationResult is returned to the annotator. GoldResult is nil
// unless the task was a gold item with an active gold set.
type SubmitAnnotationResult struct {
	Annotation *domain.Annotation    `json:"annotation"`
	GoldResult *domain.GoldSetResult `json:"gold_result"`
}

func (in SubmitAnnotationInput) validate() error {
	if err := validateID("task_id", in.TaskID); err != nil {
		return err
	}
	if !isJSONObject(in.Labels) {
		return &domain.ValidationError{Field: "labels", Reason: "must be a JSON object"}
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return &domain.ValidationError{Field: "confidence", Reason: "must be between 0 and 1"}
	}
	if in.TimeSpentMs < 0 {
		return &domain.ValidationError{Field: "time_spent_ms", Reason: "must not be negative"}
	}
	return nil
}

// SubmitAnnotation records an annotator's labels for a task. The annotation,
// the assignment and task status updates, gold scoring, vendor cost and the
// resulting events are committed together. A missing assignment is tolerated.
func (s *Service) SubmitAnnotation(ctx context.Context, annotatorID string, in SubmitAnnotationInput) (*SubmitAnnotationResult, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "service.submit_annotation")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", in.TaskID))

	if annotatorID == "" {
		return nil, &domain.ValidationError{Field: "annotator_id", Reason: "required"}
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	task, err := s.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := s.schemas.validateLabels(project, in.Labels); err != nil {
		return nil, err
	}

	out := &SubmitAnnotationResult{}
	err = s.store.InTx(ctx, func(tx Tx) error {
		ann := &domain.Annotation{
			TaskID:      task.ID,
			AnnotatorID: annotatorID,
			Labels:      in.Labels,
			Confidence:  in.Confidence,
			TimeSpentMs: in.TimeSpentMs,
		}
		if err := tx.InsertAnnotation(ctx, ann); err != nil {
			return fmt.Errorf("insert annotation: %w", err)
		}
		out.Annotation = ann

		if err := tx.MarkAssignmentSubmitted(ctx, task.ID, annotatorID); err != nil {
			return fmt.Errorf("close assignment: %w", err)
		}
		if err := tx.UpdateTaskStatus(ctx, task.ID, domain.TaskSubmitted); err != nil {
			return fmt.Errorf("mark task submitted: %w", err)
		}

		env, err := domain.NewEnvelope(task.TenantID, domain.EntityAnnotation, ann.ID, annotatorID, map[string]any{
			"task_id":       task.ID,
			"annotation_id": ann.ID,
			"annotator_id":  annotatorID,
			"confidence":    in.Confidence,
		})
		if err != nil {
			return err
		}
		if _, err := tx.Emit(ctx, domain.EventAnnotationSubmitted, env); err != nil {
			return err
		}

		if task.IsGold {
			gold, err := s.scoreGold(ctx, tx, task, ann)
			if err != nil {
				return err
			}
			out.GoldResult = gold
		}

		return s.recordVendorCost(ctx, tx, task, annotatorID)
	})
	if err != nil {
		return nil, err
	}

	telemetry.AnnotationsSubmittedTotal.Inc()
	s.logger.Info("annotation submitted",
		slog.String("task_id", task.ID),
		slog.String("annotation_id", out.Annotation.ID),
		slog.String("annotator_id", annotatorID),
		slog.Int("revision", out.Annotation.Revision),
	)
	return out, nil
}

func (s *Service) scoreGold(ctx context.Context, tx Tx, task *domain.Task, ann *domain.Annotation) (*domain.GoldSetResult, error) {
	gs, err := tx.ActiveGoldSet(ctx, task.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("active gold set: %w", err)
	}
	if gs == nil {
		return nil, nil
	}

	score, passed, err := quality.GoldScore(ann.Labels, gs.ExpectedLabels)
	if err != nil {
		return nil, fmt.Errorf("gold score: %w", err)
	}
	res := &domain.GoldSetResult{
		GoldSetID:       gs.ID,
		AnnotatorID:     ann.AnnotatorID,
		SubmittedLabels: ann.Labels,
		Score:           score,
		Passed:          passed,
		EvaluatedAt:     s.now(),
	}
	if err := tx.InsertGoldResult(ctx, res); err != nil {
		return nil, fmt.Errorf("insert gold result: %w", err)
	}

	env, err := domain.NewEnvelope(task.TenantID, domain.EntityAnnotation, ann.ID, ann.AnnotatorID, map[string]any{
		"annotation_id":   ann.ID,
		"task_id":         task.ID,
		"gold_score":      score,
		"consensus_score": nil,
	})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Emit(ctx, domain.EventQualityComputed, env); err != nil {
		return nil, err
	}
	telemetry.GoldEvaluationsTotal.WithLabelValues(strconv.FormatBool(passed)).Inc()
	return res, nil
}

func (s *Service) recordVendorCost(ctx context.Context, tx Tx, task *domain.Task, annotatorID string) error {
	vendor, err := tx.VendorFor(ctx, task.TenantID, annotatorID)
	if err != nil {
		return fmt.Errorf("vendor lookup: %w", err)
	}
	if vendor == nil || vendor.CostPerTask == nil || *vendor.CostPerTask <= 0 {
		return nil
	}

	entry := &domain.CostEntry{
		TenantID:    task.TenantID,
		TaskID:      task.ID,
		VendorID:    vendor.ID,
		AnnotatorID: annotatorID,
		Amount:      *vendor.CostPerTask,
		RecordedAt:  s.now(),
	}
	if err := tx.InsertCostEntry(ctx, entry); err != nil {
		return fmt.Errorf("insert cost entry: %w", err)
	}

	env, err := domain.NewEnvelope(task.TenantID, domain.EntityCost, entry.ID, annotatorID, map[string]any{
		"task_id":      task.ID,
		"vendor_id":    vendor.ID,
		"annotator_id": annotatorID,
		"amount":       entry.Amount,
	})
	if err != nil {
		return err
	}
	_, err = tx.Emit(ctx, domain.EventVendorCostRecorded, env)
	return err
}

func validateID(field, id string) error {
	if id == "" {
		return &domain.ValidationError{Field: field, Reason: "required"}
	}
	if _, err := uuid.Parse(id); err != nil {
		return &domain.ValidationError{Field: field, Reason: "must be a UUID"}
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
