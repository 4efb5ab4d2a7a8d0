package handlers

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/quality"
)

// ConsensusScorer is satisfied by *quality.Scorer.
type ConsensusScorer interface {
	ScoreTask(ctx context.Context, taskID string) (*quality.TaskResult, error)
}

// QualityScorer recomputes consensus whenever an annotation is submitted.
type QualityScorer struct {
	scorer ConsensusScorer
}

// NewQualityScorer wraps scorer as an event handler.
func NewQualityScorer(scorer ConsensusScorer) *QualityScorer {
	return &QualityScorer{scorer: scorer}
}

func (h *QualityScorer) EventTypes() []string {
	return []string{domain.EventAnnotationSubmitted}
}

func (h *QualityScorer) Handle(ctx context.Context, ev *domain.Event) error {
	ctx, span := otel.Tracer("worker").Start(ctx, "handler.quality_scorer")
	defer span.End()

	taskID, err := ev.TaskID()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing task_id")
		return err
	}
	span.SetAttributes(attribute.String("task.id", taskID))

	res, err := h.scorer.ScoreTask(ctx, taskID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "score task failed")
		return err
	}
	span.SetAttributes(
		attribute.String("quality.status", res.Status),
		attribute.Bool("quality.emitted", res.Emitted),
	)
	return nil
}
