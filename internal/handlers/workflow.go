package handlers

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/workflow"
)

// StageAdvancer is satisfied by *workflow.Engine.
type StageAdvancer interface {
	OnEvent(ctx context.Context, ev *domain.Event) (workflow.Step, error)
}

// WorkflowAdvancer moves workflow instances forward on trigger events.
type WorkflowAdvancer struct {
	engine StageAdvancer
}

// NewWorkflowAdvancer wraps engine as an event handler.
func NewWorkflowAdvancer(engine StageAdvancer) *WorkflowAdvancer {
	return &WorkflowAdvancer{engine: engine}
}

func (h *WorkflowAdvancer) EventTypes() []string {
	return append([]string(nil), workflow.TriggerEvents...)
}

func (h *WorkflowAdvancer) Handle(ctx context.Context, ev *domain.Event) error {
	ctx, span := otel.Tracer("worker").Start(ctx, "handler.workflow_advancer")
	defer span.End()

	step, err := h.engine.OnEvent(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "advance failed")
		return err
	}
	span.SetAttributes(attribute.String("workflow.step", step.Kind.String()))
	return nil
}
