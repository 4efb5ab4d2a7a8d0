package workflow

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
)

// ErrStaleTransition reports that the instance left the stage a transition
// was computed from before it could be applied.
var ErrStaleTransition = errors.New("workflow instance changed concurrently")

// staleAttempts bounds how often OnEvent re-reads an instance that keeps
// moving under it. After that the error goes back to the worker, which fails
// the event so it is polled again.
const staleAttempts = 3

// Transition is everything the store needs to apply one step atomically.
type Transition struct {
	Instance       domain.WorkflowInstance
	Step           Step
	TriggerEventID string
	// EventType is workflow.stage.advanced or workflow.completed.
	EventType string
	Envelope  domain.Envelope
}

// Store is the persistence the engine needs.
type Store interface {
	// ActiveInstance returns nil when the task has no active instance.
	ActiveInstance(ctx context.Context, taskID string) (*domain.WorkflowInstance, error)
	TemplateStages(ctx context.Context, templateID string) ([]domain.Stage, error)
	AnnotationTaskID(ctx context.Context, annotationID string) (string, error)
	// ApplyTransition updates the instance only if it is still active at
	// t.Instance.CurrentStage, records the stage transition keyed by
	// TriggerEventID and emits the event in one transaction. A trigger that
	// was already recorded returns false without error. A failed stage guard
	// returns an error wrapping ErrStaleTransition.
	ApplyTransition(ctx context.Context, t Transition) (applied bool, err error)
}

// Engine applies trigger events to workflow instances.
type Engine struct {
	store  Store
	logger *slog.Logger
}

// NewEngine returns an Engine backed by store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// OnEvent advances the active instance of the task ev refers to. Tasks
// outside any workflow are ignored.
func (e *Engine) OnEvent(ctx context.Context, ev *domain.Event) (Step, error) {
	ctx, span := otel.Tracer("workflow").Start(ctx, "workflow.on_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.EventType),
	)

	if !slices.Contains(TriggerEvents, ev.EventType) {
		return Step{Kind: StepNone}, &domain.InvalidEventTypeError{EventType: ev.EventType}
	}

	taskID, err := e.resolveTaskID(ctx, ev)
	if err != nil {
		return Step{Kind: StepNone}, err
	}
	log := e.logger.With(slog.String("task_id", taskID), slog.String("event_id", ev.ID))

	for attempt := 1; ; attempt++ {
		step, err := e.apply(ctx, log, ev, taskID)
		if !errors.Is(err, ErrStaleTransition) {
			return step, err
		}
		if attempt == staleAttempts {
			return Step{Kind: StepNone}, fmt.Errorf("event %s after %d attempts: %w", ev.ID, attempt, err)
		}
		log.Info("workflow instance moved concurrently, re-reading", slog.Int("attempt", attempt))
	}
}

// apply reads the task's active instance and applies one step for ev to it.
func (e *Engine) apply(ctx context.Context, log *slog.Logger, ev *domain.Event, taskID string) (Step, error) {
	inst, err := e.store.ActiveInstance(ctx, taskID)
	if err != nil {
		return Step{Kind: StepNone}, fmt.Errorf("active instance for %s: %w", taskID, err)
	}
	if inst == nil {
		log.Debug("no active workflow instance, ignoring")
		return Step{Kind: StepNone}, nil
	}

	stages, err := e.store.TemplateStages(ctx, inst.TemplateID)
	if err != nil {
		return Step{Kind: StepNone}, fmt.Errorf("stages for template %s: %w", inst.TemplateID, err)
	}
	slices.SortStableFunc(stages, func(a, b domain.Stage) int { return cmp.Compare(a.Order, b.Order) })

	step := Advance(*inst, stages, ev.EventType)
	if step.Kind == StepNone {
		return step, nil
	}

	t := Transition{Instance: *inst, Step: step, TriggerEventID: ev.ID}
	var payload map[string]any
	if step.Kind == StepCompleted {
		t.EventType = domain.EventWorkflowCompleted
		payload = map[string]any{
			"task_id":     taskID,
			"instance_id": inst.ID,
			"final_stage": step.FromStage,
		}
	} else {
		t.EventType = domain.EventWorkflowStageAdvanced
		payload = map[string]any{
			"task_id":     taskID,
			"instance_id": inst.ID,
			"from_stage":  step.FromStage,
			"to_stage":    step.ToStage,
			"stage_name":  step.StageName,
		}
	}
	t.Envelope, err = domain.NewEnvelope(ev.TenantID, domain.EntityWorkflow, inst.ID, ev.ActorID, payload)
	if err != nil {
		return Step{Kind: StepNone}, err
	}

	applied, err := e.store.ApplyTransition(ctx, t)
	if err != nil {
		return Step{Kind: StepNone}, fmt.Errorf("apply %s to instance %s at stage %d: %w",
			step.Kind, inst.ID, inst.CurrentStage, err)
	}
	if !applied {
		log.Info("workflow trigger already applied", slog.String("instance_id", inst.ID))
		return Step{Kind: StepNone}, nil
	}

	telemetry.WorkflowTransitionsTotal.WithLabelValues(step.Kind.String()).Inc()
	log.Info("workflow instance "+step.Kind.String(),
		slog.String("instance_id", inst.ID),
		slog.Int("from_stage", step.FromStage),
		slog.Int("to_stage", step.ToStage),
	)
	return step, nil
}

func (e *Engine) resolveTaskID(ctx context.Context, ev *domain.Event) (string, error) {
	taskID, err := ev.TaskID()
	if err == nil || ev.EventType != domain.EventAnnotationReviewed {
		return taskID, err
	}

	var p struct {
		AnnotationID string `json:"annotation_id"`
	}
	_ = ev.DecodePayload(&p)
	if p.AnnotationID == "" && ev.EntityType == domain.EntityAnnotation {
		p.AnnotationID = ev.EntityID
	}
	if p.AnnotationID == "" {
		return "", err
	}
	taskID, lookupErr := e.store.AnnotationTaskID(ctx, p.AnnotationID)
	if lookupErr != nil {
		return "", fmt.Errorf("task for annotation %s: %w", p.AnnotationID, lookupErr)
	}
	return taskID, nil
}
