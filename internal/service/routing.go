package service

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/routing"
	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
)

// RouteResult is the routing outcome returned to the caller.
type RouteResult struct {
	TaskID     string            `json:"task_id"`
	Route      routing.Route     `json:"route"`
	NewStatus  domain.TaskStatus `json:"new_status"`
	Confidence *float64          `json:"confidence"`
	Reason     string            `json:"reason"`
}

// RouteTask routes a task on its latest annotation confidence, stores the new
// status and emits task.escalated or task.completed. Routing the same task
// again with no new annotation yields the same decision.
func (s *Service) RouteTask(ctx context.Context, actorID, taskID string) (*RouteResult, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "service.route_task")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID))

	if err := validateID("task_id", taskID); err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestAnnotation(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("latest annotation for %s: %w", taskID, err)
	}
	var confidence *float64
	if latest != nil {
		confidence = latest.Confidence
	}

	d := routing.Decide(confidence, s.thresholds)
	eventType := domain.EventTaskCompleted
	if d.NewStatus == domain.TaskEscalated {
		eventType = domain.EventTaskEscalated
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.SetTaskRouting(ctx, taskID, d.NewStatus, confidence); err != nil {
			return fmt.Errorf("set routing: %w", err)
		}
		env, err := domain.NewEnvelope(task.TenantID, domain.EntityTask, taskID, actorID, map[string]any{
			"task_id":    taskID,
			"route":      d.Route,
			"confidence": confidence,
			"reason":     d.Reason,
		})
		if err != nil {
			return err
		}
		_, err = tx.Emit(ctx, eventType, env)
		return err
	})
	if err != nil {
		return nil, err
	}

	telemetry.RoutingDecisionsTotal.WithLabelValues(string(d.Route)).Inc()
	span.SetAttributes(attribute.String("routing.route", string(d.Route)))
	s.logger.Info("task routed",
		slog.String("task_id", taskID),
		slog.String("route", string(d.Route)),
		slog.String("new_status", string(d.NewStatus)),
	)

	return &RouteResult{
		TaskID:     taskID,
		Route:      d.Route,
		NewStatus:  d.NewStatus,
		Confidence: confidence,
		Reason:     d.Reason,
	}, nil
}
