package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
)

// IngestAgentTraceInput is an agent session to be queued for evaluation.
// TenantID may be omitted, in which case the caller's workforce membership
// decides it.
type IngestAgentTraceInput struct {
	TenantID     string          `json:"tenant_id"`
	AgentID      string          `json:"agent_id"`
	AgentVersion *string         `json:"agent_version"`
	SessionID    string          `json:"session_id"`
	Trajectory   json.RawMessage `json:"trajectory"`
	Metadata     json.RawMessage `json:"metadata"`
	Confidence   *float64        `json:"confidence"`
}

type IngestAgentTraceResult struct {
	TraceID   string `json:"trace_id"`
	StepCount int    `json:"step_count"`
}

// validate checks the input and returns the number of trajectory steps.
func (in IngestAgentTraceInput) validate() (int, error) {
	if in.AgentID == "" {
		return 0, &domain.ValidationError{Field: "agent_id", Reason: "required"}
	}
	if in.SessionID == "" {
		return 0, &domain.ValidationError{Field: "session_id", Reason: "required"}
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return 0, &domain.ValidationError{Field: "confidence", Reason: "must be between 0 and 1"}
	}
	if len(in.Metadata) > 0 && string(in.Metadata) != "null" && !isJSONObject(in.Metadata) {
		return 0, &domain.ValidationError{Field: "metadata", Reason: "must be a JSON object"}
	}

	var steps []domain.TraceStep
	if len(in.Trajectory) == 0 || string(in.Trajectory) == "null" {
		return 0, &domain.ValidationError{Field: "trajectory", Reason: "required"}
	}
	if err := json.Unmarshal(in.Trajectory, &steps); err != nil {
		return 0, &domain.ValidationError{Field: "trajectory", Reason: "must be an array of steps"}
	}
	if len(steps) == 0 {
		return 0, &domain.ValidationError{Field: "trajectory", Reason: "must be a non-empty array"}
	}
	for i, st := range steps {
		if err := validateStep(st); err != nil {
			return 0, &domain.ValidationError{Field: fmt.Sprintf("trajectory[%d]", i), Reason: err.Error()}
		}
	}
	return len(steps), nil
}

func validateStep(st domain.TraceStep) error {
	switch {
	case st.Step == nil:
		return errors.New("step is required")
	case st.Action == "":
		return errors.New("action is required")
	case st.Timestamp == "":
		return errors.New("timestamp is required")
	}
	if _, err := time.Parse(time.RFC3339, st.Timestamp); err != nil {
		return errors.New("timestamp must be RFC 3339")
	}
	for _, raw := range []json.RawMessage{st.Input, st.Output} {
		if len(raw) > 0 && !isJSONObject(raw) {
			return errors.New("input and output must be JSON objects")
		}
	}
	for j, call := range st.ToolCalls {
		if call.Tool == "" {
			return fmt.Errorf("tool_calls[%d].tool is required", j)
		}
		if !isJSONObject(call.Args) {
			return fmt.Errorf("tool_calls[%d].args must be a JSON object", j)
		}
	}
	return nil
}

// IngestAgentTrace stores an agent trajectory and emits agent.trace.ingested
// in the same transaction.
func (s *Service) IngestAgentTrace(ctx context.Context, userID string, in IngestAgentTraceInput) (*IngestAgentTraceResult, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "service.ingest_agent_trace")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", in.AgentID))

	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	stepCount, err := in.validate()
	if err != nil {
		return nil, err
	}

	metadata := in.Metadata
	if len(metadata) == 0 || string(metadata) == "null" {
		metadata = json.RawMessage(`{}`)
	}

	var trace *domain.AgentTrace
	err = s.store.InTx(ctx, func(tx Tx) error {
		tenantID := in.TenantID
		if tenantID == "" {
			resolved, err := tx.TenantFor(ctx, userID)
			if err != nil {
				return err
			}
			if resolved == "" {
				return &domain.ValidationError{Field: "tenant_id", Reason: "could not be resolved for the caller"}
			}
			tenantID = resolved
		}

		trace = &domain.AgentTrace{
			TenantID:     tenantID,
			AgentID:      in.AgentID,
			AgentVersion: in.AgentVersion,
			SessionID:    in.SessionID,
			Trajectory:   in.Trajectory,
			Metadata:     metadata,
			Confidence:   in.Confidence,
			SubmittedBy:  userID,
		}
		if err := tx.InsertAgentTrace(ctx, trace); err != nil {
			return err
		}

		env, err := domain.NewEnvelope(tenantID, domain.EntityAgentTrace, trace.ID, userID, map[string]any{
			"agent_id":   in.AgentID,
			"session_id": in.SessionID,
			"step_count": stepCount,
		})
		if err != nil {
			return err
		}
		_, err = tx.Emit(ctx, domain.EventAgentTraceIngested, env)
		return err
	})
	if err != nil {
		return nil, err
	}

	telemetry.AgentTraceStepsTotal.Add(float64(stepCount))
	s.logger.Info("agent trace ingested",
		slog.String("trace_id", trace.ID),
		slog.String("agent_id", trace.AgentID),
		slog.String("tenant_id", trace.TenantID),
		slog.Int("step_count", stepCount),
	)
	return &IngestAgentTraceResult{TraceID: trace.ID, StepCount: stepCount}, nil
}
