package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/service"
	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
	"github.com/AlxanderArt/HumanOS/services/api-gateway/middleware"
)

// Service is the set of boundary operations the gateway serves. It is
// satisfied by *service.Service.
type Service interface {
	SubmitAnnotation(ctx context.Context, annotatorID string, in service.SubmitAnnotationInput) (*service.SubmitAnnotationResult, error)
	ComputeQuality(ctx context.Context, in service.ComputeQualityInput) (*service.QualityResult, error)
	RouteTask(ctx context.Context, actorID, taskID string) (*service.RouteResult, error)
	AssignTask(ctx context.Context, assigneeID string, in service.AssignTaskInput) (*service.AssignTaskResult, error)
	IngestAgentTrace(ctx context.Context, userID string, in service.IngestAgentTraceInput) (*service.IngestAgentTraceResult, error)
}

var _ Service = (*service.Service)(nil)

// REST handles HTTP requests for the API Gateway.
type REST struct {
	svc    Service
	ready  telemetry.ReadyFunc
	logger *slog.Logger
}

// NewREST creates a new REST handler. ready backs /readyz; nil is always ready.
func NewREST(svc Service, ready telemetry.ReadyFunc, logger *slog.Logger) *REST {
	return &REST{svc: svc, ready: ready, logger: logger}
}

// SubmitAnnotation handles POST /api/v1/annotations.
func (h *REST) SubmitAnnotation(w http.ResponseWriter, r *http.Request) {
	const op = "submit_annotation"
	ctx, span := otel.Tracer("api-gateway").Start(r.Context(), "api_gateway.submit_annotation")
	defer span.End()

	user, ok := middleware.UserID(ctx)
	if !ok {
		h.writeError(w, op, http.StatusUnauthorized, "authentication required")
		return
	}

	var req service.SubmitAnnotationInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, op, http.StatusBadRequest, "invalid request body")
		return
	}
	span.SetAttributes(attribute.String("task.id", req.TaskID))

	res, err := h.svc.SubmitAnnotation(ctx, user, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit annotation failed")
		h.writeServiceError(w, op, err, slog.String("task_id", req.TaskID))
		return
	}
	h.writeJSON(w, op, http.StatusCreated, res)
}

// ComputeQuality handles POST /api/v1/quality.
func (h *REST) ComputeQuality(w http.ResponseWriter, r *http.Request) {
	const op = "compute_quality"
	ctx, span := otel.Tracer("api-gateway").Start(r.Context(), "api_gateway.compute_quality")
	defer span.End()

	var req service.ComputeQualityInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, op, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.ComputeQuality(ctx, req)
	if err != nil {
		span.RecordError(err)
		h.writeServiceError(w, op, err, slog.String("task_id", req.TaskID), slog.String("project_id", req.ProjectID))
		return
	}
	if res.Project != nil {
		h.writeJSON(w, op, http.StatusOK, res.Project)
		return
	}
	h.writeJSON(w, op, http.StatusOK, res.Task)
}

// RouteTask handles POST /api/v1/tasks/{id}/route.
func (h *REST) RouteTask(w http.ResponseWriter, r *http.Request) {
	const op = "route_task"
	ctx, span := otel.Tracer("api-gateway").Start(r.Context(), "api_gateway.route_task")
	defer span.End()

	user, ok := middleware.UserID(ctx)
	if !ok {
		h.writeError(w, op, http.StatusUnauthorized, "authentication required")
		return
	}
	taskID := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("task.id", taskID))

	res, err := h.svc.RouteTask(ctx, user, taskID)
	if err != nil {
		span.RecordError(err)
		h.writeServiceError(w, op, err, slog.String("task_id", taskID))
		return
	}
	h.writeJSON(w, op, http.StatusOK, res)
}

// AssignTask handles POST /api/v1/assignments.
func (h *REST) AssignTask(w http.ResponseWriter, r *http.Request) {
	const op = "assign_task"
	ctx, span := otel.Tracer("api-gateway").Start(r.Context(), "api_gateway.assign_task")
	defer span.End()

	user, ok := middleware.UserID(ctx)
	if !ok {
		h.writeError(w, op, http.StatusUnauthorized, "authentication required")
		return
	}

	var req service.AssignTaskInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, op, http.StatusBadRequest, "invalid request body")
		return
	}
	span.SetAttributes(attribute.String("project.id", req.ProjectID))

	res, err := h.svc.AssignTask(ctx, user, req)
	if err != nil {
		span.RecordError(err)
		h.writeServiceError(w, op, err, slog.String("project_id", req.ProjectID))
		return
	}
	h.writeJSON(w, op, http.StatusOK, res)
}

// IngestAgentTrace handles POST /api/v1/agent-traces.
func (h *REST) IngestAgentTrace(w http.ResponseWriter, r *http.Request) {
	const op = "ingest_agent_trace"
	ctx, span := otel.Tracer("api-gateway").Start(r.Context(), "api_gateway.ingest_agent_trace")
	defer span.End()

	user, ok := middleware.UserID(ctx)
	if !ok {
		h.writeError(w, op, http.StatusUnauthorized, "authentication required")
		return
	}

	var req service.IngestAgentTraceInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, op, http.StatusBadRequest, "invalid request body")
		return
	}
	span.SetAttributes(attribute.String("agent.id", req.AgentID))

	res, err := h.svc.IngestAgentTrace(ctx, user, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest agent trace failed")
		h.writeServiceError(w, op, err, slog.String("agent_id", req.AgentID))
		return
	}
	h.writeJSON(w, op, http.StatusCreated, res)
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// statusFor maps a service error onto an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	var (
		invalid     *domain.ValidationError
		taskMissing *domain.TaskNotFoundError
		projMissing *domain.ProjectNotFoundError
		annMissing  *domain.AnnotationNotFoundError
		limited     *domain.RateLimitExceededError
	)
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, invalid.Error()
	case errors.As(err, &taskMissing):
		return http.StatusNotFound, taskMissing.Error()
	case errors.As(err, &projMissing):
		return http.StatusNotFound, projMissing.Error()
	case errors.As(err, &annMissing):
		return http.StatusNotFound, annMissing.Error()
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, limited.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *REST) writeServiceError(w http.ResponseWriter, op string, err error, attrs ...any) {
	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
	}
	h.writeError(w, op, code, msg)
}

func (h *REST) writeError(w http.ResponseWriter, op string, code int, msg string) {
	telemetry.APIRequestsTotal.WithLabelValues(op, strconv.Itoa(code)).Inc()
	writeError(w, code, msg)
}

func (h *REST) writeJSON(w http.ResponseWriter, op string, code int, body any) {
	telemetry.APIRequestsTotal.WithLabelValues(op, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("encode response", slog.String("op", op), slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
