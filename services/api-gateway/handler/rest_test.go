package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/quality"
	"github.com/AlxanderArt/HumanOS/internal/routing"
	"github.com/AlxanderArt/HumanOS/internal/service"
	"github.com/AlxanderArt/HumanOS/services/api-gateway/middleware"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type fakeService struct {
	err error

	gotUser   string
	gotSubmit service.SubmitAnnotationInput
	gotTaskID string
	gotAssign service.AssignTaskInput
	gotTrace  service.IngestAgentTraceInput
	quality   *service.QualityResult
	assign    *service.AssignTaskResult
}

func (f *fakeService) SubmitAnnotation(_ context.Context, user string, in service.SubmitAnnotationInput) (*service.SubmitAnnotationResult, error) {
	f.gotUser, f.gotSubmit = user, in
	if f.err != nil {
		return nil, f.err
	}
	return &service.SubmitAnnotationResult{
		Annotation: &domain.Annotation{ID: "ann-1", TaskID: in.TaskID, AnnotatorID: user, Labels: in.Labels, Revision: 1},
	}, nil
}

func (f *fakeService) ComputeQuality(_ context.Context, in service.ComputeQualityInput) (*service.QualityResult, error) {
	f.gotTaskID = in.TaskID
	if f.err != nil {
		return nil, f.err
	}
	return f.quality, nil
}

func (f *fakeService) RouteTask(_ context.Context, user, taskID string) (*service.RouteResult, error) {
	f.gotUser, f.gotTaskID = user, taskID
	if f.err != nil {
		return nil, f.err
	}
	c := 0.95
	return &service.RouteResult{
		TaskID: taskID, Route: routing.RouteAutoAccept, NewStatus: domain.TaskAccepted,
		Confidence: &c, Reason: "confidence above auto-accept threshold",
	}, nil
}

func (f *fakeService) AssignTask(_ context.Context, user string, in service.AssignTaskInput) (*service.AssignTaskResult, error) {
	f.gotUser, f.gotAssign = user, in
	if f.err != nil {
		return nil, f.err
	}
	return f.assign, nil
}

func (f *fakeService) IngestAgentTrace(_ context.Context, user string, in service.IngestAgentTraceInput) (*service.IngestAgentTraceResult, error) {
	f.gotUser, f.gotTrace = user, in
	if f.err != nil {
		return nil, f.err
	}
	return &service.IngestAgentTraceResult{TraceID: "trace-1", StepCount: 2}, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func newTestRouter(svc Service, ready func(context.Context) error) http.Handler {
	h := NewREST(svc, ready, slog.Default())
	r := chi.NewRouter()
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/annotations", h.SubmitAnnotation)
		r.Post("/quality", h.ComputeQuality)
		r.Post("/tasks/{id}/route", h.RouteTask)
		r.Post("/assignments", h.AssignTask)
		r.Post("/agent-traces", h.IngestAgentTrace)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req = req.WithContext(middleware.WithUserID(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestSubmitAnnotation_Created(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestRouter(svc, nil), http.MethodPost, "/api/v1/annotations", "user-1",
		`{"task_id":"t-1","labels":{"label":"cat"},"confidence":0.8,"time_spent_ms":1200}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "user-1", svc.gotUser)
	assert.Equal(t, "t-1", svc.gotSubmit.TaskID)
	assert.Equal(t, int64(1200), svc.gotSubmit.TimeSpentMs)
	require.NotNil(t, svc.gotSubmit.Confidence)
	assert.Equal(t, 0.8, *svc.gotSubmit.Confidence)

	body := decode(t, rec)
	ann := body["annotation"].(map[string]any)
	assert.Equal(t, "ann-1", ann["id"])
	assert.Nil(t, body["gold_result"])
}

func TestSubmitAnnotation_RequiresUser(t *testing.T) {
	rec := do(t, newTestRouter(&fakeService{}, nil), http.MethodPost, "/api/v1/annotations", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitAnnotation_BadJSON(t *testing.T) {
	rec := do(t, newTestRouter(&fakeService{}, nil), http.MethodPost, "/api/v1/annotations", "user-1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", decode(t, rec)["error"])
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"validation", &domain.ValidationError{Field: "labels", Reason: "must be a JSON object"}, http.StatusBadRequest, "invalid labels: must be a JSON object"},
		{"task missing", &domain.TaskNotFoundError{TaskID: "t-9"}, http.StatusNotFound, ""},
		{"project missing", fmt.Errorf("wrapped: %w", &domain.ProjectNotFoundError{ProjectID: "p-9"}), http.StatusNotFound, ""},
		{"rate limited", &domain.RateLimitExceededError{Key: "user-1", Limit: 5}, http.StatusTooManyRequests, ""},
		{"internal", errors.New("connection reset by peer"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, newTestRouter(&fakeService{err: tc.err}, nil), http.MethodPost,
				"/api/v1/tasks/t-9/route", "user-1", "")
			assert.Equal(t, tc.code, rec.Code)
			body := decode(t, rec)
			require.Contains(t, body, "error")
			if tc.msg != "" {
				assert.Equal(t, tc.msg, body["error"])
			}
		})
	}
}

func TestRouteTask_PassesPathID(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestRouter(svc, nil), http.MethodPost, "/api/v1/tasks/abc-123/route", "reviewer-1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", svc.gotTaskID)
	assert.Equal(t, "reviewer-1", svc.gotUser)
	body := decode(t, rec)
	assert.Equal(t, "auto_accept", body["route"])
	assert.Equal(t, "accepted", body["new_status"])
}

func TestComputeQuality_TaskAndProject(t *testing.T) {
	t.Run("task", func(t *testing.T) {
		svc := &fakeService{quality: &service.QualityResult{Task: &quality.TaskResult{
			Status: "insufficient_annotations", TaskID: "t-1", Annotations: 1, Required: 2,
		}}}
		rec := do(t, newTestRouter(svc, nil), http.MethodPost, "/api/v1/quality", "", `{"task_id":"t-1"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "insufficient_annotations", body["status"])
		assert.Equal(t, float64(2), body["required"])
	})

	t.Run("project", func(t *testing.T) {
		svc := &fakeService{quality: &service.QualityResult{Project: &quality.ProjectIAA{
			ProjectID: "p-1", IAAScore: 0.75, Tasks: 4,
		}}}
		rec := do(t, newTestRouter(svc, nil), http.MethodPost, "/api/v1/quality", "", `{"project_id":"p-1"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "p-1", body["project_id"])
		assert.Equal(t, 0.75, body["iaa_score"])
	})
}

func TestAssignTask(t *testing.T) {
	t.Run("nothing pending", func(t *testing.T) {
		svc := &fakeService{assign: &service.AssignTaskResult{Assigned: false, Message: "No tasks available"}}
		rec := do(t, newTestRouter(svc, nil), http.MethodPost, "/api/v1/assignments", "user-2", `{"project_id":"p-1"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, false, body["assigned"])
		assert.Equal(t, "No tasks available", body["message"])
		assert.Nil(t, svc.gotAssign.ExpiresInMinutes)
	})

	t.Run("explicit expiry", func(t *testing.T) {
		svc := &fakeService{assign: &service.AssignTaskResult{Assigned: true, Assignment: &service.Assignment{
			TaskAssignment: domain.TaskAssignment{ID: "a-1", TaskID: "t-1", AssigneeID: "user-2", Status: domain.AssignmentAssigned},
		}}}
		rec := do(t, newTestRouter(svc, nil), http.MethodPost, "/api/v1/assignments", "user-2",
			`{"project_id":"p-1","expires_in_minutes":15}`)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, svc.gotAssign.ExpiresInMinutes)
		assert.Equal(t, 15, *svc.gotAssign.ExpiresInMinutes)
		body := decode(t, rec)
		assert.Equal(t, true, body["assigned"])
		assert.Equal(t, "a-1", body["assignment"].(map[string]any)["id"])
	})
}

func TestHealthAndReady(t *testing.T) {
	rec := do(t, newTestRouter(&fakeService{}, nil), http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, newTestRouter(&fakeService{}, func(context.Context) error { return nil }), http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, newTestRouter(&fakeService{}, func(context.Context) error { return errors.New("db down") }), http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestAgentTrace_Created(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestRouter(svc, nil), http.MethodPost, "/api/v1/agent-traces", "agent-ops",
		`{"agent_id":"planner","session_id":"s-1","trajectory":[{"step":0,"action":"search","timestamp":"2026-03-01T12:00:00Z"}]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "trace-1", body["trace_id"])
	assert.Equal(t, float64(2), body["step_count"])
	assert.Equal(t, "agent-ops", svc.gotUser)
	assert.Equal(t, "planner", svc.gotTrace.AgentID)
	assert.JSONEq(t, `[{"step":0,"action":"search","timestamp":"2026-03-01T12:00:00Z"}]`, string(svc.gotTrace.Trajectory))
}

func TestIngestAgentTrace_Errors(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		rec := do(t, newTestRouter(&fakeService{}, nil), http.MethodPost, "/api/v1/agent-traces", "", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("validation", func(t *testing.T) {
		svc := &fakeService{err: &domain.ValidationError{Field: "trajectory", Reason: "must be a non-empty array"}}
		rec := do(t, newTestRouter(svc, nil), http.MethodPost, "/api/v1/agent-traces", "agent-ops",
			`{"agent_id":"planner","session_id":"s-1","trajectory":[]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode(t, rec)["error"], "trajectory")
	})
}
