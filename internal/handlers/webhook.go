package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AlxanderArt/HumanOS/internal/domain"
)

// webhookBody is the JSON document POSTed for each escalation.
type webhookBody struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	TenantID  string          `json:"tenant_id"`
	TaskID    string          `json:"task_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EscalationWebhook POSTs escalated tasks to an external endpoint.
type EscalationWebhook struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewEscalationWebhook creates an EscalationWebhook. headers are sent with
// every request, e.g. an Authorization value for the receiver.
func NewEscalationWebhook(url string, headers map[string]string) *EscalationWebhook {
	return &EscalationWebhook{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *EscalationWebhook) Notify(ctx context.Context, ev *domain.Event) error {
	ctx, span := otel.Tracer("worker").Start(ctx, "handler.escalation_webhook")
	defer span.End()

	if h.url == "" {
		err := errors.New("escalation webhook has no url")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing url")
		return err
	}
	span.SetAttributes(attribute.String("webhook.url", h.url))

	taskID, _ := ev.TaskID()
	if taskID == "" && ev.EntityType == domain.EntityTask {
		taskID = ev.EntityID
	}
	body, err := json.Marshal(webhookBody{
		EventID:   ev.ID,
		EventType: ev.EventType,
		TenantID:  ev.TenantID,
		TaskID:    taskID,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request failed")
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-HumanOS-Event", ev.EventType)
	req.Header.Set("X-HumanOS-Event-ID", ev.ID)
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return fmt.Errorf("webhook call to %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("webhook %s returned status %d", h.url, resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status code")
		return err
	}
	return nil
}
