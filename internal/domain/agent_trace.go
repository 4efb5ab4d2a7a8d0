package domain

import (
	"encoding/json"
	"time"
)

// AgentTrace is a recorded agent session submitted for human evaluation.
// Trajectory and Metadata are stored as received.
type AgentTrace struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	AgentID      string          `json:"agent_id"`
	AgentVersion *string         `json:"agent_version"`
	SessionID    string          `json:"session_id"`
	Trajectory   json.RawMessage `json:"trajectory"`
	Metadata     json.RawMessage `json:"metadata"`
	Confidence   *float64        `json:"confidence"`
	SubmittedBy  string          `json:"submitted_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TraceStep is one entry of an agent trajectory.
type TraceStep struct {
	Step      *int            `json:"step"`
	Action    string          `json:"action"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	ToolCalls []ToolCall      `json:"tool_calls,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// ToolCall is a tool invocation made during a step.
type ToolCall struct {
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args"`
	Result json.RawMessage `json:"result,omitempty"`
}
