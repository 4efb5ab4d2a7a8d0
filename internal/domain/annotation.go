package domain

import (
	"encoding/json"
	"time"
)

// Annotation is one annotator's immutable label submission for a task.
type Annotation struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	AnnotatorID string          `json:"annotator_id"`
	Labels      json.RawMessage `json:"labels"`
	Confidence  *float64        `json:"confidence"`
	TimeSpentMs int64           `json:"time_spent_ms"`
	Revision    int             `json:"revision"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ConsensusMethod selects how annotations are aggregated.
type ConsensusMethod string

const (
	MethodMajorityVote ConsensusMethod = "majority_vote"
	MethodWeightedVote ConsensusMethod = "weighted_vote"
	MethodSpecialist   ConsensusMethod = "specialist"
)

// Valid reports whether m is a known consensus method.
func (m ConsensusMethod) Valid() bool {
	switch m {
	case MethodMajorityVote, MethodWeightedVote, MethodSpecialist:
		return true
	}
	return false
}

const (
	DefaultMinAnnotators      = 2
	DefaultAgreementThreshold = 0.8
)

// ConsensusConfig is the per-project aggregation policy.
type ConsensusConfig struct {
	ProjectID          string          `json:"project_id"`
	MinAnnotators      int             `json:"min_annotators"`
	AgreementThreshold float64         `json:"agreement_threshold"`
	Method             ConsensusMethod `json:"method"`
	SpecialistIDs      []string        `json:"specialist_ids,omitempty"`
}

// DefaultConsensusConfig returns the policy applied to projects without one.
func DefaultConsensusConfig(projectID string) ConsensusConfig {
	return ConsensusConfig{
		ProjectID:          projectID,
		MinAnnotators:      DefaultMinAnnotators,
		AgreementThreshold: DefaultAgreementThreshold,
		Method:             MethodMajorityVote,
	}
}

// ConsensusResult is an append-only aggregation snapshot. The most recent
// result for a task is authoritative.
type ConsensusResult struct {
	ID              string          `json:"id"`
	TaskID          string          `json:"task_id"`
	ConsensusLabels json.RawMessage `json:"consensus_labels"`
	AgreementScore  float64         `json:"agreement_score"`
	AnnotatorCount  int             `json:"annotator_count"`
	Method          ConsensusMethod `json:"method"`
	ComputedAt      time.Time       `json:"computed_at"`
}

// Difficulty grades a gold item.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// GoldSet holds the known-correct labels for a project's gold items.
type GoldSet struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	ExpectedLabels json.RawMessage `json:"expected_labels"`
	Difficulty     Difficulty      `json:"difficulty"`
	Active         bool            `json:"active"`
}

// GoldSetResult records how one annotator scored against a gold set.
type GoldSetResult struct {
	ID              string          `json:"id"`
	GoldSetID       string          `json:"gold_set_id"`
	AnnotatorID     string          `json:"annotator_id"`
	SubmittedLabels json.RawMessage `json:"submitted_labels"`
	Score           float64         `json:"score"`
	Passed          bool            `json:"passed"`
	EvaluatedAt     time.Time       `json:"evaluated_at"`
}

// Vendor is an external workforce supplier billed per submitted task.
type Vendor struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenant_id"`
	Name        string   `json:"name"`
	CostPerTask *float64 `json:"cost_per_task"`
}

// CostEntry is one line of the vendor cost ledger.
type CostEntry struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	TaskID      string    `json:"task_id"`
	VendorID    string    `json:"vendor_id"`
	AnnotatorID string    `json:"annotator_id"`
	Amount      float64   `json:"amount"`
	RecordedAt  time.Time `json:"recorded_at"`
}
