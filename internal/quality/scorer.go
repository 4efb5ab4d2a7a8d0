package quality

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
)

// Store is the persistence the scorer needs.
type Store interface {
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	// ListAnnotations returns a task's annotations ordered by created_at, id.
	ListAnnotations(ctx context.Context, taskID string) ([]domain.Annotation, error)
	// GetConsensusConfig returns nil when the project has no explicit config.
	GetConsensusConfig(ctx context.Context, projectID string) (*domain.ConsensusConfig, error)
	// SaveConsensus inserts res unless a result with the same
	// (task_id, annotator_count) exists. When it inserts, env is emitted as a
	// consensus.reached event in the same transaction.
	SaveConsensus(ctx context.Context, res *domain.ConsensusResult, env domain.Envelope) (inserted bool, err error)
	// LatestAgreementScores returns the agreement score of the newest result
	// for every task of the project that has one.
	LatestAgreementScores(ctx context.Context, projectID string) ([]float64, error)
}

const (
	StatusComputed                = "computed"
	StatusInsufficientAnnotations = "insufficient_annotations"
)

// TaskResult is the outcome of scoring one task.
type TaskResult struct {
	Status           string                  `json:"status"`
	TaskID           string                  `json:"task_id"`
	Annotations      int                     `json:"annotations"`
	Required         int                     `json:"required"`
	Result           *domain.ConsensusResult `json:"result,omitempty"`
	AgreementReached bool                    `json:"agreement_reached"`
	// Emitted is false when an identical snapshot was already recorded.
	Emitted bool `json:"-"`
}

// ProjectIAA is the inter-annotator agreement of a project.
type ProjectIAA struct {
	ProjectID string  `json:"project_id"`
	IAAScore  float64 `json:"iaa_score"`
	Tasks     int     `json:"tasks"`
}

// Scorer computes and records consensus for tasks.
type Scorer struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewScorer returns a Scorer backed by store.
func NewScorer(store Store, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ScoreTask aggregates the task's annotations once enough have arrived.
// Scoring the same annotation set twice records a single result.
func (s *Scorer) ScoreTask(ctx context.Context, taskID string) (*TaskResult, error) {
	ctx, span := otel.Tracer("quality").Start(ctx, "quality.score_task")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID))

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	anns, err := s.store.ListAnnotations(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list annotations for %s: %w", taskID, err)
	}
	cfg, err := s.config(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}

	res := &TaskResult{
		Status:      StatusInsufficientAnnotations,
		TaskID:      taskID,
		Annotations: len(anns),
		Required:    cfg.MinAnnotators,
	}
	if len(anns) < cfg.MinAnnotators {
		s.logger.Debug("not enough annotations for consensus",
			slog.String("task_id", taskID),
			slog.Int("annotations", len(anns)),
			slog.Int("required", cfg.MinAnnotators),
		)
		return res, nil
	}

	out, err := Compute(anns, cfg)
	if err != nil {
		return nil, err
	}

	result := &domain.ConsensusResult{
		TaskID:          taskID,
		ConsensusLabels: out.Labels,
		AgreementScore:  out.Agreement,
		AnnotatorCount:  len(anns),
		Method:          out.Method,
		ComputedAt:      s.now(),
	}
	reached := out.Agreement >= cfg.AgreementThreshold

	env, err := domain.NewEnvelope(task.TenantID, domain.EntityTask, taskID, "", map[string]any{
		"task_id":           taskID,
		"agreement_score":   out.Agreement,
		"consensus_labels":  out.Labels,
		"annotator_count":   len(anns),
		"method":            out.Method,
		"agreement_reached": reached,
	})
	if err != nil {
		return nil, err
	}

	inserted, err := s.store.SaveConsensus(ctx, result, env)
	if err != nil {
		return nil, fmt.Errorf("save consensus for %s: %w", taskID, err)
	}
	if inserted {
		telemetry.ConsensusComputedTotal.WithLabelValues(string(out.Method)).Inc()
		s.logger.Info("consensus recorded",
			slog.String("task_id", taskID),
			slog.Float64("agreement", out.Agreement),
			slog.Int("annotator_count", len(anns)),
			slog.String("method", string(out.Method)),
		)
	}

	res.Status = StatusComputed
	res.Result = result
	res.AgreementReached = reached
	res.Emitted = inserted
	return res, nil
}

// ProjectIAA averages the latest agreement score of every scored task.
func (s *Scorer) ProjectIAA(ctx context.Context, projectID string) (*ProjectIAA, error) {
	scores, err := s.store.LatestAgreementScores(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("agreement scores for %s: %w", projectID, err)
	}
	return &ProjectIAA{
		ProjectID: projectID,
		IAAScore:  MeanAgreement(scores),
		Tasks:     len(scores),
	}, nil
}

func (s *Scorer) config(ctx context.Context, projectID string) (domain.ConsensusConfig, error) {
	cfg, err := s.store.GetConsensusConfig(ctx, projectID)
	if err != nil {
		return domain.ConsensusConfig{}, fmt.Errorf("consensus config for %s: %w", projectID, err)
	}
	if cfg == nil {
		return domain.DefaultConsensusConfig(projectID), nil
	}
	out := *cfg
	if out.MinAnnotators < 2 {
		out.MinAnnotators = domain.DefaultMinAnnotators
	}
	if !out.Method.Valid() {
		out.Method = domain.MethodMajorityVote
	}
	return out, nil
}
