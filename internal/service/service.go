// Package service implements the synchronous task-lifecycle operations the
// gateway exposes: annotation submission, quality computation, routing,
// assignment and agent trace ingestion.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/quality"
	"github.com/AlxanderArt/HumanOS/internal/routing"
)

// DefaultAssignmentTTL is how long an assignment holds a task when the caller
// does not say.
const DefaultAssignmentTTL = 60 * time.Minute

// Tx is the unit of work every mutating operation runs in. Events emitted
// through a Tx become visible only when it commits.
type Tx interface {
	// InsertAnnotation fills in ID, Revision (previous max for the annotator
	// plus one) and CreatedAt.
	InsertAnnotation(ctx context.Context, a *domain.Annotation) error
	// MarkAssignmentSubmitted closes the assignee's active assignment on the
	// task. Having none is not an error.
	MarkAssignmentSubmitted(ctx context.Context, taskID, assigneeID string) error
	UpdateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus) error
	SetTaskRouting(ctx context.Context, taskID string, status domain.TaskStatus, confidence *float64) error
	// ActiveGoldSet returns nil when the project has no active gold set.
	ActiveGoldSet(ctx context.Context, projectID string) (*domain.GoldSet, error)
	InsertGoldResult(ctx context.Context, r *domain.GoldSetResult) error
	// VendorFor returns nil when the user is not a vendor workforce member.
	VendorFor(ctx context.Context, tenantID, userID string) (*domain.Vendor, error)
	InsertCostEntry(ctx context.Context, e *domain.CostEntry) error
	// ClaimNextTask assigns the highest-priority, oldest pending task of the
	// project to assigneeID. Both results are nil when nothing is pending.
	ClaimNextTask(ctx context.Context, projectID, assigneeID string, expiresAt time.Time) (*domain.Task, *domain.TaskAssignment, error)
	// TenantFor returns the first tenant userID is a workforce member of, or
	// "" when there is none.
	TenantFor(ctx context.Context, userID string) (string, error)
	// InsertAgentTrace fills in ID and CreatedAt.
	InsertAgentTrace(ctx context.Context, t *domain.AgentTrace) error
	Emit(ctx context.Context, eventType string, env domain.Envelope) (string, error)
}

// Store is the persistence the service needs outside transactions.
type Store interface {
	// GetTask returns *domain.TaskNotFoundError for unknown ids.
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	// GetProject returns *domain.ProjectNotFoundError for unknown ids.
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	// LatestAnnotation returns nil when the task has no annotations.
	LatestAnnotation(ctx context.Context, taskID string) (*domain.Annotation, error)
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// QualityScorer is satisfied by *quality.Scorer.
type QualityScorer interface {
	ScoreTask(ctx context.Context, taskID string) (*quality.TaskResult, error)
	ProjectIAA(ctx context.Context, projectID string) (*quality.ProjectIAA, error)
}

// Service carries the boundary operations.
type Service struct {
	store      Store
	scorer     QualityScorer
	thresholds routing.Thresholds
	schemas    *schemaCache
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithThresholds overrides the routing confidence bands.
func WithThresholds(t routing.Thresholds) Option {
	return func(s *Service) { s.thresholds = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service. The thresholds are validated here so a bad
// configuration fails at startup.
func New(store Store, scorer QualityScorer, opts ...Option) (*Service, error) {
	s := &Service{
		store:      store,
		scorer:     scorer,
		thresholds: routing.DefaultThresholds(),
		schemas:    newSchemaCache(),
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.thresholds.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

var _ QualityScorer = (*quality.Scorer)(nil)
