package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/quality"
	"github.com/AlxanderArt/HumanOS/internal/service"
	"github.com/AlxanderArt/HumanOS/internal/workflow"
)

// Store is the relational persistence for tasks, annotations, consensus and
// workflows. It serves the boundary service, the quality scorer, the
// workflow engine and the scheduler.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ service.Store  = (*Store)(nil)
	_ quality.Store  = (*Store)(nil)
	_ workflow.Store = (*Store)(nil)
)

// NewStore wraps a pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports whether the database is reachable. Used for readiness.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const taskColumns = `
	id::text, project_id::text, tenant_id, payload, status, priority, confidence,
	batch_id::text, is_gold, created_at, updated_at`

func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return getTask(ctx, s.pool, id)
}

func getTask(ctx context.Context, q querier, id string) (*domain.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	task, err := scanTask(q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.TaskNotFoundError{TaskID: id}
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

// scanTask reads a task row from any pgx row type.
func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var (
		task    domain.Task
		status  string
		payload []byte
	)
	err := row.Scan(
		&task.ID, &task.ProjectID, &task.TenantID, &payload, &status, &task.Priority,
		&task.Confidence, &task.BatchID, &task.IsGold, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Status = domain.TaskStatus(status)
	task.Payload = payload
	return &task, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, &domain.ProjectNotFoundError{ProjectID: id}
	}
	var (
		p      domain.Project
		schema []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, tenant_id, name, label_schema
		FROM projects
		WHERE id = $1
	`, id).Scan(&p.ID, &p.TenantID, &p.Name, &schema)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.ProjectNotFoundError{ProjectID: id}
		}
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	p.LabelSchema = schema
	return &p, nil
}

const annotationColumns = `
	id::text, task_id::text, annotator_id, labels, confidence, time_spent_ms, revision, created_at`

func scanAnnotation(row interface{ Scan(...any) error }) (*domain.Annotation, error) {
	var (
		a      domain.Annotation
		labels []byte
	)
	err := row.Scan(&a.ID, &a.TaskID, &a.AnnotatorID, &labels, &a.Confidence, &a.TimeSpentMs, &a.Revision, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Labels = labels
	return &a, nil
}

func (s *Store) ListAnnotations(ctx context.Context, taskID string) ([]domain.Annotation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE task_id = $1
		ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list annotations for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []domain.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) LatestAnnotation(ctx context.Context, taskID string) (*domain.Annotation, error) {
	a, err := scanAnnotation(s.pool.QueryRow(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE task_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest annotation for %s: %w", taskID, err)
	}
	return a, nil
}

// InTx runs fn in one transaction. It commits when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx service.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

// ExpireAssignments marks active assignments whose expiry is before now as
// expired and returns their tasks to pending when they are still merely
// assigned. It returns the number of expired assignments.
func (s *Store) ExpireAssignments(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		WITH expired AS (
			UPDATE task_assignments
			SET status = 'expired', completed_at = $1
			WHERE status IN ('assigned', 'in_progress') AND expires_at < $1
			RETURNING task_id
		), reset AS (
			UPDATE tasks
			SET status = 'pending', updated_at = $1
			WHERE id IN (SELECT task_id FROM expired) AND status = 'assigned'
			RETURNING id
		)
		SELECT count(*) FROM expired
	`, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("expire assignments: %w", err)
	}
	return n, nil
}

// ── quality.Store ────────────────────────────────────────────────────────────

func (s *Store) GetConsensusConfig(ctx context.Context, projectID string) (*domain.ConsensusConfig, error) {
	var (
		cfg    domain.ConsensusConfig
		method string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT project_id::text, min_annotators, agreement_threshold, method, specialist_ids
		FROM consensus_configs
		WHERE project_id = $1
	`, projectID).Scan(&cfg.ProjectID, &cfg.MinAnnotators, &cfg.AgreementThreshold, &method, &cfg.SpecialistIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("consensus config for %s: %w", projectID, err)
	}
	cfg.Method = domain.ConsensusMethod(method)
	return &cfg, nil
}

func (s *Store) SaveConsensus(ctx context.Context, res *domain.ConsensusResult, env domain.Envelope) (bool, error) {
	inserted := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
			INSERT INTO consensus_results
				(task_id, consensus_labels, agreement_score, annotator_count, method, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (task_id, annotator_count) DO NOTHING
			RETURNING id::text
		`, res.TaskID, []byte(res.ConsensusLabels), res.AgreementScore, res.AnnotatorCount,
			string(res.Method), res.ComputedAt).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert consensus result: %w", err)
		}
		res.ID = id
		if _, err := insertEvent(ctx, tx, domain.EventConsensusReached, env); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *Store) LatestAgreementScores(ctx context.Context, projectID string) ([]float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (r.task_id) r.agreement_score
		FROM consensus_results r
		JOIN tasks t ON t.id = r.task_id
		WHERE t.project_id = $1
		ORDER BY r.task_id, r.computed_at DESC, r.annotator_count DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("agreement scores for %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan agreement score: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ── workflow.Store ───────────────────────────────────────────────────────────

func (s *Store) ActiveInstance(ctx context.Context, taskID string) (*domain.WorkflowInstance, error) {
	if _, err := uuid.Parse(taskID); err != nil {
		return nil, nil
	}
	var (
		inst   domain.WorkflowInstance
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, project_id::text, template_id::text, task_id::text,
		       current_stage, status, started_at, completed_at
		FROM workflow_instances
		WHERE task_id = $1 AND status = 'active'
		ORDER BY started_at DESC
		LIMIT 1
	`, taskID).Scan(&inst.ID, &inst.ProjectID, &inst.TemplateID, &inst.TaskID,
		&inst.CurrentStage, &status, &inst.StartedAt, &inst.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("active instance for %s: %w", taskID, err)
	}
	inst.Status = domain.InstanceStatus(status)
	return &inst, nil
}

func (s *Store) TemplateStages(ctx context.Context, templateID string) ([]domain.Stage, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT stages FROM workflow_templates WHERE id = $1`, templateID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", templateID, err)
	}
	var stages []domain.Stage
	if err := json.Unmarshal(raw, &stages); err != nil {
		return nil, fmt.Errorf("decode stages of template %s: %w", templateID, err)
	}
	return stages, nil
}

func (s *Store) AnnotationTaskID(ctx context.Context, annotationID string) (string, error) {
	if _, err := uuid.Parse(annotationID); err != nil {
		return "", &domain.AnnotationNotFoundError{AnnotationID: annotationID}
	}
	var taskID string
	err := s.pool.QueryRow(ctx, `SELECT task_id::text FROM annotations WHERE id = $1`, annotationID).Scan(&taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", &domain.AnnotationNotFoundError{AnnotationID: annotationID}
		}
		return "", fmt.Errorf("task of annotation %s: %w", annotationID, err)
	}
	return taskID, nil
}

// ApplyTransition records the transition and moves the instance in one
// transaction. The conditional UPDATE on (current_stage, status) and the
// unique (instance_id, trigger_event_id) key make a repeated trigger a
// no-op. A stale one rolls back and returns workflow.ErrStaleTransition.
func (s *Store) ApplyTransition(ctx context.Context, t workflow.Transition) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO stage_transitions (instance_id, from_stage, to_stage, reason, trigger_event_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (instance_id, trigger_event_id) DO NOTHING
		`, t.Instance.ID, t.Step.FromStage, t.Step.ToStage, t.Step.Reason, t.TriggerEventID)
		if err != nil {
			return fmt.Errorf("insert stage transition: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if t.Step.Kind == workflow.StepCompleted {
			tag, err = tx.Exec(ctx, `
				UPDATE workflow_instances
				SET status = 'completed', completed_at = now()
				WHERE id = $1 AND current_stage = $2 AND status = 'active'
			`, t.Instance.ID, t.Instance.CurrentStage)
		} else {
			tag, err = tx.Exec(ctx, `
				UPDATE workflow_instances
				SET current_stage = $3
				WHERE id = $1 AND current_stage = $2 AND status = 'active'
			`, t.Instance.ID, t.Instance.CurrentStage, t.Step.ToStage)
		}
		if err != nil {
			return fmt.Errorf("update instance %s: %w", t.Instance.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return workflow.ErrStaleTransition
		}

		if _, err := insertEvent(ctx, tx, t.EventType, t.Envelope); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
