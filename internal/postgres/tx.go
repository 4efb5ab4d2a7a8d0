package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/service"
)

// txStore runs the service's writes inside one pgx transaction.
type txStore struct {
	tx pgx.Tx
}

var _ service.Tx = (*txStore)(nil)

func (t *txStore) InsertAnnotation(ctx context.Context, a *domain.Annotation) error {
	// Serialises revisions per (task, annotator); the unique key backs it up.
	err := t.tx.QueryRow(ctx, `
		INSERT INTO annotations (task_id, annotator_id, labels, confidence, time_spent_ms, revision)
		SELECT $1, $2, $3, $4, $5, COALESCE(MAX(revision), 0) + 1
		FROM annotations
		WHERE task_id = $1 AND annotator_id = $2
		RETURNING id::text, revision, created_at
	`, a.TaskID, a.AnnotatorID, []byte(a.Labels), a.Confidence, a.TimeSpentMs).
		Scan(&a.ID, &a.Revision, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}
	return nil
}

func (t *txStore) MarkAssignmentSubmitted(ctx context.Context, taskID, assigneeID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE task_assignments
		SET status = 'submitted', completed_at = now()
		WHERE task_id = $1 AND assignee_id = $2 AND status IN ('assigned', 'in_progress')
	`, taskID, assigneeID)
	if err != nil {
		return fmt.Errorf("close assignment on %s: %w", taskID, err)
	}
	return nil
}

func (t *txStore) UpdateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1
	`, taskID, string(status))
	if err != nil {
		return fmt.Errorf("update task %s status: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.TaskNotFoundError{TaskID: taskID}
	}
	return nil
}

func (t *txStore) SetTaskRouting(ctx context.Context, taskID string, status domain.TaskStatus, confidence *float64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tasks SET status = $2, confidence = $3, updated_at = now() WHERE id = $1
	`, taskID, string(status), confidence)
	if err != nil {
		return fmt.Errorf("route task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.TaskNotFoundError{TaskID: taskID}
	}
	return nil
}

func (t *txStore) ActiveGoldSet(ctx context.Context, projectID string) (*domain.GoldSet, error) {
	var (
		g          domain.GoldSet
		expected   []byte
		difficulty string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id::text, project_id::text, expected_labels, difficulty, active
		FROM gold_sets
		WHERE project_id = $1 AND active
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID).Scan(&g.ID, &g.ProjectID, &expected, &difficulty, &g.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("active gold set for %s: %w", projectID, err)
	}
	g.ExpectedLabels = expected
	g.Difficulty = domain.Difficulty(difficulty)
	return &g, nil
}

func (t *txStore) InsertGoldResult(ctx context.Context, r *domain.GoldSetResult) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO gold_set_results (gold_set_id, annotator_id, submitted_labels, score, passed, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text
	`, r.GoldSetID, r.AnnotatorID, []byte(r.SubmittedLabels), r.Score, r.Passed, r.EvaluatedAt).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert gold result: %w", err)
	}
	return nil
}

func (t *txStore) VendorFor(ctx context.Context, tenantID, userID string) (*domain.Vendor, error) {
	var v domain.Vendor
	err := t.tx.QueryRow(ctx, `
		SELECT v.id::text, v.tenant_id, v.name, v.cost_per_task
		FROM workforce_members m
		JOIN vendors v ON v.id = m.vendor_id
		WHERE m.tenant_id = $1 AND m.user_id = $2
	`, tenantID, userID).Scan(&v.ID, &v.TenantID, &v.Name, &v.CostPerTask)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("vendor for %s: %w", userID, err)
	}
	return &v, nil
}

func (t *txStore) InsertCostEntry(ctx context.Context, e *domain.CostEntry) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO cost_ledger (tenant_id, task_id, vendor_id, annotator_id, amount, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text
	`, e.TenantID, e.TaskID, e.VendorID, e.AnnotatorID, e.Amount, e.RecordedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert cost entry: %w", err)
	}
	return nil
}

// ClaimNextTask picks and assigns a task in a single statement. SKIP LOCKED
// lets concurrent callers each claim a different task.
func (t *txStore) ClaimNextTask(ctx context.Context, projectID, assigneeID string, expiresAt time.Time) (*domain.Task, *domain.TaskAssignment, error) {
	var (
		asg    domain.TaskAssignment
		status string
	)
	row := t.tx.QueryRow(ctx, `
		WITH next AS (
			SELECT id
			FROM tasks
			WHERE project_id = $1 AND status = 'pending'
			ORDER BY priority DESC, created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		), claimed AS (
			UPDATE tasks
			SET status = 'assigned', updated_at = now()
			WHERE id = (SELECT id FROM next)
			RETURNING `+taskColumns+`
		), asg AS (
			INSERT INTO task_assignments (task_id, assignee_id, status, expires_at)
			SELECT id, $2, 'assigned', $3 FROM next
			RETURNING id::text, status, assigned_at, expires_at
		)
		SELECT claimed.*, asg.* FROM claimed, asg
	`, projectID, assigneeID, expiresAt)

	var (
		task    domain.Task
		tstatus string
		payload []byte
	)
	err := row.Scan(
		&task.ID, &task.ProjectID, &task.TenantID, &payload, &tstatus, &task.Priority,
		&task.Confidence, &task.BatchID, &task.IsGold, &task.CreatedAt, &task.UpdatedAt,
		&asg.ID, &status, &asg.AssignedAt, &asg.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("claim next task in %s: %w", projectID, err)
	}
	task.Status = domain.TaskStatus(tstatus)
	task.Payload = payload
	asg.TaskID = task.ID
	asg.AssigneeID = assigneeID
	asg.Status = domain.AssignmentStatus(status)
	return &task, &asg, nil
}

func (t *txStore) TenantFor(ctx context.Context, userID string) (string, error) {
	var tenantID string
	err := t.tx.QueryRow(ctx, `
		SELECT tenant_id FROM workforce_members WHERE user_id = $1 ORDER BY tenant_id LIMIT 1
	`, userID).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("tenant for %s: %w", userID, err)
	}
	return tenantID, nil
}

func (t *txStore) InsertAgentTrace(ctx context.Context, a *domain.AgentTrace) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO agent_traces
			(tenant_id, agent_id, agent_version, session_id, trajectory, metadata, confidence, submitted_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id::text, created_at
	`, a.TenantID, a.AgentID, a.AgentVersion, a.SessionID, []byte(a.Trajectory), []byte(a.Metadata),
		a.Confidence, a.SubmittedBy).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert agent trace: %w", err)
	}
	return nil
}

func (t *txStore) Emit(ctx context.Context, eventType string, env domain.Envelope) (string, error) {
	return insertEvent(ctx, t.tx, eventType, env)
}
