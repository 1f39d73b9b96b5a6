package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amelia-dev/amelia/pkg/models"
)

// workflowColumns is the column list for workflow queries.
const workflowColumns = `id, issue_id, worktree_path, worktree_name, profile_id, status,
	current_stage, created_at, started_at, completed_at, planned_at,
	failure_reason, external_plan, plan_path, plan_json`

// WorkflowRepository persists workflows and their embedded plans.
type WorkflowRepository struct {
	db *sql.DB
}

// NewWorkflowRepository creates a WorkflowRepository over db.
func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// scanWorkflow scans one row into a Workflow, decoding the plan JSON.
func scanWorkflow(scanner interface{ Scan(...any) error }) (*models.Workflow, error) {
	var (
		w            models.Workflow
		currentStage sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		plannedAt    sql.NullTime
		planPath     sql.NullString
		planJSON     sql.NullString
	)
	err := scanner.Scan(
		&w.ID, &w.IssueID, &w.WorktreePath, &w.WorktreeName, &w.ProfileID, &w.Status,
		&currentStage, &w.CreatedAt, &startedAt, &completedAt, &plannedAt,
		&w.FailureReason, &w.ExternalPlan, &planPath, &planJSON,
	)
	if err != nil {
		return nil, err
	}
	if currentStage.Valid {
		stage := models.Stage(currentStage.String)
		w.CurrentStage = &stage
	}
	if startedAt.Valid {
		w.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		w.CompletedAt = &completedAt.Time
	}
	if plannedAt.Valid {
		w.PlannedAt = &plannedAt.Time
	}
	if planPath.Valid {
		w.PlanPath = &planPath.String
	}
	if planJSON.Valid && planJSON.String != "" {
		var plan models.TaskPlan
		if err := json.Unmarshal([]byte(planJSON.String), &plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan for workflow %s: %w", w.ID, err)
		}
		w.Plan = &plan
	}
	return &w, nil
}

// workflowArgs flattens a Workflow into SQL arguments matching workflowColumns
// (minus the leading id).
func workflowArgs(w *models.Workflow) ([]any, error) {
	var currentStage any
	if w.CurrentStage != nil {
		currentStage = string(*w.CurrentStage)
	}
	var planJSON any
	if w.Plan != nil {
		data, err := json.Marshal(w.Plan)
		if err != nil {
			return nil, fmt.Errorf("failed to encode plan: %w", err)
		}
		planJSON = string(data)
	}
	var planPath any
	if w.PlanPath != nil {
		planPath = *w.PlanPath
	}
	return []any{
		w.IssueID, w.WorktreePath, w.WorktreeName, w.ProfileID, string(w.Status),
		currentStage, w.CreatedAt, nullableTime(w.StartedAt), nullableTime(w.CompletedAt),
		nullableTime(w.PlannedAt), w.FailureReason, w.ExternalPlan, planPath, planJSON,
	}, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// Create inserts a new workflow row, assigning an ID and creation time when
// unset.
func (r *WorkflowRepository) Create(ctx context.Context, w *models.Workflow) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	args, err := workflowArgs(w)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{w.ID}, args...)...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

// Get retrieves a workflow by ID. Returns ErrNotFound if absent.
func (r *WorkflowRepository) Get(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return w, nil
}

// Update rewrites all mutable columns of a workflow row.
func (r *WorkflowRepository) Update(ctx context.Context, w *models.Workflow) error {
	args, err := workflowArgs(w)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE workflows SET
			issue_id = ?, worktree_path = ?, worktree_name = ?, profile_id = ?, status = ?,
			current_stage = ?, created_at = ?, started_at = ?, completed_at = ?, planned_at = ?,
			failure_reason = ?, external_plan = ?, plan_path = ?, plan_json = ?
		 WHERE id = ?`,
		append(args, w.ID)...,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus rewrites all mutable columns, guarded on the status the
// caller last observed. A concurrent writer that already moved the workflow
// makes the guard miss and the write is rejected with ErrStaleStatus, so a
// stale in-memory copy can never overwrite a newer state.
func (r *WorkflowRepository) UpdateStatus(ctx context.Context, w *models.Workflow, observed models.Status) error {
	args, err := workflowArgs(w)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE workflows SET
			issue_id = ?, worktree_path = ?, worktree_name = ?, profile_id = ?, status = ?,
			current_stage = ?, created_at = ?, started_at = ?, completed_at = ?, planned_at = ?,
			failure_reason = ?, external_plan = ?, plan_path = ?, plan_json = ?
		 WHERE id = ? AND status = ?`,
		append(args, w.ID, string(observed))...,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return r.checkGuardedWrite(ctx, res, w.ID)
}

// UpdatePlan writes only the plan columns, guarded on the status the caller
// holds. Used by runners that mutate the plan mid-run: the status column is
// never touched, and a workflow moved elsewhere (cancelled, failed) rejects
// the write with ErrStaleStatus.
func (r *WorkflowRepository) UpdatePlan(ctx context.Context, w *models.Workflow, observed models.Status) error {
	var planJSON any
	if w.Plan != nil {
		data, err := json.Marshal(w.Plan)
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		planJSON = string(data)
	}
	var planPath any
	if w.PlanPath != nil {
		planPath = *w.PlanPath
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE workflows SET plan_json = ?, plan_path = ?, planned_at = ?, external_plan = ?
		 WHERE id = ? AND status = ?`,
		planJSON, planPath, nullableTime(w.PlannedAt), w.ExternalPlan, w.ID, string(observed))
	if err != nil {
		return fmt.Errorf("failed to update workflow plan: %w", err)
	}
	return r.checkGuardedWrite(ctx, res, w.ID)
}

// checkGuardedWrite distinguishes a missing row from a failed status guard.
func (r *WorkflowRepository) checkGuardedWrite(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrStaleStatus
}

// Delete removes a workflow. Events and token usage cascade.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns workflows matching the filters, newest first.
func (r *WorkflowRepository) List(ctx context.Context, filters models.WorkflowFilters) ([]*models.Workflow, error) {
	var (
		conds []string
		args  []any
	)
	if filters.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filters.Status))
	}
	if filters.Worktree != "" {
		conds = append(conds, "worktree_path = ?")
		args = append(args, filters.Worktree)
	}
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filters.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filters.Limit)
		if filters.Offset > 0 {
			query += fmt.Sprintf(` OFFSET %d`, filters.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

// ListPending returns workflows in pending status, oldest first (FIFO).
func (r *WorkflowRepository) ListPending(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(models.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending workflows: %w", err)
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

// ListActive returns workflows holding a worktree slot (in_progress or
// blocked), plus those mid-planning, oldest first. Used for checkpointed
// restart and admission bookkeeping.
func (r *WorkflowRepository) ListActive(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows
		 WHERE status IN (?, ?, ?) ORDER BY created_at ASC, id ASC`,
		string(models.StatusInProgress), string(models.StatusBlocked), string(models.StatusPlanning))
	if err != nil {
		return nil, fmt.Errorf("failed to list active workflows: %w", err)
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

// CountActive returns the number of workflows holding a worktree slot
// (in_progress or blocked).
func (r *WorkflowRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflows WHERE status IN (?, ?)`,
		string(models.StatusInProgress), string(models.StatusBlocked)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active workflows: %w", err)
	}
	return n, nil
}

// DeleteTerminalOlderThan prunes terminal workflows that completed before
// cutoff. Events and token usage cascade. Non-terminal workflows are never
// touched regardless of age.
func (r *WorkflowRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM workflows
		 WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		string(models.StatusCompleted), string(models.StatusFailed),
		string(models.StatusCancelled), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune workflows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check prune result: %w", err)
	}
	return n, nil
}

func collectWorkflows(rows *sql.Rows) ([]*models.Workflow, error) {
	var out []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflows: %w", err)
	}
	return out, nil
}
