package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/amelia-dev/amelia/pkg/driver"
	"github.com/amelia-dev/amelia/pkg/models"
)

// Developer executes a plan's tasks in dependency order against the worktree.
// Task statuses are persisted on the workflow's plan after every change so a
// restart can see how far execution got.
type Developer struct {
	deps *Deps
}

// NewDeveloper creates a Developer over shared dependencies.
func NewDeveloper(deps *Deps) *Developer {
	return &Developer{deps: deps}
}

// Run executes every non-completed task in execution order. The driver
// session is threaded across tasks so later tasks keep the context built up
// by earlier ones. Returns the session ID for reuse by revision cycles.
func (d *Developer) Run(ctx context.Context, w *models.Workflow, profile *models.Profile) (string, error) {
	if w.Plan == nil {
		return "", fmt.Errorf("workflow %s has no plan", w.ID)
	}
	cfg := profile.AgentFor(models.StageDeveloper)
	drv := d.deps.Drivers.ForConfig(cfg)

	order, err := w.Plan.ExecutionOrder()
	if err != nil {
		return "", fmt.Errorf("plan is not executable: %w", err)
	}

	sessionID := ""
	for _, taskID := range order {
		task := w.Plan.Task(taskID)
		if task.Status == models.TaskCompleted {
			continue
		}
		if err := d.runTask(ctx, w, cfg, drv, task, &sessionID); err != nil {
			return sessionID, err
		}
	}
	return sessionID, nil
}

// Revise runs one revision cycle addressing reviewer findings, resuming the
// developer session when one exists.
func (d *Developer) Revise(ctx context.Context, w *models.Workflow, profile *models.Profile, sessionID string, verdict *ReviewVerdict) (string, error) {
	cfg := profile.AgentFor(models.StageDeveloper)
	drv := d.deps.Drivers.ForConfig(cfg)

	ch, err := drv.ExecuteAgentic(ctx, driver.AgenticRequest{
		Prompt:       buildRevisionPrompt(verdict),
		Cwd:          w.WorktreePath,
		SessionID:    sessionID,
		Instructions: developerInstructions,
		Model:        cfg.Model,
	})
	if err != nil {
		return sessionID, fmt.Errorf("failed to start revision run: %w", err)
	}
	result, err := d.deps.pumpStream(ctx, w.ID, models.StageDeveloper, ch)
	if err != nil {
		return sessionID, err
	}
	d.deps.recordUsage(ctx, w.ID, cfg.Model, result.Usage)
	if result.IsError {
		return sessionID, fmt.Errorf("revision run failed: %s", result.Content)
	}
	if result.SessionID != "" {
		sessionID = result.SessionID
	}
	return sessionID, nil
}

func (d *Developer) runTask(ctx context.Context, w *models.Workflow, cfg models.AgentConfig, drv driver.Driver, task *models.Task, sessionID *string) error {
	slog.Info("Task started", "workflow_id", w.ID, "task_id", task.ID)
	task.Status = models.TaskInProgress
	if err := d.deps.saveWorkflow(ctx, w); err != nil {
		return fmt.Errorf("failed to persist task start: %w", err)
	}
	if err := d.deps.emit(ctx, &models.Event{
		WorkflowID: w.ID,
		Agent:      string(models.StageDeveloper),
		EventType:  models.EventTaskStarted,
		Message:    task.Description,
		Data:       taskData(task),
	}); err != nil {
		return err
	}

	ch, err := drv.ExecuteAgentic(ctx, driver.AgenticRequest{
		Prompt:       buildDeveloperPrompt(w.Plan, task),
		Cwd:          w.WorktreePath,
		SessionID:    *sessionID,
		Instructions: developerInstructions,
		Model:        cfg.Model,
	})
	if err != nil {
		return d.failTask(ctx, w, task, fmt.Errorf("failed to start task run: %w", err))
	}
	result, err := d.deps.pumpStream(ctx, w.ID, models.StageDeveloper, ch)
	if err != nil {
		return err
	}
	d.deps.recordUsage(ctx, w.ID, cfg.Model, result.Usage)
	if result.SessionID != "" {
		*sessionID = result.SessionID
	}
	if result.IsError {
		return d.failTask(ctx, w, task, fmt.Errorf("task %s failed: %s", task.ID, result.Content))
	}

	task.Status = models.TaskCompleted
	if err := d.deps.saveWorkflow(ctx, w); err != nil {
		return fmt.Errorf("failed to persist task completion: %w", err)
	}
	if err := d.deps.emit(ctx, &models.Event{
		WorkflowID: w.ID,
		Agent:      string(models.StageDeveloper),
		EventType:  models.EventTaskCompleted,
		Message:    task.Description,
		Data:       taskData(task),
	}); err != nil {
		return err
	}
	slog.Info("Task completed", "workflow_id", w.ID, "task_id", task.ID)
	return nil
}

// failTask marks the task failed, persists, emits task_failed, and returns
// the original error for the caller to surface as the failure reason.
func (d *Developer) failTask(ctx context.Context, w *models.Workflow, task *models.Task, cause error) error {
	task.Status = models.TaskFailed
	if err := d.deps.saveWorkflow(ctx, w); err != nil {
		slog.Error("Failed to persist task failure", "workflow_id", w.ID, "task_id", task.ID, "error", err)
	}
	if err := d.deps.emit(ctx, &models.Event{
		WorkflowID: w.ID,
		Agent:      string(models.StageDeveloper),
		EventType:  models.EventTaskFailed,
		Message:    cause.Error(),
		IsError:    true,
		Data:       taskData(task),
	}); err != nil {
		slog.Error("Failed to emit task_failed", "workflow_id", w.ID, "task_id", task.ID, "error", err)
	}
	return cause
}

func taskData(task *models.Task) []byte {
	data, _ := json.Marshal(map[string]string{
		"task_id": task.ID,
		"status":  string(task.Status),
	})
	return data
}
