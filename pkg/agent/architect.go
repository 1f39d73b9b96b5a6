package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/amelia-dev/amelia/pkg/driver"
	"github.com/amelia-dev/amelia/pkg/models"
)

// Architect produces a validated TaskPlan for an issue. It runs an agentic
// exploration of the worktree, then a structured extraction pass that must
// satisfy the plan schema.
type Architect struct {
	deps *Deps
}

// NewArchitect creates an Architect over shared dependencies.
func NewArchitect(deps *Deps) *Architect {
	return &Architect{deps: deps}
}

// ArchitectInput carries the issue text alongside the workflow.
type ArchitectInput struct {
	Workflow        *models.Workflow
	Profile         *models.Profile
	TaskTitle       string
	TaskDescription string
}

// Run executes the planning pipeline: agentic exploration, structured
// extraction, plan validation, and plan file rendering. On success the
// workflow's Plan, PlanPath, and PlannedAt are set and persisted, and
// plan_completed is emitted.
func (a *Architect) Run(ctx context.Context, in ArchitectInput) (*models.TaskPlan, error) {
	w := in.Workflow
	cfg := in.Profile.AgentFor(models.StageArchitect)
	drv := a.deps.Drivers.ForConfig(cfg)

	slog.Info("Architect started", "workflow_id", w.ID, "issue_id", w.IssueID)

	ch, err := drv.ExecuteAgentic(ctx, driver.AgenticRequest{
		Prompt:       buildArchitectPrompt(w, in.TaskTitle, in.TaskDescription),
		Cwd:          w.WorktreePath,
		Instructions: architectInstructions,
		Model:        cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start planning run: %w", err)
	}
	result, err := a.deps.pumpStream(ctx, w.ID, models.StageArchitect, ch)
	if err != nil {
		return nil, err
	}
	a.deps.recordUsage(ctx, w.ID, cfg.Model, result.Usage)
	if result.IsError {
		return nil, fmt.Errorf("planning run failed: %s", result.Content)
	}
	if result.SessionID != "" {
		defer func() {
			if err := drv.CleanupSession(context.WithoutCancel(ctx), result.SessionID); err != nil {
				slog.Warn("Failed to clean up planning session",
					"workflow_id", w.ID, "error", err)
			}
		}()
	}

	plan, err := a.extract(ctx, w, cfg, result.Content)
	if err != nil {
		return nil, err
	}

	if path := PlanFilePath(in.Profile, w); path != "" {
		if err := WritePlanFile(path, RenderPlanMarkdown(w.IssueID, plan)); err != nil {
			slog.Warn("Failed to write plan file", "workflow_id", w.ID, "path", path, "error", err)
		} else {
			w.PlanPath = &path
		}
	}

	now := time.Now().UTC()
	w.Plan = plan
	w.PlannedAt = &now
	if err := a.deps.saveWorkflow(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to persist plan: %w", err)
	}

	data, _ := json.Marshal(plan)
	if err := a.deps.emit(ctx, &models.Event{
		WorkflowID: w.ID,
		Agent:      string(models.StageArchitect),
		EventType:  models.EventPlanCompleted,
		Message:    plan.Goal,
		Data:       data,
	}); err != nil {
		return nil, fmt.Errorf("failed to emit plan_completed: %w", err)
	}

	slog.Info("Architect completed", "workflow_id", w.ID, "tasks", len(plan.Tasks))
	return plan, nil
}

// extract runs the schema-validated pass that turns the planning transcript
// into a structured TaskPlan. The validator model is used when configured.
func (a *Architect) extract(ctx context.Context, w *models.Workflow, cfg models.AgentConfig, transcript string) (*models.TaskPlan, error) {
	model := cfg.ValidatorModel
	if model == "" {
		model = cfg.Model
	}
	drv := a.deps.Drivers.ForConfig(cfg)

	result, err := drv.Generate(ctx, driver.GenerateRequest{
		Prompt: fmt.Sprintf(planExtractionPrompt, transcript),
		Model:  model,
		Schema: models.PlanSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("plan extraction failed: %w", err)
	}
	a.deps.recordUsage(ctx, w.ID, model, result.Usage)

	var plan models.TaskPlan
	if err := json.Unmarshal(result.Structured, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode extracted plan: %w", err)
	}
	normalizePlan(&plan)
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("extracted plan is invalid: %w", err)
	}
	return &plan, nil
}
