package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/amelia-dev/amelia/pkg/driver"
	"github.com/amelia-dev/amelia/pkg/models"
)

// ReviewVerdict is the reviewer's structured judgment of one diff.
type ReviewVerdict struct {
	Approved bool     `json:"approved"`
	Summary  string   `json:"summary"`
	Issues   []string `json:"issues,omitempty"`
}

// VerdictSchema constrains the reviewer's structured extraction pass.
const VerdictSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["approved", "summary"],
  "properties": {
    "approved": {"type": "boolean"},
    "summary": {"type": "string", "minLength": 1},
    "issues": {"type": "array", "items": {"type": "string"}}
  }
}`

// Reviewer critiques the worktree diff against the plan and produces a
// structured verdict. Revision cycling on rejection is the scheduler's call.
type Reviewer struct {
	deps *Deps
}

// NewReviewer creates a Reviewer over shared dependencies.
func NewReviewer(deps *Deps) *Reviewer {
	return &Reviewer{deps: deps}
}

// Run performs one review pass and emits review_submitted with the verdict.
func (r *Reviewer) Run(ctx context.Context, w *models.Workflow, profile *models.Profile, iteration int) (*ReviewVerdict, error) {
	cfg := profile.AgentFor(models.StageReviewer)
	drv := r.deps.Drivers.ForConfig(cfg)

	slog.Info("Review started", "workflow_id", w.ID, "iteration", iteration)

	ch, err := drv.ExecuteAgentic(ctx, driver.AgenticRequest{
		Prompt:       buildReviewerPrompt(w.Plan, iteration),
		Cwd:          w.WorktreePath,
		Instructions: reviewerInstructions,
		Model:        cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start review run: %w", err)
	}
	result, err := r.deps.pumpStream(ctx, w.ID, models.StageReviewer, ch)
	if err != nil {
		return nil, err
	}
	r.deps.recordUsage(ctx, w.ID, cfg.Model, result.Usage)
	if result.IsError {
		return nil, fmt.Errorf("review run failed: %s", result.Content)
	}

	verdict, err := r.extract(ctx, w, cfg, result.Content)
	if err != nil {
		return nil, err
	}

	data, _ := json.Marshal(verdict)
	if err := r.deps.emit(ctx, &models.Event{
		WorkflowID: w.ID,
		Agent:      string(models.StageReviewer),
		EventType:  models.EventReviewSubmitted,
		Message:    verdict.Summary,
		IsError:    !verdict.Approved,
		Data:       data,
	}); err != nil {
		return nil, fmt.Errorf("failed to emit review_submitted: %w", err)
	}

	slog.Info("Review completed", "workflow_id", w.ID,
		"iteration", iteration, "approved", verdict.Approved)
	return verdict, nil
}

func (r *Reviewer) extract(ctx context.Context, w *models.Workflow, cfg models.AgentConfig, transcript string) (*ReviewVerdict, error) {
	drv := r.deps.Drivers.ForConfig(cfg)
	result, err := drv.Generate(ctx, driver.GenerateRequest{
		Prompt: fmt.Sprintf(`Extract the review below into a JSON object with "approved"
(boolean), "summary" (string), and "issues" (array of strings, empty when
approved). Respond with only the JSON object.

Review:
%s`, transcript),
		Model:  cfg.Model,
		Schema: VerdictSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("verdict extraction failed: %w", err)
	}
	r.deps.recordUsage(ctx, w.ID, cfg.Model, result.Usage)

	var verdict ReviewVerdict
	if err := json.Unmarshal(result.Structured, &verdict); err != nil {
		return nil, fmt.Errorf("failed to decode verdict: %w", err)
	}
	return &verdict, nil
}
