package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/amelia-dev/amelia/pkg/models"
)

// ParsePlan decodes a plan document. The document is either a bare JSON
// TaskPlan or text containing one fenced ```json block with the plan. Every
// parsed plan is validated before it is accepted.
func ParsePlan(content string) (*models.TaskPlan, error) {
	raw := strings.TrimSpace(content)
	if idx := strings.Index(raw, "```json"); idx >= 0 {
		rest := raw[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			raw = strings.TrimSpace(rest[:end])
		}
	}

	var plan models.TaskPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("plan is not a JSON task plan: %w", err)
	}
	normalizePlan(&plan)
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &plan, nil
}

// normalizePlan fills defaulted task fields after decoding.
func normalizePlan(plan *models.TaskPlan) {
	for i := range plan.Tasks {
		if plan.Tasks[i].Agent == "" {
			plan.Tasks[i].Agent = "developer"
		}
		if plan.Tasks[i].Status == "" {
			plan.Tasks[i].Status = models.TaskPending
		}
	}
}

// RenderPlanMarkdown renders the plan as the markdown document written next
// to the worktree for humans to read.
func RenderPlanMarkdown(issueID string, plan *models.TaskPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Plan: %s\n\n", issueID)
	fmt.Fprintf(&b, "**Goal:** %s\n\n", plan.Goal)
	if len(plan.KeyFiles) > 0 {
		b.WriteString("## Key files\n\n")
		for _, f := range plan.KeyFiles {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
		b.WriteString("\n")
	}
	b.WriteString("## Tasks\n\n")
	for _, t := range plan.Tasks {
		fmt.Fprintf(&b, "- **%s**: %s", t.ID, t.Description)
		if len(t.Dependencies) > 0 {
			fmt.Fprintf(&b, " _(after %s)_", strings.Join(t.Dependencies, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// PlanFilePath resolves where the plan markdown for a workflow is written.
// The pattern supports {issue_id}, {workflow_id}, and {worktree_name}
// placeholders. Empty plan_output_dir means no file is written.
func PlanFilePath(profile *models.Profile, w *models.Workflow) string {
	if profile.PlanOutputDir == "" {
		return ""
	}
	pattern := profile.PlanPathPattern
	if pattern == "" {
		pattern = "{issue_id}-plan.md"
	}
	name := strings.NewReplacer(
		"{issue_id}", w.IssueID,
		"{workflow_id}", w.ID,
		"{worktree_name}", w.WorktreeName,
	).Replace(pattern)
	return filepath.Join(profile.PlanOutputDir, name)
}

// WritePlanFile writes the rendered plan markdown, creating the output
// directory if needed.
func WritePlanFile(path, markdown string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create plan directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}
