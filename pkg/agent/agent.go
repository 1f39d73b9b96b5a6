// Package agent implements the pipeline runners: architect (plan generator),
// developer (task executor), and reviewer (critique loop). Runners are
// stateless over their dependencies; per-run state lives on the workflow.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/amelia-dev/amelia/pkg/bus"
	"github.com/amelia-dev/amelia/pkg/driver"
	"github.com/amelia-dev/amelia/pkg/models"
	"github.com/amelia-dev/amelia/pkg/store"
)

// Deps bundles what every runner needs: driver selection, event emission,
// workflow persistence, and usage accounting.
type Deps struct {
	Drivers    *driver.Registry
	Bus        *bus.Bus
	Workflows  *store.WorkflowRepository
	TokenUsage *store.TokenUsageRepository

	// StreamToolResults controls whether tool_result payloads are emitted
	// as agent_output events or only tool calls.
	StreamToolResults bool
}

// emit persists and fans out one event. Lifecycle events propagate failures;
// streaming output uses emitOutput instead.
func (d *Deps) emit(ctx context.Context, e *models.Event) error {
	return d.Bus.Emit(ctx, e)
}

// emitOutput emits a best-effort agent_output event. Streaming output is
// observability, not state; a failed write is logged and skipped.
func (d *Deps) emitOutput(ctx context.Context, e *models.Event) {
	e.EventType = models.EventAgentOutput
	if err := d.Bus.Emit(ctx, e); err != nil {
		slog.Warn("Failed to emit agent output event",
			"workflow_id", e.WorkflowID, "error", err)
	}
}

// recordUsage appends a token usage row. Accounting failures never fail a run.
func (d *Deps) recordUsage(ctx context.Context, workflowID, model string, usage driver.Usage) {
	if usage.InputTokens == 0 && usage.OutputTokens == 0 && usage.DurationMS == 0 {
		return
	}
	row := &models.TokenUsage{
		WorkflowID:   workflowID,
		Model:        model,
		Timestamp:    time.Now().UTC(),
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      usage.CostUSD,
		DurationMS:   usage.DurationMS,
	}
	if err := d.TokenUsage.Append(ctx, row); err != nil {
		slog.Warn("Failed to record token usage",
			"workflow_id", workflowID, "model", model, "error", err)
	}
}

// saveWorkflow persists the plan-side mutations a runner makes (plan, task
// statuses, plan path). Only plan columns are written, guarded on the status
// the runner holds: a workflow cancelled or failed underneath a long driver
// call rejects the write with store.ErrStaleStatus instead of being
// resurrected by a stale row image.
func (d *Deps) saveWorkflow(ctx context.Context, w *models.Workflow) error {
	return d.Workflows.UpdatePlan(ctx, w, w.Status)
}
