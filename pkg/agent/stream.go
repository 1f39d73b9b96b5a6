package agent

import (
	"context"
	"fmt"

	"github.com/amelia-dev/amelia/pkg/driver"
	"github.com/amelia-dev/amelia/pkg/models"
)

// pumpStream drains one agentic run, mirroring messages onto the event bus,
// and returns the terminal result. The channel is finite and ends with a
// ResultMessage; a closed channel without one means the run was cancelled.
func (d *Deps) pumpStream(ctx context.Context, workflowID string, stage models.Stage, ch <-chan driver.AgenticMessage) (*driver.ResultMessage, error) {
	for msg := range ch {
		switch m := msg.(type) {
		case *driver.ThinkingMessage:
			d.emitOutput(ctx, &models.Event{
				WorkflowID: workflowID,
				Agent:      string(stage),
				Message:    m.Content,
			})
		case *driver.ToolCallMessage:
			d.emitOutput(ctx, &models.Event{
				WorkflowID: workflowID,
				Agent:      string(stage),
				ToolName:   m.ToolName,
				ToolInput:  m.ToolInput,
			})
		case *driver.ToolResultMessage:
			if !d.StreamToolResults && !m.IsError {
				continue
			}
			d.emitOutput(ctx, &models.Event{
				WorkflowID: workflowID,
				Agent:      string(stage),
				Message:    m.ToolOutput,
				IsError:    m.IsError,
			})
		case *driver.ResultMessage:
			return m, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("agent stream ended without a result")
}
