package models

import (
	"encoding/json"
	"time"
)

// EventType is the closed enum of observable workflow event types.
type EventType string

// Workflow lifecycle events.
const (
	EventWorkflowCreated   EventType = "workflow_created"
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowCancelled EventType = "workflow_cancelled"
)

// Stage and task events.
const (
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"
	EventPlanCompleted  EventType = "plan_completed"
	EventPlanUpdated    EventType = "plan_updated"
	EventTaskStarted    EventType = "task_started"
	EventTaskCompleted  EventType = "task_completed"
	EventTaskFailed     EventType = "task_failed"
)

// Review and approval events.
const (
	EventReviewSubmitted   EventType = "review_submitted"
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalGranted   EventType = "approval_granted"
	EventApprovalRejected  EventType = "approval_rejected"
)

// EventAgentOutput carries streamed agent/tool output. The core persists it
// without interpreting the payload.
const EventAgentOutput EventType = "agent_output"

// Auxiliary families the core stores but does not interpret.
const (
	EventBrainstormMessage EventType = "brainstorm_message"
	EventDocumentIngested  EventType = "document_ingested"
)

// EventTypeValidator reports whether t is a known event type.
func EventTypeValidator(t EventType) bool {
	switch t {
	case EventWorkflowCreated, EventWorkflowStarted, EventWorkflowCompleted,
		EventWorkflowFailed, EventWorkflowCancelled,
		EventStageStarted, EventStageCompleted,
		EventPlanCompleted, EventPlanUpdated,
		EventTaskStarted, EventTaskCompleted, EventTaskFailed,
		EventReviewSubmitted, EventApprovalRequested,
		EventApprovalGranted, EventApprovalRejected,
		EventAgentOutput, EventBrainstormMessage, EventDocumentIngested:
		return true
	}
	return false
}

// IsTerminalEvent reports whether t closes a workflow's event stream.
func IsTerminalEvent(t EventType) bool {
	return t == EventWorkflowCompleted || t == EventWorkflowFailed || t == EventWorkflowCancelled
}

// Event is one append-only observable record. (workflow_id, sequence) is
// unique and gapless within a workflow; sequences start at 1.
type Event struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Sequence   int64           `json:"sequence"`
	Timestamp  time.Time       `json:"timestamp"`
	Agent      string          `json:"agent,omitempty"`
	EventType  EventType       `json:"event_type"`
	Message    string          `json:"message,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  string          `json:"tool_input,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"` // opaque, passed through
}
