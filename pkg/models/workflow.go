// Package models defines the persisted entities and closed enums shared by
// the store, scheduler, agents, and API layers.
package models

import "time"

// Status is the workflow lifecycle state.
type Status string

// Workflow status values. completed, failed, and cancelled are terminal.
const (
	StatusPending    Status = "pending"
	StatusPlanning   Status = "planning"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// StatusValidator reports whether s is a known workflow status.
func StatusValidator(s Status) bool {
	switch s {
	case StatusPending, StatusPlanning, StatusInProgress, StatusBlocked,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether a workflow in this status holds its worktree slot.
// At most one workflow per worktree may be active at any instant.
func (s Status) IsActive() bool {
	return s == StatusInProgress || s == StatusBlocked
}

// transitions is the permitted status graph. Any edge not listed here is a
// bug. Beyond the pipeline edges: pending → cancelled/failed covers
// cancellation and startup-recovery failure of queued workflows, and
// planning → pending is restart recovery restarting an interrupted
// planning run from scratch.
var transitions = map[Status][]Status{
	StatusPending:    {StatusPlanning, StatusInProgress, StatusCancelled, StatusFailed},
	StatusPlanning:   {StatusBlocked, StatusFailed, StatusCancelled, StatusPending},
	StatusBlocked:    {StatusInProgress, StatusCancelled, StatusFailed},
	StatusInProgress: {StatusBlocked, StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Stage identifies which agent currently owns a running workflow.
type Stage string

// Pipeline stages, in execution order.
const (
	StageArchitect Stage = "architect"
	StageDeveloper Stage = "developer"
	StageReviewer  Stage = "reviewer"
)

// Workflow is one end-to-end attempt to implement an issue.
type Workflow struct {
	ID            string     `json:"workflow_id"`
	IssueID       string     `json:"issue_id"`
	WorktreePath  string     `json:"worktree_path"` // absolute
	WorktreeName  string     `json:"worktree_name,omitempty"`
	ProfileID     string     `json:"profile_id"`
	Status        Status     `json:"status"`
	CurrentStage  *Stage     `json:"current_stage,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	PlannedAt     *time.Time `json:"planned_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ExternalPlan  bool       `json:"external_plan"`
	PlanPath      *string    `json:"plan_path,omitempty"`

	// Plan is the structured task plan, nil until the architect (or an
	// external import) produces one. Stored as JSON on the workflow row.
	Plan *TaskPlan `json:"plan,omitempty"`
}

// WorkflowFilters narrows ListWorkflows results.
type WorkflowFilters struct {
	Status   Status `json:"status,omitempty"`
	Worktree string `json:"worktree,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// CreateWorkflowRequest contains fields for creating a new workflow.
type CreateWorkflowRequest struct {
	IssueID         string `json:"issue_id"`
	WorktreePath    string `json:"worktree_path"`
	WorktreeName    string `json:"worktree_name,omitempty"`
	Profile         string `json:"profile,omitempty"` // profile ID; empty = active profile
	TaskTitle       string `json:"task_title,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
	Start           *bool  `json:"start,omitempty"`    // default true
	PlanNow         bool   `json:"plan_now,omitempty"` // queue and run architect eagerly
	PlanFile        string `json:"plan_file,omitempty"`
	PlanContent     string `json:"plan_content,omitempty"`
}

// StartRequested reports the effective value of the optional Start flag.
func (r *CreateWorkflowRequest) StartRequested() bool {
	return r.Start == nil || *r.Start
}

// BatchStartRequest selects pending workflows to start.
// Either explicit IDs or a worktree filter; empty means all pending.
type BatchStartRequest struct {
	WorkflowIDs  []string `json:"workflow_ids,omitempty"`
	WorktreePath string   `json:"worktree_path,omitempty"`
}

// BatchStartResult reports per-workflow outcomes of a batch start.
type BatchStartResult struct {
	Started []string          `json:"started"`
	Errors  map[string]string `json:"errors"`
}
