package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/amelia-dev/amelia/pkg/agent"
	"github.com/amelia-dev/amelia/pkg/models"
	"github.com/amelia-dev/amelia/pkg/services"
	"github.com/amelia-dev/amelia/pkg/store"
)

// CreateWorkflow validates the request, persists a new workflow, and applies
// the requested admission behavior: start now, queue, or queue-and-plan.
// The workflow is returned even when starting it failed; the caller decides
// how to surface the admission error alongside the created ID.
func (s *Scheduler) CreateWorkflow(ctx context.Context, req *models.CreateWorkflowRequest) (*models.Workflow, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}
	profile, err := s.resolveProfile(ctx, req.Profile)
	if err != nil {
		return nil, err
	}

	w := &models.Workflow{
		IssueID:      req.IssueID,
		WorktreePath: filepath.Clean(req.WorktreePath),
		WorktreeName: req.WorktreeName,
		ProfileID:    profile.ID,
		Status:       models.StatusPending,
	}
	if req.PlanFile != "" || req.PlanContent != "" {
		plan, err := loadExternalPlan(req.PlanFile, req.PlanContent)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		w.Plan = plan
		w.ExternalPlan = true
		w.PlannedAt = &now
	}

	if err := s.store.Workflows.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}
	s.mu.Lock()
	s.issues[w.ID] = issueText{title: req.TaskTitle, description: req.TaskDescription}
	s.mu.Unlock()

	if err := s.emit(ctx, w.ID, "", models.EventWorkflowCreated, "workflow created for issue "+w.IssueID); err != nil {
		return nil, err
	}
	slog.Info("Workflow created", "workflow_id", w.ID,
		"issue_id", w.IssueID, "worktree", w.WorktreePath, "start", req.StartRequested())

	if req.StartRequested() {
		return w, s.StartPendingWorkflow(ctx, w.ID)
	}
	if req.PlanNow && w.Plan == nil {
		s.planWorkflowAsync(w, profile)
	}
	return w, nil
}

// StartPendingWorkflow admits one pending workflow: takes the worktree slot
// under the concurrency cap, transitions out of pending, and spawns the
// execution task.
func (s *Scheduler) StartPendingWorkflow(ctx context.Context, id string) error {
	w, err := s.getWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if w.Status != models.StatusPending {
		return fmt.Errorf("%w: workflow %s is %s, start requires pending",
			services.ErrWrongState, id, w.Status)
	}
	return s.admitAndSpawn(ctx, w, false)
}

// StartBatchWorkflows starts candidates sequentially, collecting per-id
// errors. Explicit IDs are honored in order; otherwise all pending workflows
// are candidates, optionally narrowed by worktree. First admission per
// worktree wins; later candidates record a WorktreeConflict.
func (s *Scheduler) StartBatchWorkflows(ctx context.Context, req *models.BatchStartRequest) (*models.BatchStartResult, error) {
	var candidates []string
	if len(req.WorkflowIDs) > 0 {
		candidates = req.WorkflowIDs
	} else {
		pending, err := s.store.Workflows.ListPending(ctx)
		if err != nil {
			return nil, err
		}
		for _, w := range pending {
			if req.WorktreePath != "" && w.WorktreePath != filepath.Clean(req.WorktreePath) {
				continue
			}
			candidates = append(candidates, w.ID)
		}
	}

	result := &models.BatchStartResult{
		Started: []string{},
		Errors:  make(map[string]string),
	}
	for _, id := range candidates {
		if err := s.StartPendingWorkflow(ctx, id); err != nil {
			result.Errors[id] = services.Kind(err)
			continue
		}
		result.Started = append(result.Started, id)
	}
	return result, nil
}

// CancelWorkflow requests cancellation. Idempotent: terminal workflows are a
// no-op success. Running workflows unwind cooperatively; queued ones are
// cancelled in place.
func (s *Scheduler) CancelWorkflow(ctx context.Context, id string) error {
	w, err := s.getWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if w.Status.IsTerminal() {
		return nil
	}

	s.mu.Lock()
	r := s.runs[id]
	s.mu.Unlock()
	if r != nil {
		slog.Info("Cancelling running workflow", "workflow_id", id)
		r.cancel()
		return nil
	}

	// No supervising task: pending, or pending with a background planner.
	if err := s.transition(ctx, w, models.StatusCancelled); err != nil {
		return err
	}
	return s.emit(ctx, w.ID, "", models.EventWorkflowCancelled, "workflow cancelled before start")
}

// ApprovePlan resolves a blocked workflow's approval gate positively.
func (s *Scheduler) ApprovePlan(ctx context.Context, id string) error {
	return s.decide(ctx, id, true)
}

// RejectPlan resolves a blocked workflow's approval gate negatively.
func (s *Scheduler) RejectPlan(ctx context.Context, id string) error {
	return s.decide(ctx, id, false)
}

func (s *Scheduler) decide(ctx context.Context, id string, approved bool) error {
	w, err := s.getWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if w.Status != models.StatusBlocked {
		return fmt.Errorf("%w: workflow %s is %s, approval requires blocked",
			services.ErrWrongState, id, w.Status)
	}
	s.mu.Lock()
	r := s.runs[id]
	s.mu.Unlock()
	if r == nil {
		return fmt.Errorf("%w: workflow %s has no supervising task", services.ErrWrongState, id)
	}
	select {
	case r.decisions <- approved:
		return nil
	default:
		return fmt.Errorf("%w: a decision for workflow %s is already pending",
			services.ErrWrongState, id)
	}
}

// SetExternalPlan imports a plan for a queued workflow. Requires pending
// status, no background planner, and either no existing plan or force.
func (s *Scheduler) SetExternalPlan(ctx context.Context, id, planFile, planContent string, force bool) (*models.Workflow, error) {
	if planFile != "" && planContent != "" {
		return nil, services.NewValidationError("plan", "plan_file and plan_content are mutually exclusive")
	}
	if planFile == "" && planContent == "" {
		return nil, services.NewValidationError("plan", "one of plan_file or plan_content is required")
	}

	w, err := s.getWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: workflow %s is %s, plan import requires pending",
			services.ErrWrongState, id, w.Status)
	}
	s.mu.Lock()
	busy := s.planning[id]
	s.mu.Unlock()
	if busy {
		return nil, fmt.Errorf("%w: workflow %s is being planned", services.ErrWrongState, id)
	}
	if w.Plan != nil && !force {
		return nil, fmt.Errorf("%w: workflow %s already has a plan", services.ErrWrongState, id)
	}

	plan, err := loadExternalPlan(planFile, planContent)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	w.Plan = plan
	w.ExternalPlan = true
	w.PlannedAt = &now
	if err := s.store.Workflows.UpdatePlan(ctx, w, models.StatusPending); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return nil, fmt.Errorf("%w: workflow %s left pending concurrently",
				services.ErrWrongState, id)
		}
		return nil, fmt.Errorf("failed to persist imported plan: %w", err)
	}
	if err := s.emit(ctx, w.ID, "", models.EventPlanUpdated, "external plan imported"); err != nil {
		return nil, err
	}
	return w, nil
}

// admitAndSpawn takes the worktree slot and concurrency budget, applies the
// initial status transition, and launches the execution task. resuming skips
// the initial transition because the workflow is already mid-flight.
func (s *Scheduler) admitAndSpawn(ctx context.Context, w *models.Workflow, resuming bool) error {
	settings, err := s.settings(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		workflowID: w.ID,
		worktree:   w.WorktreePath,
		cancel:     cancel,
		decisions:  make(chan bool, 1),
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: scheduler is shutting down", services.ErrWrongState)
	}
	if holder, taken := s.slots[w.WorktreePath]; taken {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: worktree %s is held by workflow %s",
			services.ErrWorktreeConflict, w.WorktreePath, holder.workflowID)
	}
	if len(s.runs) >= settings.MaxConcurrent {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %d workflows already running",
			services.ErrConcurrencyLimit, settings.MaxConcurrent)
	}
	s.slots[w.WorktreePath] = r
	s.runs[w.ID] = r
	s.mu.Unlock()

	if !resuming {
		// The start handshake (initial transition plus its event) is bounded
		// by workflow_start_timeout_seconds so a wedged database cannot hang
		// the admission caller.
		startCtx, startCancel := context.WithTimeout(ctx, settings.WorkflowStartTimeout())
		defer startCancel()

		target := models.StatusPlanning
		if w.Plan != nil {
			target = models.StatusInProgress
		}
		if err := s.transition(startCtx, w, target); err != nil {
			s.release(r)
			cancel()
			return err
		}
		eventType := models.EventWorkflowStarted
		message := "workflow started"
		if target == models.StatusPlanning {
			eventType = models.EventStageStarted
			message = "architect planning started"
		}
		if err := s.emit(startCtx, w.ID, stageAgent(w), eventType, message); err != nil {
			s.release(r)
			cancel()
			return err
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(r.done)
		defer s.release(r)
		s.execute(runCtx, r, w)
	}()
	return nil
}

// release frees the worktree slot and run registration.
func (s *Scheduler) release(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots[r.worktree] == r {
		delete(s.slots, r.worktree)
	}
	delete(s.runs, r.workflowID)
}

// planWorkflowAsync runs the architect in the background for a queued
// workflow. The workflow stays pending; only the plan fields change.
func (s *Scheduler) planWorkflowAsync(w *models.Workflow, profile *models.Profile) {
	s.mu.Lock()
	if s.planning[w.ID] || s.draining {
		s.mu.Unlock()
		return
	}
	s.planning[w.ID] = true
	issue := s.issues[w.ID]
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.planning, w.ID)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PhaseTimeout)
		defer cancel()

		// Re-read: the workflow may have been cancelled since queueing.
		current, err := s.getWorkflow(ctx, w.ID)
		if err != nil || current.Status != models.StatusPending {
			return
		}
		if _, err := s.architect.Run(ctx, agent.ArchitectInput{
			Workflow:        current,
			Profile:         profile,
			TaskTitle:       issue.title,
			TaskDescription: issue.description,
		}); err != nil {
			if errors.Is(err, store.ErrStaleStatus) {
				// Cancelled while planning; the plan is discarded.
				slog.Info("Workflow left pending during background planning",
					"workflow_id", w.ID)
				return
			}
			slog.Error("Background planning failed", "workflow_id", w.ID, "error", err)
		}
	}()
}

// GetWorkflow returns one workflow by ID.
func (s *Scheduler) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	return s.getWorkflow(ctx, id)
}

func (s *Scheduler) getWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	w, err := s.store.Workflows.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: workflow %s", services.ErrNotFound, id)
	}
	return w, err
}

// resolveProfile returns the named profile, or the active one when id is
// empty.
func (s *Scheduler) resolveProfile(ctx context.Context, id string) (*models.Profile, error) {
	if id == "" {
		p, err := s.store.Profiles.GetActive(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no active profile", services.ErrNotFound)
		}
		return p, err
	}
	p, err := s.store.Profiles.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, services.NewValidationError("profile", fmt.Sprintf("unknown profile %q", id))
	}
	return p, err
}

func validateCreateRequest(req *models.CreateWorkflowRequest) error {
	if req.IssueID == "" {
		return services.NewValidationError("issue_id", "required")
	}
	if req.WorktreePath == "" {
		return services.NewValidationError("worktree_path", "required")
	}
	if !filepath.IsAbs(req.WorktreePath) {
		return services.NewValidationError("worktree_path", "must be absolute")
	}
	info, err := os.Stat(req.WorktreePath)
	if err != nil || !info.IsDir() {
		return services.NewValidationError("worktree_path", "directory does not exist")
	}
	if req.PlanFile != "" && req.PlanContent != "" {
		return services.NewValidationError("plan", "plan_file and plan_content are mutually exclusive")
	}
	return nil
}

// loadExternalPlan reads and validates a plan from a file path or inline
// content.
func loadExternalPlan(planFile, planContent string) (*models.TaskPlan, error) {
	content := planContent
	if planFile != "" {
		raw, err := os.ReadFile(planFile)
		if err != nil {
			return nil, services.NewValidationError("plan_file", fmt.Sprintf("unreadable: %v", err))
		}
		content = string(raw)
	}
	plan, err := agent.ParsePlan(content)
	if err != nil {
		return nil, services.NewValidationError("plan", err.Error())
	}
	return plan, nil
}
