package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/amelia-dev/amelia/pkg/agent"
	"github.com/amelia-dev/amelia/pkg/driver"
	"github.com/amelia-dev/amelia/pkg/models"
	"github.com/amelia-dev/amelia/pkg/services"
	"github.com/amelia-dev/amelia/pkg/store"
)

// errFinalized signals that the pipeline already drove the workflow to a
// terminal state and emitted its terminal event.
var errFinalized = errors.New("workflow finalized")

// finalizeTimeout bounds the persistence of a terminal state after the run
// context is gone.
const finalizeTimeout = 10 * time.Second

// execute supervises one workflow end to end. It owns all status transitions
// after admission and guarantees exactly one terminal event.
func (s *Scheduler) execute(ctx context.Context, r *run, w *models.Workflow) {
	profile, err := s.resolveProfile(context.WithoutCancel(ctx), w.ProfileID)
	if err != nil {
		s.failWorkflow(context.WithoutCancel(ctx), w, fmt.Sprintf("profile unavailable: %v", err))
		return
	}

	err = s.runPipeline(ctx, r, w, profile)
	switch {
	case err == nil:
	case errors.Is(err, errFinalized):
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		s.cancelWorkflowRun(w)
	default:
		s.failWorkflow(context.WithoutCancel(ctx), w, err.Error())
	}
}

// runPipeline walks the phases: architect (unless planned), plan approval
// gate, developer, then the review loop.
func (s *Scheduler) runPipeline(ctx context.Context, r *run, w *models.Workflow, profile *models.Profile) error {
	// Architect phase, for workflows admitted without a plan.
	if w.Status == models.StatusPlanning {
		if err := s.architectPhase(ctx, w, profile); err != nil {
			return err
		}
		if err := s.planGate(ctx, r, w); err != nil {
			return err
		}
	}

	// A resumed workflow parked at an approval gate waits here again.
	if w.Status == models.StatusBlocked {
		if err := s.resumeGate(ctx, r, w); err != nil {
			return err
		}
	}

	if err := s.developerPhase(ctx, w, profile); err != nil {
		return err
	}
	return s.reviewLoop(ctx, r, w, profile)
}

func (s *Scheduler) architectPhase(ctx context.Context, w *models.Workflow, profile *models.Profile) error {
	s.setStage(ctx, w, models.StageArchitect)
	s.mu.Lock()
	issue := s.issues[w.ID]
	s.mu.Unlock()

	err := s.withRetry(ctx, w.ID, "architect", func(phaseCtx context.Context) error {
		_, err := s.architect.Run(phaseCtx, agent.ArchitectInput{
			Workflow:        w,
			Profile:         profile,
			TaskTitle:       issue.title,
			TaskDescription: issue.description,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("architect phase: %w", err)
	}
	return s.emit(ctx, w.ID, string(models.StageArchitect),
		models.EventStageCompleted, "architect planning completed")
}

// planGate blocks the workflow until a human approves or rejects the plan.
// Rejection of the initial plan cancels the workflow.
func (s *Scheduler) planGate(ctx context.Context, r *run, w *models.Workflow) error {
	if err := s.transition(ctx, w, models.StatusBlocked); err != nil {
		return err
	}
	if err := s.emit(ctx, w.ID, "", models.EventApprovalRequested, "plan awaiting approval"); err != nil {
		return err
	}

	approved, err := s.waitDecision(ctx, r)
	if err != nil {
		return err
	}
	if !approved {
		if err := s.emit(ctx, w.ID, "", models.EventApprovalRejected, "plan rejected"); err != nil {
			return err
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
		if err := s.transition(fctx, w, models.StatusCancelled); err != nil {
			return err
		}
		if err := s.emit(fctx, w.ID, "", models.EventWorkflowCancelled, "workflow cancelled after plan rejection"); err != nil {
			return err
		}
		return errFinalized
	}

	if err := s.emit(ctx, w.ID, "", models.EventApprovalGranted, "plan approved"); err != nil {
		return err
	}
	if err := s.transition(ctx, w, models.StatusInProgress); err != nil {
		return err
	}
	return s.emit(ctx, w.ID, "", models.EventWorkflowStarted, "workflow started")
}

// resumeGate replays the approval gate for a workflow recovered in blocked
// state. Approval continues the pipeline; rejection fails the workflow (the
// context that produced the gate is gone, so a clean cancel is not assumed).
func (s *Scheduler) resumeGate(ctx context.Context, r *run, w *models.Workflow) error {
	if err := s.emit(ctx, w.ID, "", models.EventApprovalRequested, "approval re-requested after restart"); err != nil {
		return err
	}
	approved, err := s.waitDecision(ctx, r)
	if err != nil {
		return err
	}
	if !approved {
		if err := s.emit(ctx, w.ID, "", models.EventApprovalRejected, "rejected after restart"); err != nil {
			return err
		}
		s.failWorkflow(context.WithoutCancel(ctx), w, "rejected_after_restart")
		return errFinalized
	}
	if err := s.emit(ctx, w.ID, "", models.EventApprovalGranted, "approved after restart"); err != nil {
		return err
	}
	return s.transition(ctx, w, models.StatusInProgress)
}

func (s *Scheduler) developerPhase(ctx context.Context, w *models.Workflow, profile *models.Profile) error {
	s.setStage(ctx, w, models.StageDeveloper)
	if err := s.emit(ctx, w.ID, string(models.StageDeveloper),
		models.EventStageStarted, "developer execution started"); err != nil {
		return err
	}
	err := s.withRetry(ctx, w.ID, "developer", func(phaseCtx context.Context) error {
		_, err := s.developer.Run(phaseCtx, w, profile)
		return err
	})
	if err != nil {
		return fmt.Errorf("developer phase: %w", err)
	}
	return s.emit(ctx, w.ID, string(models.StageDeveloper),
		models.EventStageCompleted, "developer execution completed")
}

// reviewLoop runs review passes with optional revision cycles until approval,
// exhaustion, or human rejection.
func (s *Scheduler) reviewLoop(ctx context.Context, r *run, w *models.Workflow, profile *models.Profile) error {
	cfg := profile.AgentFor(models.StageReviewer)
	maxIterations := cfg.MaxIterations
	if maxIterations < 1 {
		maxIterations = 1
	}

	sessionID := ""
	for iteration := 1; iteration <= maxIterations; iteration++ {
		s.setStage(ctx, w, models.StageReviewer)
		if err := s.emit(ctx, w.ID, string(models.StageReviewer),
			models.EventStageStarted, fmt.Sprintf("review iteration %d started", iteration)); err != nil {
			return err
		}

		var verdict *agent.ReviewVerdict
		err := s.withRetry(ctx, w.ID, "reviewer", func(phaseCtx context.Context) error {
			v, err := s.reviewer.Run(phaseCtx, w, profile, iteration)
			if err != nil {
				return err
			}
			verdict = v
			return nil
		})
		if err != nil {
			return fmt.Errorf("reviewer phase: %w", err)
		}
		if err := s.emit(ctx, w.ID, string(models.StageReviewer),
			models.EventStageCompleted, fmt.Sprintf("review iteration %d completed", iteration)); err != nil {
			return err
		}

		if verdict.Approved {
			return s.completeWorkflow(ctx, w)
		}
		if iteration == maxIterations {
			s.failWorkflow(context.WithoutCancel(ctx), w, "review_rejected")
			return errFinalized
		}

		if !cfg.AutoApproveReviews {
			proceed, err := s.reviewGate(ctx, r, w, verdict)
			if err != nil {
				return err
			}
			if !proceed {
				return errFinalized
			}
		}

		s.setStage(ctx, w, models.StageDeveloper)
		err = s.withRetry(ctx, w.ID, "revision", func(phaseCtx context.Context) error {
			next, err := s.developer.Revise(phaseCtx, w, profile, sessionID, verdict)
			if err != nil {
				return err
			}
			sessionID = next
			return nil
		})
		if err != nil {
			return fmt.Errorf("revision cycle: %w", err)
		}
	}
	return nil
}

// reviewGate blocks after a rejection awaiting the human call: approve means
// run a revision cycle, reject means fail the workflow. Returns whether the
// pipeline proceeds.
func (s *Scheduler) reviewGate(ctx context.Context, r *run, w *models.Workflow, verdict *agent.ReviewVerdict) (bool, error) {
	if err := s.transition(ctx, w, models.StatusBlocked); err != nil {
		return false, err
	}
	if err := s.emit(ctx, w.ID, "", models.EventApprovalRequested,
		"review rejected: "+verdict.Summary); err != nil {
		return false, err
	}

	approved, err := s.waitDecision(ctx, r)
	if err != nil {
		return false, err
	}
	if !approved {
		if err := s.emit(ctx, w.ID, "", models.EventApprovalRejected, "revision declined"); err != nil {
			return false, err
		}
		s.failWorkflow(context.WithoutCancel(ctx), w, "review_rejected")
		return false, nil
	}
	if err := s.emit(ctx, w.ID, "", models.EventApprovalGranted, "revision approved"); err != nil {
		return false, err
	}
	return true, s.transition(ctx, w, models.StatusInProgress)
}

func (s *Scheduler) waitDecision(ctx context.Context, r *run) (bool, error) {
	select {
	case approved := <-r.decisions:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *Scheduler) completeWorkflow(ctx context.Context, w *models.Workflow) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := s.transition(fctx, w, models.StatusCompleted); err != nil {
		return err
	}
	if err := s.emit(fctx, w.ID, "", models.EventWorkflowCompleted, "workflow completed"); err != nil {
		return err
	}
	slog.Info("Workflow completed", "workflow_id", w.ID, "issue_id", w.IssueID)
	return nil
}

// failWorkflow drives the workflow to failed with the given reason. Errors
// here are invariant breaches: logged loudly, never propagated.
func (s *Scheduler) failWorkflow(ctx context.Context, w *models.Workflow, reason string) {
	fctx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	defer cancel()

	w.FailureReason = reason
	if err := s.transition(fctx, w, models.StatusFailed); err != nil {
		slog.Error("Failed to mark workflow failed",
			"workflow_id", w.ID, "reason", reason, "error", err)
		return
	}
	if err := s.emit(fctx, w.ID, "", models.EventWorkflowFailed, reason); err != nil {
		slog.Error("Failed to emit workflow_failed", "workflow_id", w.ID, "error", err)
	}
	slog.Info("Workflow failed", "workflow_id", w.ID, "reason", reason)
}

// cancelWorkflowRun finalizes a cooperative cancellation.
func (s *Scheduler) cancelWorkflowRun(w *models.Workflow) {
	fctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := s.transition(fctx, w, models.StatusCancelled); err != nil {
		slog.Error("Failed to mark workflow cancelled", "workflow_id", w.ID, "error", err)
		return
	}
	if err := s.emit(fctx, w.ID, "", models.EventWorkflowCancelled, "workflow cancelled"); err != nil {
		slog.Error("Failed to emit workflow_cancelled", "workflow_id", w.ID, "error", err)
	}
	slog.Info("Workflow cancelled", "workflow_id", w.ID)
}

// transition applies one legal status change and persists it. Timestamps
// follow the target state. The write is guarded on the status the caller
// holds, so two racing transitions resolve to first-writer-wins and the
// loser gets WrongState instead of silently clobbering the row.
func (s *Scheduler) transition(ctx context.Context, w *models.Workflow, to models.Status) error {
	if !models.CanTransition(w.Status, to) {
		return fmt.Errorf("%w: %s cannot transition %s → %s",
			services.ErrWrongState, w.ID, w.Status, to)
	}
	now := time.Now().UTC()
	from := w.Status
	w.Status = to
	if to == models.StatusInProgress && w.StartedAt == nil {
		w.StartedAt = &now
	}
	if to.IsTerminal() {
		w.CompletedAt = &now
	}
	if err := s.store.Workflows.UpdateStatus(ctx, w, from); err != nil {
		w.Status = from
		if errors.Is(err, store.ErrStaleStatus) {
			return fmt.Errorf("%w: workflow %s left %s concurrently",
				services.ErrWrongState, w.ID, from)
		}
		return fmt.Errorf("failed to persist transition %s → %s: %w", from, to, err)
	}
	slog.Debug("Workflow transition", "workflow_id", w.ID, "from", from, "to", to)
	return nil
}

// setStage records which agent owns the workflow. Best-effort: the stage is
// observability, the status is the state machine.
func (s *Scheduler) setStage(ctx context.Context, w *models.Workflow, stage models.Stage) {
	w.CurrentStage = &stage
	if err := s.store.Workflows.UpdateStatus(ctx, w, w.Status); err != nil {
		slog.Warn("Failed to persist current stage",
			"workflow_id", w.ID, "stage", stage, "error", err)
	}
}

// stageAgent is the agent label for events emitted at admission time.
func stageAgent(w *models.Workflow) string {
	if w.CurrentStage != nil {
		return string(*w.CurrentStage)
	}
	return ""
}

// emit persists and fans out one scheduler event.
func (s *Scheduler) emit(ctx context.Context, workflowID, agentName string, t models.EventType, message string) error {
	return s.bus.Emit(ctx, &models.Event{
		WorkflowID: workflowID,
		Agent:      agentName,
		EventType:  t,
		Message:    message,
	})
}

// withRetry runs one phase with a timeout per attempt and exponential backoff
// on transient failures, up to the configured retry cap. Non-transient errors
// and cancellation stop immediately.
func (s *Scheduler) withRetry(ctx context.Context, workflowID, phase string, fn func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryInitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.cfg.PhaseRetries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		phaseCtx, cancel := context.WithTimeout(ctx, s.cfg.PhaseTimeout)
		defer cancel()

		err := fn(phaseCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if driver.IsTransient(err) {
			slog.Warn("Phase attempt failed, will retry",
				"workflow_id", workflowID, "phase", phase, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
