// Package scheduler is the orchestrator core: it admits workflows under
// per-worktree mutual exclusion and a global concurrency cap, supervises
// their execution tasks, owns approval gates and cancellation, and recovers
// interrupted workflows on startup.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/amelia-dev/amelia/pkg/agent"
	"github.com/amelia-dev/amelia/pkg/bus"
	"github.com/amelia-dev/amelia/pkg/config"
	"github.com/amelia-dev/amelia/pkg/models"
	"github.com/amelia-dev/amelia/pkg/store"
)

// Scheduler owns workflow admission and supervision. One instance per process.
type Scheduler struct {
	store *store.Store
	bus   *bus.Bus
	cfg   config.SchedulerConfig

	architect *agent.Architect
	developer *agent.Developer
	reviewer  *agent.Reviewer

	mu sync.Mutex
	// slots maps worktree_path to the run holding its single-writer slot.
	slots map[string]*run
	// runs maps workflow_id to its supervised execution task.
	runs map[string]*run
	// planning tracks background architect tasks for queued workflows.
	planning map[string]bool
	// issues caches issue text passed at creation, keyed by workflow_id.
	issues map[string]issueText

	draining bool
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// issueText is the title/description supplied at workflow creation. It is
// prompt material, not durable state.
type issueText struct {
	title       string
	description string
}

// run is one supervised execution task.
type run struct {
	workflowID string
	worktree   string
	cancel     context.CancelFunc
	// decisions carries approve(true)/reject(false) into the gate waiter.
	decisions chan bool
	done      chan struct{}
}

// New creates a Scheduler. Call Start before admitting workflows.
func New(st *store.Store, eventBus *bus.Bus, deps *agent.Deps, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:     st,
		bus:       eventBus,
		cfg:       cfg,
		architect: agent.NewArchitect(deps),
		developer: agent.NewDeveloper(deps),
		reviewer:  agent.NewReviewer(deps),
		slots:     make(map[string]*run),
		runs:      make(map[string]*run),
		planning:  make(map[string]bool),
		issues:    make(map[string]issueText),
		stopCh:    make(chan struct{}),
	}
}

// Start recovers interrupted workflows per the restart policy and launches
// the retention sweeper.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return fmt.Errorf("restart recovery failed: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runRetentionSweeper()
	}()
	return nil
}

// Shutdown stops admitting work, waits for running workflows up to the drain
// timeout, then cancels whatever is left and waits for tasks to unwind.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	active := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		active = append(active, r)
	}
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })

	if len(active) > 0 {
		slog.Info("Draining running workflows", "count", len(active))
	}

	deadline := time.After(s.cfg.DrainTimeout)
	for _, r := range active {
		select {
		case <-r.done:
		case <-deadline:
			slog.Warn("Drain timeout reached, cancelling remaining workflows")
			s.cancelAll(active)
			deadline = closedTimer()
		case <-ctx.Done():
			s.cancelAll(active)
			deadline = closedTimer()
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait interrupted: %w", ctx.Err())
	}
}

func (s *Scheduler) cancelAll(active []*run) {
	for _, r := range active {
		r.cancel()
	}
}

// closedTimer returns an already-fired timer channel so remaining drain
// waits fall through immediately.
func closedTimer() <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

// Health is the scheduler snapshot surfaced by the health endpoint.
type Health struct {
	ActiveWorkflows int               `json:"active_workflows"`
	PendingPlanning int               `json:"pending_planning"`
	Worktrees       map[string]string `json:"worktrees"` // worktree_path → workflow_id
	Draining        bool              `json:"draining"`
}

// HealthSnapshot reports current occupancy.
func (s *Scheduler) HealthSnapshot() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	worktrees := make(map[string]string, len(s.slots))
	for path, r := range s.slots {
		worktrees[path] = r.workflowID
	}
	return Health{
		ActiveWorkflows: len(s.runs),
		PendingPlanning: len(s.planning),
		Worktrees:       worktrees,
		Draining:        s.draining,
	}
}

// settings reads the current runtime settings.
func (s *Scheduler) settings(ctx context.Context) (*models.ServerSettings, error) {
	return s.store.Settings.Get(ctx)
}

// recover handles workflows left non-terminal by the previous process.
// Policy fail marks them failed with reason orchestrator_restart; policy
// resume re-enters the state machine using the persisted plan and stage.
func (s *Scheduler) recover(ctx context.Context) error {
	settings, err := s.settings(ctx)
	if err != nil {
		return err
	}
	interrupted, err := s.store.Workflows.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(interrupted) == 0 {
		return nil
	}

	slog.Info("Recovering interrupted workflows",
		"count", len(interrupted), "policy", settings.RestartPolicy)

	for _, w := range interrupted {
		if settings.RestartPolicy == models.RestartResume {
			if err := s.resumeWorkflow(ctx, w); err != nil {
				slog.Error("Failed to resume workflow, marking failed",
					"workflow_id", w.ID, "error", err)
				s.failWorkflow(ctx, w, "orchestrator_restart")
			}
			continue
		}
		s.failWorkflow(ctx, w, "orchestrator_restart")
	}
	return nil
}

// resumeWorkflow re-admits one interrupted workflow. Planning restarts from
// scratch; blocked re-parks at its approval gate; in_progress continues from
// the persisted task statuses.
func (s *Scheduler) resumeWorkflow(ctx context.Context, w *models.Workflow) error {
	switch w.Status {
	case models.StatusPlanning:
		// The planning transcript is gone; go back to pending and restart
		// the whole run.
		if err := s.transition(ctx, w, models.StatusPending); err != nil {
			return err
		}
		return s.StartPendingWorkflow(ctx, w.ID)
	case models.StatusBlocked, models.StatusInProgress:
		return s.admitAndSpawn(ctx, w, true)
	default:
		return fmt.Errorf("workflow %s is not resumable from %s", w.ID, w.Status)
	}
}
