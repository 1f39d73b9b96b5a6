package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amelia-dev/amelia/pkg/database"
	"github.com/amelia-dev/amelia/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	client, err := database.NewClient(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return New(client.DB())
}

func createWorkflow(t *testing.T, st *Store, status models.Status) *models.Workflow {
	t.Helper()
	w := &models.Workflow{
		IssueID:      "AM-1",
		WorktreePath: "/tmp/wt-" + string(status),
		Status:       status,
	}
	require.NoError(t, st.Workflows.Create(context.Background(), w))
	return w
}

func TestWorkflowCreateAssignsIdentity(t *testing.T) {
	st := newTestStore(t)
	w := createWorkflow(t, st, models.StatusPending)
	assert.NotEmpty(t, w.ID)
	assert.False(t, w.CreatedAt.IsZero())

	got, err := st.Workflows.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.IssueID, got.IssueID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.Plan)
}

func TestWorkflowNotFound(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Workflows.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.Workflows.Update(ctx, &models.Workflow{ID: "nope"}), ErrNotFound)
	assert.ErrorIs(t, st.Workflows.Delete(ctx, "nope"), ErrNotFound)
}

func TestWorkflowPlanRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	w := createWorkflow(t, st, models.StatusPending)
	w.Plan = &models.TaskPlan{
		Goal:     "wire the cache",
		KeyFiles: []string{"cache.go"},
		Tasks: []models.Task{
			{ID: "t1", Description: "add interface", Agent: "developer", Status: models.TaskPending},
			{ID: "t2", Description: "add impl", Agent: "developer", Dependencies: []string{"t1"}, Status: models.TaskPending},
		},
	}
	now := time.Now().UTC()
	w.PlannedAt = &now
	require.NoError(t, st.Workflows.Update(ctx, w))

	got, err := st.Workflows.Get(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Plan)
	assert.Equal(t, w.Plan.Goal, got.Plan.Goal)
	require.Len(t, got.Plan.Tasks, 2)
	assert.Equal(t, []string{"t1"}, got.Plan.Tasks[1].Dependencies)
	assert.NotNil(t, got.PlannedAt)
}

func TestWorkflowListFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	pending := createWorkflow(t, st, models.StatusPending)
	running := createWorkflow(t, st, models.StatusInProgress)
	createWorkflow(t, st, models.StatusCompleted)

	byStatus, err := st.Workflows.List(ctx, models.WorkflowFilters{Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, pending.ID, byStatus[0].ID)

	byWorktree, err := st.Workflows.List(ctx, models.WorkflowFilters{Worktree: running.WorktreePath})
	require.NoError(t, err)
	require.Len(t, byWorktree, 1)
	assert.Equal(t, running.ID, byWorktree[0].ID)

	limited, err := st.Workflows.List(ctx, models.WorkflowFilters{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestWorkflowActiveQueries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	createWorkflow(t, st, models.StatusPending)
	createWorkflow(t, st, models.StatusInProgress)
	createWorkflow(t, st, models.StatusBlocked)
	createWorkflow(t, st, models.StatusFailed)

	active, err := st.Workflows.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	n, err := st.Workflows.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := st.Workflows.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEventSequencesAreGapless(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	w := createWorkflow(t, st, models.StatusPending)

	for i := 0; i < 5; i++ {
		e := &models.Event{WorkflowID: w.ID, EventType: models.EventAgentOutput, Message: "m"}
		require.NoError(t, st.Events.Append(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence)
	}

	events, err := st.Events.List(ctx, w.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestEventSequencesGaplessUnderConcurrency(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	w := createWorkflow(t, st, models.StatusPending)

	const writers = 8
	const perWriter = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				e := &models.Event{WorkflowID: w.ID, EventType: models.EventAgentOutput}
				assert.NoError(t, st.Events.Append(ctx, e))
			}
		}()
	}
	wg.Wait()

	events, err := st.Events.List(ctx, w.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, writers*perWriter)
	for i, e := range events {
		require.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestEventListSinceAndLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	w := createWorkflow(t, st, models.StatusPending)
	for i := 0; i < 10; i++ {
		require.NoError(t, st.Events.Append(ctx, &models.Event{WorkflowID: w.ID, EventType: models.EventAgentOutput}))
	}

	since, err := st.Events.List(ctx, w.ID, 7, 0)
	require.NoError(t, err)
	require.Len(t, since, 3)
	assert.Equal(t, int64(8), since[0].Sequence)

	limited, err := st.Events.List(ctx, w.ID, 0, 4)
	require.NoError(t, err)
	require.Len(t, limited, 4)
	assert.Equal(t, int64(1), limited[0].Sequence)

	tail, err := st.Events.Tail(ctx, w.ID, 4)
	require.NoError(t, err)
	require.Len(t, tail, 4)
	assert.Equal(t, int64(7), tail[0].Sequence)
	assert.Equal(t, int64(10), tail[3].Sequence)
}

func TestWorkflowGuardedWrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	w := createWorkflow(t, st, models.StatusPending)

	// A matching observation goes through.
	w.Status = models.StatusPlanning
	require.NoError(t, st.Workflows.UpdateStatus(ctx, w, models.StatusPending))
	got, err := st.Workflows.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlanning, got.Status)

	// The row moves on behind a stale caller's back.
	moved := *got
	moved.Status = models.StatusCancelled
	require.NoError(t, st.Workflows.UpdateStatus(ctx, &moved, models.StatusPlanning))

	stale := *got
	stale.Status = models.StatusBlocked
	assert.ErrorIs(t, st.Workflows.UpdateStatus(ctx, &stale, models.StatusPlanning), ErrStaleStatus)

	stale.Plan = &models.TaskPlan{
		Goal:  "late plan",
		Tasks: []models.Task{{ID: "t1", Description: "x"}},
	}
	assert.ErrorIs(t, st.Workflows.UpdatePlan(ctx, &stale, models.StatusPlanning), ErrStaleStatus)

	// Neither stale write landed.
	got, err = st.Workflows.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Nil(t, got.Plan)

	// Missing rows stay ErrNotFound rather than ErrStaleStatus.
	ghost := &models.Workflow{ID: "nope", CreatedAt: time.Now().UTC()}
	assert.ErrorIs(t, st.Workflows.UpdateStatus(ctx, ghost, models.StatusPending), ErrNotFound)
	assert.ErrorIs(t, st.Workflows.UpdatePlan(ctx, ghost, models.StatusPending), ErrNotFound)
}

func TestUpdatePlanLeavesStatusAlone(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	w := createWorkflow(t, st, models.StatusInProgress)
	now := time.Now().UTC()
	w.Plan = &models.TaskPlan{
		Goal:  "wire the cache",
		Tasks: []models.Task{{ID: "t1", Description: "add interface", Status: models.TaskCompleted}},
	}
	w.PlannedAt = &now
	// The in-memory copy drifts; only plan columns may land.
	w.Status = models.StatusCompleted
	require.NoError(t, st.Workflows.UpdatePlan(ctx, w, models.StatusInProgress))

	got, err := st.Workflows.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
	require.NotNil(t, got.Plan)
	assert.Equal(t, models.TaskCompleted, got.Plan.Tasks[0].Status)
	assert.NotNil(t, got.PlannedAt)
}

func TestWorkflowTerminalRetention(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -10)
	now := time.Now().UTC()

	expired := createWorkflow(t, st, models.StatusCompleted)
	expired.CompletedAt = &old
	require.NoError(t, st.Workflows.Update(ctx, expired))

	recent := createWorkflow(t, st, models.StatusFailed)
	recent.CompletedAt = &now
	require.NoError(t, st.Workflows.Update(ctx, recent))

	live := createWorkflow(t, st, models.StatusInProgress)

	n, err := st.Workflows.DeleteTerminalOlderThan(ctx, time.Now().UTC().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.Workflows.Get(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.Workflows.Get(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = st.Workflows.Get(ctx, live.ID)
	assert.NoError(t, err)
}

func TestEventRetentionSparesLiveWorkflows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	live := createWorkflow(t, st, models.StatusInProgress)
	done := createWorkflow(t, st, models.StatusCompleted)
	old := time.Now().UTC().Add(-48 * time.Hour)
	for _, w := range []*models.Workflow{live, done} {
		require.NoError(t, st.Events.Append(ctx, &models.Event{
			WorkflowID: w.ID, EventType: models.EventAgentOutput, Timestamp: old,
		}))
	}

	deleted, err := st.Events.DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// Live workflow streams stay intact regardless of age.
	remaining, err := st.Events.List(ctx, live.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
	gone, err := st.Events.List(ctx, done.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestSettingsEnsureDefaultsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Settings.EnsureDefaults(ctx))
	first, err := st.Settings.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultServerSettings().MaxConcurrent, first.MaxConcurrent)

	five := 5
	_, err = st.Settings.Update(ctx, models.SettingsPatch{MaxConcurrent: &five})
	require.NoError(t, err)

	// A second EnsureDefaults must not clobber the stored value.
	require.NoError(t, st.Settings.EnsureDefaults(ctx))
	got, err := st.Settings.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, got.MaxConcurrent)
}

func TestSettingsPartialUpdate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Settings.EnsureDefaults(ctx))

	policy := models.RestartResume
	updated, err := st.Settings.Update(ctx, models.SettingsPatch{RestartPolicy: &policy})
	require.NoError(t, err)
	assert.Equal(t, models.RestartResume, updated.RestartPolicy)
	assert.Equal(t, models.DefaultServerSettings().MaxConcurrent, updated.MaxConcurrent)
}

func TestProfileEnsureDefaultIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Profiles.EnsureDefault(ctx))
	require.NoError(t, st.Profiles.EnsureDefault(ctx))

	profiles, err := st.Profiles.List(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.True(t, profiles[0].Active)
}

func TestProfileSingleActive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Profiles.EnsureDefault(ctx))

	second := models.DefaultProfile()
	second.Name = "fast"
	second.Active = false
	require.NoError(t, st.Profiles.Create(ctx, second))

	require.NoError(t, st.Profiles.SetActive(ctx, second.ID))

	active, err := st.Profiles.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	profiles, err := st.Profiles.List(ctx)
	require.NoError(t, err)
	activeCount := 0
	for _, p := range profiles {
		if p.Active {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestTokenUsageRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	w := createWorkflow(t, st, models.StatusInProgress)

	require.NoError(t, st.TokenUsage.Append(ctx, &models.TokenUsage{
		WorkflowID:   w.ID,
		Model:        "claude-sonnet-4-5",
		InputTokens:  120,
		OutputTokens: 60,
		CostUSD:      0.0042,
	}))
	require.NoError(t, st.TokenUsage.Append(ctx, &models.TokenUsage{
		WorkflowID: w.ID,
		Model:      "claude-haiku-4-5",
	}))

	rows, err := st.TokenUsage.ListForWorkflow(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(120), rows[0].InputTokens)
	assert.False(t, rows[0].Timestamp.IsZero())
}

func TestEventsCascadeOnWorkflowDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	w := createWorkflow(t, st, models.StatusCompleted)
	require.NoError(t, st.Events.Append(ctx, &models.Event{WorkflowID: w.ID, EventType: models.EventWorkflowCompleted}))

	require.NoError(t, st.Workflows.Delete(ctx, w.ID))
	events, err := st.Events.List(ctx, w.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
