package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amelia-dev/amelia/pkg/bus"
	"github.com/amelia-dev/amelia/pkg/database"
	"github.com/amelia-dev/amelia/pkg/driver"
	"github.com/amelia-dev/amelia/pkg/models"
	"github.com/amelia-dev/amelia/pkg/store"
)

// fakeDriver scripts agentic streams and generate results for runner tests.
type fakeDriver struct {
	// streams are consumed in order by ExecuteAgentic calls.
	streams [][]driver.AgenticMessage
	// generated are consumed in order by Generate calls.
	generated []string

	agenticReqs  []driver.AgenticRequest
	generateReqs []driver.GenerateRequest
	cleanedUp    []string
}

func (f *fakeDriver) Generate(_ context.Context, req driver.GenerateRequest) (*driver.GenerateResult, error) {
	f.generateReqs = append(f.generateReqs, req)
	content := f.generated[0]
	f.generated = f.generated[1:]
	return &driver.GenerateResult{
		Content:    content,
		Structured: []byte(content),
		Usage:      driver.Usage{InputTokens: 5, OutputTokens: 2, DurationMS: 1},
	}, nil
}

func (f *fakeDriver) ExecuteAgentic(_ context.Context, req driver.AgenticRequest) (<-chan driver.AgenticMessage, error) {
	f.agenticReqs = append(f.agenticReqs, req)
	msgs := f.streams[0]
	f.streams = f.streams[1:]
	ch := make(chan driver.AgenticMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return ch, nil
}

func (f *fakeDriver) CleanupSession(_ context.Context, sessionID string) error {
	f.cleanedUp = append(f.cleanedUp, sessionID)
	return nil
}

func okStream(content, sessionID string) []driver.AgenticMessage {
	return []driver.AgenticMessage{
		&driver.ThinkingMessage{Content: "working"},
		&driver.ResultMessage{
			Content:   content,
			SessionID: sessionID,
			Usage:     driver.Usage{InputTokens: 10, OutputTokens: 5, DurationMS: 2},
		},
	}
}

// newTestDeps wires Deps over a fresh database and the given fake driver.
func newTestDeps(t *testing.T, fake *fakeDriver) (*Deps, *store.Store) {
	t.Helper()
	ctx := context.Background()

	client, err := database.NewClient(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(client.DB())
	deps := &Deps{
		Drivers:           driver.NewRegistry(fake, fake),
		Bus:               bus.New(st.Events),
		Workflows:         st.Workflows,
		TokenUsage:        st.TokenUsage,
		StreamToolResults: true,
	}
	return deps, st
}

// newTestWorkflow persists a workflow the runners can operate on.
func newTestWorkflow(t *testing.T, st *store.Store, status models.Status) *models.Workflow {
	t.Helper()
	w := &models.Workflow{
		IssueID:      "AM-1",
		WorktreePath: t.TempDir(),
		WorktreeName: "feature",
		ProfileID:    "p1",
		Status:       status,
	}
	require.NoError(t, st.Workflows.Create(context.Background(), w))
	return w
}

// eventTypes lists the persisted event types for a workflow, in order.
func eventTypes(t *testing.T, st *store.Store, workflowID string) []models.EventType {
	t.Helper()
	events, err := st.Events.List(context.Background(), workflowID, 0, 0)
	require.NoError(t, err)
	var types []models.EventType
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}
