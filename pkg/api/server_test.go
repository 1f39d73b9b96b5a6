package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amelia-dev/amelia/pkg/agent"
	"github.com/amelia-dev/amelia/pkg/bus"
	"github.com/amelia-dev/amelia/pkg/config"
	"github.com/amelia-dev/amelia/pkg/database"
	"github.com/amelia-dev/amelia/pkg/driver"
	"github.com/amelia-dev/amelia/pkg/models"
	"github.com/amelia-dev/amelia/pkg/scheduler"
	"github.com/amelia-dev/amelia/pkg/services"
	"github.com/amelia-dev/amelia/pkg/store"
)

// stubDriver satisfies the driver contract for API tests; nothing in these
// tests lets an agent run long enough to exercise it deeply.
type stubDriver struct{}

func (stubDriver) Generate(context.Context, driver.GenerateRequest) (*driver.GenerateResult, error) {
	content := `{"approved": true, "summary": "ok"}`
	return &driver.GenerateResult{Content: content, Structured: []byte(content)}, nil
}

func (stubDriver) ExecuteAgentic(context.Context, driver.AgenticRequest) (<-chan driver.AgenticMessage, error) {
	ch := make(chan driver.AgenticMessage, 1)
	ch <- &driver.ResultMessage{Content: "done"}
	close(ch)
	return ch, nil
}

func (stubDriver) CleanupSession(context.Context, string) error { return nil }

type testServer struct {
	server    *Server
	http      *httptest.Server
	store     *store.Store
	bus       *bus.Bus
	scheduler *scheduler.Scheduler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	client, err := database.NewClient(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(client.DB())
	require.NoError(t, st.Settings.EnsureDefaults(ctx))
	require.NoError(t, st.Profiles.EnsureDefault(ctx))

	eventBus := bus.New(st.Events)
	deps := &agent.Deps{
		Drivers:    driver.NewRegistry(stubDriver{}, stubDriver{}),
		Bus:        eventBus,
		Workflows:  st.Workflows,
		TokenUsage: st.TokenUsage,
	}
	cfg := *config.DefaultSchedulerConfig()
	cfg.DrainTimeout = time.Second
	sched := scheduler.New(st, eventBus, deps, cfg)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = sched.Shutdown(shutdownCtx)
	})

	bootstrap := &config.Bootstrap{Host: "127.0.0.1", Port: 8420, DatabasePath: client.Path()}
	srv := NewServer(
		bootstrap,
		client,
		st,
		sched,
		services.NewProfileService(st.Profiles),
		services.NewSettingsService(st.Settings),
		NewConnectionManager(eventBus, time.Second),
	)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{server: srv, http: ts, store: st, bus: eventBus, scheduler: sched}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, raw
}

func (ts *testServer) createQueued(t *testing.T) string {
	t.Helper()
	start := false
	resp, raw := ts.do(t, http.MethodPost, "/api/workflows", models.CreateWorkflowRequest{
		IssueID:      "AM-1",
		WorktreePath: t.TempDir(),
		Start:        &start,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var body map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	require.NotEmpty(t, body["workflow_id"])
	return body["workflow_id"]
}

func TestCreateAndGetWorkflow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createQueued(t)

	resp, raw := ts.do(t, http.MethodGet, "/api/workflows/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail WorkflowDetail
	require.NoError(t, json.Unmarshal(raw, &detail))
	assert.Equal(t, id, detail.ID)
	assert.Equal(t, models.StatusPending, detail.Status)
	require.Len(t, detail.Events, 1)
	assert.Equal(t, models.EventWorkflowCreated, detail.Events[0].EventType)
}

func TestCreateWorkflowValidationError(t *testing.T) {
	ts := newTestServer(t)

	resp, raw := ts.do(t, http.MethodPost, "/api/workflows", models.CreateWorkflowRequest{
		WorktreePath: t.TempDir(),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "ValidationError", body.Error.Kind)
	assert.Contains(t, body.Error.Message, "issue_id")
}

func TestGetWorkflowNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, raw := ts.do(t, http.MethodGet, "/api/workflows/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "NotFound", body.Error.Kind)
}

func TestListWorkflowsFilter(t *testing.T) {
	ts := newTestServer(t)
	ts.createQueued(t)

	resp, raw := ts.do(t, http.MethodGet, "/api/workflows?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Workflows []*models.Workflow `json:"workflows"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Len(t, body.Workflows, 1)

	resp, _ = ts.do(t, http.MethodGet, "/api/workflows?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createQueued(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/workflows/"+id+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/workflows/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestApproveRequiresBlockedState(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createQueued(t)

	resp, raw := ts.do(t, http.MethodPost, "/api/workflows/"+id+"/approve", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "WrongState", body.Error.Kind)
}

func TestSetExternalPlanEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createQueued(t)

	plan := `{"goal": "g", "tasks": [{"id": "t1", "description": "d"}]}`
	resp, raw := ts.do(t, http.MethodPost, "/api/workflows/"+id+"/plan", SetPlanRequest{PlanContent: plan})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var w models.Workflow
	require.NoError(t, json.Unmarshal(raw, &w))
	assert.True(t, w.ExternalPlan)
	require.NotNil(t, w.Plan)

	// Replacing without force conflicts.
	resp, _ = ts.do(t, http.MethodPost, "/api/workflows/"+id+"/plan", SetPlanRequest{PlanContent: plan})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStartBatchEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createQueued(t)

	// Cancel first so the batch has a non-startable candidate alongside
	// nothing else: the result reports it as a wrong-state error.
	resp, _ := ts.do(t, http.MethodPost, "/api/workflows/"+id+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, raw := ts.do(t, http.MethodPost, "/api/workflows/start-batch",
		models.BatchStartRequest{WorkflowIDs: []string{id}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.BatchStartResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Empty(t, result.Started)
	assert.Equal(t, "WrongState", result.Errors[id])
}

func TestSettingsRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	resp, raw := ts.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var settings models.ServerSettings
	require.NoError(t, json.Unmarshal(raw, &settings))
	assert.Equal(t, models.DefaultServerSettings().MaxConcurrent, settings.MaxConcurrent)

	five := 5
	resp, raw = ts.do(t, http.MethodPut, "/api/settings", models.SettingsPatch{MaxConcurrent: &five})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &settings))
	assert.Equal(t, 5, settings.MaxConcurrent)

	zero := 0
	resp, _ = ts.do(t, http.MethodPut, "/api/settings", models.SettingsPatch{MaxConcurrent: &zero})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProfileLifecycle(t *testing.T) {
	ts := newTestServer(t)

	second := models.DefaultProfile()
	second.Name = "fast"
	resp, raw := ts.do(t, http.MethodPost, "/api/profiles", second)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var created models.Profile
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.False(t, created.Active)

	resp, raw = ts.do(t, http.MethodPost, "/api/profiles/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var activated models.Profile
	require.NoError(t, json.Unmarshal(raw, &activated))
	assert.True(t, activated.Active)

	resp, raw = ts.do(t, http.MethodGet, "/api/profiles", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Profiles []*models.Profile `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Len(t, list.Profiles, 2)

	// Deleting the active profile is refused.
	resp, _ = ts.do(t, http.MethodDelete, "/api/profiles/"+created.ID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, raw := ts.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(raw, &health))
	assert.Equal(t, healthStatusHealthy, health.Status)
	assert.NotEmpty(t, health.Version)
	assert.Equal(t, 0, health.ActiveWorkflows)
	assert.Equal(t, 0, health.Scheduler.ActiveWorkflows)
}

func TestConfigEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, raw := ts.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg ConfigResponse
	require.NoError(t, json.Unmarshal(raw, &cfg))
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8420, cfg.Port)
	assert.NotEmpty(t, cfg.DatabasePath)
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestEventsLimitValidation(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createQueued(t)

	resp, _ := ts.do(t, http.MethodGet, fmt.Sprintf("/api/workflows/%s?events_limit=oops", id), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
