package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/amelia-dev/amelia/pkg/models"
	"github.com/amelia-dev/amelia/pkg/services"
)

// defaultEventsLimit is how many trailing events a workflow detail carries
// when the client does not ask for a specific window.
const defaultEventsLimit = 100

// WorkflowDetail is the detail response: the workflow (with its plan) plus
// the tail of its event stream.
type WorkflowDetail struct {
	*models.Workflow
	Events []*models.Event `json:"events"`
}

// SetPlanRequest is the body of POST /api/workflows/:id/plan.
type SetPlanRequest struct {
	PlanFile    string `json:"plan_file,omitempty"`
	PlanContent string `json:"plan_content,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

// createWorkflowHandler handles POST /api/workflows.
func (s *Server) createWorkflowHandler(c *echo.Context) error {
	var req models.CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	w, err := s.scheduler.CreateWorkflow(c.Request().Context(), &req)
	if err != nil {
		if w == nil {
			return mapServiceError(err)
		}
		// The workflow exists but admission failed; report both so the
		// client can start it later by ID.
		return c.JSON(http.StatusCreated, map[string]string{
			"workflow_id": w.ID,
			"start_error": services.Kind(err),
		})
	}

	return c.JSON(http.StatusCreated, map[string]string{"workflow_id": w.ID})
}

// listWorkflowsHandler handles GET /api/workflows.
func (s *Server) listWorkflowsHandler(c *echo.Context) error {
	filters := models.WorkflowFilters{}

	if v := c.QueryParam("status"); v != "" {
		status := models.Status(v)
		if !models.StatusValidator(status) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+v)
		}
		filters.Status = status
	}
	filters.Worktree = c.QueryParam("worktree")
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: "+v)
		}
		filters.Limit = n
	}

	workflows, err := s.store.Workflows.List(c.Request().Context(), filters)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"workflows": workflows})
}

// getWorkflowHandler handles GET /api/workflows/:id.
func (s *Server) getWorkflowHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow id is required")
	}

	limit := defaultEventsLimit
	if v := c.QueryParam("events_limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid events_limit: "+v)
		}
		limit = n
	}

	ctx := c.Request().Context()
	w, err := s.scheduler.GetWorkflow(ctx, id)
	if err != nil {
		return mapServiceError(err)
	}
	events, err := s.store.Events.Tail(ctx, id, limit)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &WorkflowDetail{Workflow: w, Events: events})
}

// startWorkflowHandler handles POST /api/workflows/:id/start.
func (s *Server) startWorkflowHandler(c *echo.Context) error {
	if err := s.scheduler.StartPendingWorkflow(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}

// startBatchHandler handles POST /api/workflows/start-batch.
func (s *Server) startBatchHandler(c *echo.Context) error {
	var req models.BatchStartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := s.scheduler.StartBatchWorkflows(c.Request().Context(), &req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// cancelWorkflowHandler handles POST /api/workflows/:id/cancel. Idempotent.
func (s *Server) cancelWorkflowHandler(c *echo.Context) error {
	if err := s.scheduler.CancelWorkflow(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// approveWorkflowHandler handles POST /api/workflows/:id/approve.
func (s *Server) approveWorkflowHandler(c *echo.Context) error {
	if err := s.scheduler.ApprovePlan(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "approved"})
}

// rejectWorkflowHandler handles POST /api/workflows/:id/reject.
func (s *Server) rejectWorkflowHandler(c *echo.Context) error {
	if err := s.scheduler.RejectPlan(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "rejected"})
}

// setPlanHandler handles POST /api/workflows/:id/plan.
func (s *Server) setPlanHandler(c *echo.Context) error {
	var req SetPlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	w, err := s.scheduler.SetExternalPlan(c.Request().Context(), c.Param("id"),
		req.PlanFile, req.PlanContent, req.Force)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, w)
}
