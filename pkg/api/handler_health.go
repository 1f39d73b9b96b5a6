package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/amelia-dev/amelia/pkg/database"
	"github.com/amelia-dev/amelia/pkg/scheduler"
	"github.com/amelia-dev/amelia/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Database *database.HealthStatus `json:"database"`
	// ActiveWorkflows is the durable count of in_progress and blocked rows.
	// It can briefly disagree with the scheduler's in-memory view around
	// admission and recovery.
	ActiveWorkflows int              `json:"active_workflows"`
	Scheduler       scheduler.Health `json:"scheduler"`
}

// healthHandler handles GET /api/health. Only in-process components are
// checked; LLM backends are external and excluded so an unhealthy backend
// does not get the orchestrator restarted.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
	if err != nil {
		status = healthStatusUnhealthy
	}

	active, err := s.store.Workflows.CountActive(reqCtx)
	if err != nil {
		status = healthStatusUnhealthy
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:          status,
		Version:         version.Full(),
		Database:        dbHealth,
		ActiveWorkflows: active,
		Scheduler:       s.scheduler.HealthSnapshot(),
	})
}
