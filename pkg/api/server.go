// Package api exposes the REST and WebSocket surface over the scheduler,
// services, and repositories.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/amelia-dev/amelia/pkg/config"
	"github.com/amelia-dev/amelia/pkg/database"
	"github.com/amelia-dev/amelia/pkg/scheduler"
	"github.com/amelia-dev/amelia/pkg/services"
	"github.com/amelia-dev/amelia/pkg/store"
)

// Server is the HTTP server. It holds no domain state of its own; every
// handler is a thin mapping onto the scheduler or a service.
type Server struct {
	bootstrap       *config.Bootstrap
	dbClient        *database.Client
	store           *store.Store
	scheduler       *scheduler.Scheduler
	profileService  *services.ProfileService
	settingsService *services.SettingsService
	connManager     *ConnectionManager

	echo *echo.Echo
	http *http.Server
}

// NewServer creates the API server and registers all routes.
func NewServer(
	bootstrap *config.Bootstrap,
	dbClient *database.Client,
	st *store.Store,
	sched *scheduler.Scheduler,
	profileService *services.ProfileService,
	settingsService *services.SettingsService,
	connManager *ConnectionManager,
) *Server {
	s := &Server{
		bootstrap:       bootstrap,
		dbClient:        dbClient,
		store:           st,
		scheduler:       sched,
		profileService:  profileService,
		settingsService: settingsService,
		connManager:     connManager,
		echo:            echo.New(),
	}

	s.echo.HTTPErrorHandler = errorHandler
	s.echo.Use(securityHeaders())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/api/health", s.healthHandler)
	e.GET("/api/config", s.configHandler)

	e.POST("/api/workflows", s.createWorkflowHandler)
	e.GET("/api/workflows", s.listWorkflowsHandler)
	e.POST("/api/workflows/start-batch", s.startBatchHandler)
	e.GET("/api/workflows/:id", s.getWorkflowHandler)
	e.POST("/api/workflows/:id/start", s.startWorkflowHandler)
	e.POST("/api/workflows/:id/cancel", s.cancelWorkflowHandler)
	e.POST("/api/workflows/:id/approve", s.approveWorkflowHandler)
	e.POST("/api/workflows/:id/reject", s.rejectWorkflowHandler)
	e.POST("/api/workflows/:id/plan", s.setPlanHandler)

	e.GET("/api/settings", s.getSettingsHandler)
	e.PUT("/api/settings", s.updateSettingsHandler)

	e.GET("/api/profiles", s.listProfilesHandler)
	e.POST("/api/profiles", s.createProfileHandler)
	e.GET("/api/profiles/:id", s.getProfileHandler)
	e.PUT("/api/profiles/:id", s.updateProfileHandler)
	e.DELETE("/api/profiles/:id", s.deleteProfileHandler)
	e.POST("/api/profiles/:id/activate", s.activateProfileHandler)

	e.GET("/ws/events", s.wsHandler)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and serves until Shutdown. Blocks.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
