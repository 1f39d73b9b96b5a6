package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// ConfigResponse is the body of GET /api/config: the bootstrap values a
// client needs to find the server. Runtime settings live under /api/settings.
type ConfigResponse struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	DatabasePath string `json:"database_path"`
}

// configHandler handles GET /api/config.
func (s *Server) configHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &ConfigResponse{
		Host:         s.bootstrap.Host,
		Port:         s.bootstrap.Port,
		DatabasePath: s.bootstrap.DatabasePath,
	})
}
