package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/amelia-dev/amelia/pkg/models"
)

// getSettingsHandler handles GET /api/settings.
func (s *Server) getSettingsHandler(c *echo.Context) error {
	settings, err := s.settingsService.GetSettings(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, settings)
}

// updateSettingsHandler handles PUT /api/settings. The body is a partial
// patch; omitted fields keep their stored values.
func (s *Server) updateSettingsHandler(c *echo.Context) error {
	var patch models.SettingsPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	settings, err := s.settingsService.UpdateSettings(c.Request().Context(), &patch)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, settings)
}
