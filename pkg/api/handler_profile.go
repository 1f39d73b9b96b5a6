package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/amelia-dev/amelia/pkg/models"
)

// listProfilesHandler handles GET /api/profiles.
func (s *Server) listProfilesHandler(c *echo.Context) error {
	profiles, err := s.profileService.ListProfiles(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"profiles": profiles})
}

// createProfileHandler handles POST /api/profiles.
func (s *Server) createProfileHandler(c *echo.Context) error {
	var p models.Profile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	created, err := s.profileService.CreateProfile(c.Request().Context(), &p)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// getProfileHandler handles GET /api/profiles/:id.
func (s *Server) getProfileHandler(c *echo.Context) error {
	p, err := s.profileService.GetProfile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// updateProfileHandler handles PUT /api/profiles/:id.
func (s *Server) updateProfileHandler(c *echo.Context) error {
	var p models.Profile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = c.Param("id")

	updated, err := s.profileService.UpdateProfile(c.Request().Context(), &p)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// deleteProfileHandler handles DELETE /api/profiles/:id.
func (s *Server) deleteProfileHandler(c *echo.Context) error {
	if err := s.profileService.DeleteProfile(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// activateProfileHandler handles POST /api/profiles/:id/activate.
func (s *Server) activateProfileHandler(c *echo.Context) error {
	p, err := s.profileService.ActivateProfile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, p)
}
