package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/amelia-dev/amelia/pkg/bus"
)

// wsHandler handles GET /ws/events. Upgrades the connection and streams
// events until the client disconnects.
func (s *Server) wsHandler(c *echo.Context) error {
	// Replay is opt-in: without a since_sequence cursor the client gets the
	// live tail only.
	opts := bus.SubscribeOptions{
		WorkflowID:    c.QueryParam("workflow_id"),
		SinceSequence: bus.NoReplay,
	}
	if v := c.QueryParam("since_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since_sequence: "+v)
		}
		if opts.WorkflowID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "since_sequence requires workflow_id")
		}
		opts.SinceSequence = n
	}

	settings, err := s.settingsService.GetSettings(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	idleTimeout := time.Duration(settings.WebsocketIdleTimeoutSeconds) * time.Second

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	// Blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn, opts, idleTimeout)
	return nil
}
