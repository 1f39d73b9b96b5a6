package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/amelia-dev/amelia/pkg/services"
)

// errorBody is the JSON error envelope: {"error": {"kind": ..., "message": ...}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusForKind maps machine-readable error kinds to HTTP status codes.
func statusForKind(kind string) int {
	switch kind {
	case "NotFound":
		return http.StatusNotFound
	case "WrongState", "WorktreeConflict", "AlreadyExists":
		return http.StatusConflict
	case "ConcurrencyLimit":
		return http.StatusTooManyRequests
	case "ValidationError":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// mapServiceError maps domain errors to HTTP error responses. The original
// error rides along as Internal so the error handler can recover its kind.
func mapServiceError(err error) *echo.HTTPError {
	kind := services.Kind(err)
	code := statusForKind(kind)

	message := err.Error()
	if kind == "Internal" {
		slog.Error("Unexpected service error", "error", err)
		message = "internal server error"
	}

	he := echo.NewHTTPError(code, message)
	return he.Wrap(err).(*echo.HTTPError)
}

// errorHandler renders every error as the {error: {kind, message}} envelope.
func errorHandler(c *echo.Context, err error) {
	if r, _ := echo.UnwrapResponse(c.Response()); r != nil && r.Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "internal server error"
	kind := "Internal"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		message = he.Message
		if wrapped := he.Unwrap(); wrapped != nil {
			kind = services.Kind(wrapped)
		} else {
			kind = fallbackKind(code)
		}
	} else {
		slog.Error("Unhandled error reached the error handler", "error", err)
	}

	if writeErr := c.JSON(code, errorBody{Error: errorDetail{Kind: kind, Message: message}}); writeErr != nil {
		slog.Error("Failed to write error response", "error", writeErr)
	}
}

// fallbackKind covers plain echo.NewHTTPError returns from handler-level
// validation, which carry no domain error.
func fallbackKind(code int) string {
	switch code {
	case http.StatusNotFound:
		return "NotFound"
	case http.StatusConflict:
		return "WrongState"
	case http.StatusTooManyRequests:
		return "ConcurrencyLimit"
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "ValidationError"
	default:
		return "Internal"
	}
}
