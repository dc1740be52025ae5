package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/github-sentinel/sentinel/pkg/scheduler"
	"github.com/github-sentinel/sentinel/pkg/store"
)

// mapServiceError maps store and scheduler errors to HTTP responses.
func mapServiceError(err error) *echo.HTTPError {
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, store.ErrTerminalReport) {
		return echo.NewHTTPError(http.StatusConflict, "report is in a terminal state")
	}
	if errors.Is(err, scheduler.ErrJobInFlight) {
		return echo.NewHTTPError(http.StatusConflict, "a run for this job is already in flight")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
