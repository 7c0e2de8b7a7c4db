package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tableflow/tableflow/pkg/queue"
	"github.com/tableflow/tableflow/pkg/services"
	"github.com/tableflow/tableflow/pkg/storage"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrInvalidInput) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, storage.ErrPathEscape) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid file path")
	}
	if errors.Is(err, storage.ErrFileNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if errors.Is(err, storage.ErrMalformedArchive) {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed archive")
	}
	if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrManagerStopped) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "job queue unavailable")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// mapConfirmError maps workflow confirmation errors; proposal problems are
// unprocessable rather than bad requests.
func mapConfirmError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, validErr.Error())
	}
	if errors.Is(err, services.ErrNoPendingWorkflow) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "no workflow pending confirmation")
	}
	if errors.Is(err, services.ErrFileRequired) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "upload a file before confirming")
	}
	if errors.Is(err, services.ErrConversationBusy) {
		return echo.NewHTTPError(http.StatusConflict, "a workflow is already running for this conversation")
	}
	return mapServiceError(err)
}
