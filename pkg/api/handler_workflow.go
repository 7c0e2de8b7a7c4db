package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tableflow/tableflow/pkg/models"
)

// ConfirmWorkflowRequest is the request body for
// POST /api/v1/conversations/:chat_id/confirm. A non-empty modified_workflow
// replaces the proposed steps before validation and execution.
type ConfirmWorkflowRequest struct {
	Confirmed        *bool                 `json:"confirmed,omitempty"` // default true
	ModifiedWorkflow []models.ProposedStep `json:"modified_workflow,omitempty"`
	RunAsync         *bool                 `json:"run_async,omitempty"` // default true
}

// confirmWorkflowHandler handles POST /api/v1/conversations/:chat_id/confirm.
// Async acceptance returns 202 with the job id; synchronous acceptance blocks
// and returns 200 with the run result.
func (s *Server) confirmWorkflowHandler(c *echo.Context) error {
	chatID := c.Param("chat_id")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}

	confirmed, runAsync := true, true
	var modified []models.ProposedStep
	if c.Request().ContentLength > 0 {
		var req ConfirmWorkflowRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if req.Confirmed != nil {
			confirmed = *req.Confirmed
		}
		if req.RunAsync != nil {
			runAsync = *req.RunAsync
		}
		modified = req.ModifiedWorkflow
	}

	result, err := s.svc.ConfirmWorkflow(c.Request().Context(), chatID, confirmed, modified, runAsync)
	if err != nil {
		return mapConfirmError(err)
	}

	switch {
	case !confirmed:
		return respond(c, http.StatusOK, result, "workflow discarded")
	case result.Async:
		return respond(c, http.StatusAccepted, result, "workflow started")
	default:
		return respond(c, http.StatusOK, result, "workflow completed")
	}
}

// getJobStatusHandler handles
// GET /api/v1/conversations/:chat_id/workflow/status/:job_id.
func (s *Server) getJobStatusHandler(c *echo.Context) error {
	chatID := c.Param("chat_id")
	jobID := c.Param("job_id")
	if chatID == "" || jobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id and job_id are required")
	}
	snap, err := s.svc.GetJobStatus(chatID, jobID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, snap, "")
}

// listJobsHandler handles GET /api/v1/jobs.
func (s *Server) listJobsHandler(c *echo.Context) error {
	return respond(c, http.StatusOK, s.svc.ListActiveJobs(), "")
}
