package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// maxMessageLength bounds inbound chat message size.
const maxMessageLength = 100_000

// SendMessageRequest is the request body for
// POST /api/v1/conversations/:chat_id/message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// sendMessageHandler handles POST /api/v1/conversations/:chat_id/message.
func (s *Server) sendMessageHandler(c *echo.Context) error {
	chatID := c.Param("chat_id")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if len(req.Content) > maxMessageLength {
		return echo.NewHTTPError(http.StatusBadRequest, "content exceeds maximum length")
	}

	result, err := s.svc.SendMessage(c.Request().Context(), chatID, req.Content)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, result, "")
}

// getHistoryHandler handles GET /api/v1/conversations/:chat_id/history.
func (s *Server) getHistoryHandler(c *echo.Context) error {
	chatID := c.Param("chat_id")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		return err
	}

	messages, err := s.svc.GetHistory(c.Request().Context(), chatID, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, messages, "")
}
