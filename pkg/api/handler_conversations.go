package api

import (
	"net/http"
	"path/filepath"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/tableflow/tableflow/pkg/models"
)

// CreateConversationRequest is the optional request body for
// POST /api/v1/conversations.
type CreateConversationRequest struct {
	PartitionStrategy string `json:"partition_strategy,omitempty"`
}

// ConversationResponse is the wire shape of a conversation, with file paths
// replaced by download URLs.
type ConversationResponse struct {
	ChatID          string                 `json:"chat_id"`
	ParticipantName string                 `json:"participant_name"`
	Status          string                 `json:"status"`
	PartitionKey    string                 `json:"partition_key"`
	CreatedAt       string                 `json:"created_at"`
	UpdatedAt       string                 `json:"updated_at"`
	Messages        []*models.Message      `json:"messages,omitempty"`
	WorkflowSteps   []*models.WorkflowStep `json:"workflow_steps,omitempty"`
	UploadedFiles   []string               `json:"uploaded_files,omitempty"`
	OutputFiles     []string               `json:"output_files,omitempty"`
}

func conversationResponse(c *echo.Context, conv *models.Conversation) *ConversationResponse {
	resp := &ConversationResponse{
		ChatID:          conv.ChatID,
		ParticipantName: conv.ParticipantName,
		Status:          string(conv.Status),
		PartitionKey:    conv.PartitionKey,
		CreatedAt:       conv.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt:       conv.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Messages:        conv.Messages,
		WorkflowSteps:   conv.WorkflowSteps,
	}
	for _, p := range conv.UploadedFiles {
		resp.UploadedFiles = append(resp.UploadedFiles, downloadURL(c, conv.ChatID, filepath.Base(p)))
	}
	for _, p := range conv.OutputFiles {
		resp.OutputFiles = append(resp.OutputFiles, downloadURL(c, conv.ChatID, filepath.Base(p)))
	}
	return resp
}

// createConversationHandler handles POST /api/v1/conversations.
func (s *Server) createConversationHandler(c *echo.Context) error {
	var req CreateConversationRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	conv, err := s.svc.CreateConversation(c.Request().Context(), req.PartitionStrategy)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, conversationResponse(c, conv), "conversation created")
}

// listConversationsHandler handles GET /api/v1/conversations.
func (s *Server) listConversationsHandler(c *echo.Context) error {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		return err
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		return err
	}

	convs, err := s.svc.ListConversations(c.Request().Context(), c.QueryParam("status"), limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	out := make([]*ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, conversationResponse(c, conv))
	}
	return respond(c, http.StatusOK, out, "")
}

// getConversationHandler handles GET /api/v1/conversations/:chat_id.
func (s *Server) getConversationHandler(c *echo.Context) error {
	conv, err := s.svc.GetConversation(c.Request().Context(), c.Param("chat_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, conversationResponse(c, conv), "")
}

// deleteConversationHandler handles DELETE /api/v1/conversations/:chat_id.
func (s *Server) deleteConversationHandler(c *echo.Context) error {
	if err := s.svc.DeleteConversation(c.Request().Context(), c.Param("chat_id")); err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, nil, "conversation deleted")
}

func intQuery(c *echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}
