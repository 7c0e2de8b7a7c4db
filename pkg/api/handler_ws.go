package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades GET /chat/:chat_id to WebSocket and delegates to the
// event hub. The conversation must exist before a client can join its room.
func (s *Server) wsHandler(c *echo.Context) error {
	chatID := c.Param("chat_id")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}
	if _, err := s.svc.GetConversation(c.Request().Context(), chatID); err != nil {
		return mapServiceError(err)
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.hub.HandleConnection(c.Request().Context(), conn, chatID)
	return nil
}
