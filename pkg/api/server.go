// Package api exposes the HTTP and WebSocket surface of the server.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tableflow/tableflow/pkg/config"
	"github.com/tableflow/tableflow/pkg/database"
	"github.com/tableflow/tableflow/pkg/events"
	"github.com/tableflow/tableflow/pkg/services"
)

// Server wires the chat service, event hub, and database into an echo router.
type Server struct {
	cfg *config.Config
	svc *services.ChatService
	hub *events.Hub
	db  *database.Client

	echo *echo.Echo
	http *http.Server
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, svc *services.ChatService, hub *events.Hub, db *database.Client) *Server {
	s := &Server{
		cfg:  cfg,
		svc:  svc,
		hub:  hub,
		db:   db,
		echo: echo.New(),
	}

	s.echo.Use(requestID())
	s.echo.Use(securityHeaders())

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/health", s.healthHandler)
	e.GET("/chat/:chat_id", s.wsHandler)

	v1 := e.Group("/api/v1")
	v1.GET("/operations", s.listOperationsHandler)

	v1.POST("/conversations", s.createConversationHandler)
	v1.GET("/conversations", s.listConversationsHandler)
	v1.POST("/conversations/restore", s.restoreHandler)
	v1.GET("/conversations/:chat_id", s.getConversationHandler)
	v1.DELETE("/conversations/:chat_id", s.deleteConversationHandler)

	v1.POST("/conversations/:chat_id/message", s.sendMessageHandler)
	v1.GET("/conversations/:chat_id/history", s.getHistoryHandler)

	v1.POST("/conversations/:chat_id/upload", s.uploadFileHandler)
	v1.GET("/conversations/:chat_id/files/:filename", s.downloadFileHandler)

	v1.POST("/conversations/:chat_id/confirm", s.confirmWorkflowHandler)
	v1.GET("/conversations/:chat_id/workflow/status/:job_id", s.getJobStatusHandler)
	v1.POST("/conversations/:chat_id/dump", s.dumpHandler)
	v1.GET("/conversations/:chat_id/dumps/:filename", s.downloadDumpHandler)

	v1.GET("/jobs", s.listJobsHandler)

	v1.POST("/sqlite/backup", s.sqliteBackupHandler)
}

// Start begins serving on addr. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Echo exposes the router for handler tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
