package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tableflow/tableflow/pkg/database"
	"github.com/tableflow/tableflow/pkg/version"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status            string                 `json:"status"`
	Version           string                 `json:"version"`
	Database          *database.HealthStatus `json:"database,omitempty"`
	ActiveConnections int                    `json:"active_ws_connections"`
	ActiveJobs        int                    `json:"active_jobs"`
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:            "healthy",
		Version:           version.Full(),
		ActiveConnections: s.hub.ActiveConnections(),
		ActiveJobs:        len(s.svc.ListActiveJobs()),
	}

	dbHealth, err := database.Health(ctx, s.db.ReadDB())
	resp.Database = dbHealth
	if err != nil {
		resp.Status = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// OperationInfo describes one catalog operation for clients.
type OperationInfo struct {
	ID     string   `json:"id"`
	Intent string   `json:"intent"`
	Args   []string `json:"args"`
}

// listOperationsHandler handles GET /api/v1/operations: the catalog grouped
// by intent kind.
func (s *Server) listOperationsHandler(c *echo.Context) error {
	registry := s.svc.Registry()

	grouped := make(map[string][]OperationInfo)
	for _, id := range registry.IDs() {
		op, err := registry.Get(id)
		if err != nil {
			continue
		}
		args := make([]string, 0, len(op.Args))
		for name := range op.Args {
			args = append(args, name)
		}
		sort.Strings(args)
		grouped[op.Intent] = append(grouped[op.Intent], OperationInfo{
			ID:     op.ID,
			Intent: op.Intent,
			Args:   args,
		})
	}
	return respond(c, http.StatusOK, grouped, "")
}

// sqliteBackupHandler handles POST /api/v1/sqlite/backup: VACUUMs the live
// database into a timestamped snapshot file.
func (s *Server) sqliteBackupHandler(c *echo.Context) error {
	path, err := s.db.Snapshot(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, map[string]string{"backup_path": path}, "database backed up")
}
