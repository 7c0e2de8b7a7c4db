package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HealthStatus describes the database health check result.
type HealthStatus struct {
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// Health pings the database and measures round-trip latency.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()
	err := db.PingContext(ctx)
	status := &HealthStatus{
		Reachable: err == nil,
		Latency:   time.Since(start),
	}
	if err != nil {
		status.Error = err.Error()
		return status, fmt.Errorf("database ping failed: %w", err)
	}
	return status, nil
}
