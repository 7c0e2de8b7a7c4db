package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// snapshotTimestampLayout matches the timestamped snapshot file names.
const snapshotTimestampLayout = "20060102_150405"

// Snapshot copies the store file atomically into the snapshots directory
// next to the database file, using SQLite's VACUUM INTO which produces a
// consistent copy even with concurrent readers.
//
// Returns the path of the snapshot file.
func (c *Client) Snapshot(ctx context.Context) (string, error) {
	if c.path == ":memory:" {
		return "", fmt.Errorf("cannot snapshot an in-memory database")
	}

	snapshotDir := filepath.Join(filepath.Dir(c.path), "snapshots")
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	name := fmt.Sprintf("chat_backup_%s.db", time.Now().Format(snapshotTimestampLayout))
	dest := filepath.Join(snapshotDir, name)

	// VACUUM INTO refuses to overwrite; a leftover partial file from a
	// crashed snapshot is removed first.
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to clear snapshot destination: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return "", fmt.Errorf("failed to snapshot database: %w", err)
	}
	return dest, nil
}
