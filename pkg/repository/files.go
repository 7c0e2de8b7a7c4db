package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/tableflow/tableflow/pkg/models"
)

// RecordFile upserts a file entry. Repeated saves of the same
// (chat_id, path, role) are idempotent: the original created_at is kept so
// upload ordering stays stable across replays.
func (r *Repository) RecordFile(ctx context.Context, chatID, path string, role models.FileRole) error {
	if chatID == "" || path == "" {
		return fmt.Errorf("%w: chat_id and file_path are required", ErrInvalidInput)
	}
	if !role.IsValid() {
		return fmt.Errorf("%w: unknown file role %q", ErrInvalidInput, role)
	}
	_, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO files (chat_id, file_path, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id, file_path, role) DO UPDATE SET
			created_at = files.created_at`,
		chatID, path, string(role), fmtTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to record file: %w", err)
	}
	return nil
}

// ListFileEntries returns all file entries for a conversation ordered by
// created_at ascending.
func (r *Repository) ListFileEntries(ctx context.Context, chatID string) ([]*models.FileEntry, error) {
	rows, err := r.db.ReadDB().QueryContext(ctx, `
		SELECT chat_id, file_path, role, created_at
		FROM files WHERE chat_id = ? ORDER BY created_at ASC, file_path ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.FileEntry
	for rows.Next() {
		var e models.FileEntry
		var role, createdAt string
		if err := rows.Scan(&e.ChatID, &e.FilePath, &role, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan file entry: %w", err)
		}
		e.Role = models.FileRole(role)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ListFilePaths returns just the paths for one role, upload order preserved.
func (r *Repository) ListFilePaths(ctx context.Context, chatID string, role models.FileRole) ([]string, error) {
	entries, err := r.ListFileEntries(ctx, chatID)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.Role == role {
			paths = append(paths, e.FilePath)
		}
	}
	return paths, nil
}
