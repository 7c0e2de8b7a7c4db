// Package repository composes the persistence layer (SQLite) and the storage
// layer (partitioned filesystem) into coherent conversation operations. It is
// the only component that mutates both together.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tableflow/tableflow/pkg/config"
	"github.com/tableflow/tableflow/pkg/database"
	"github.com/tableflow/tableflow/pkg/models"
	"github.com/tableflow/tableflow/pkg/storage"
)

// timeLayout is the canonical stored form of every timestamp: UTC with a
// fixed 9-digit fraction so string ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Fall back for timestamps written by hand or older tooling.
		if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t2
		}
		return time.Time{}
	}
	return t
}

// Repository is the cohesive API over persistence and storage.
type Repository struct {
	db        *database.Client
	store     *storage.Store
	partition *config.PartitionConfig

	// msgMu serializes message timestamp allocation so created_at is
	// strictly monotonic within each conversation.
	msgMu     sync.Mutex
	lastMsgAt map[string]time.Time
}

// New creates a Repository over the given database client and store.
func New(db *database.Client, store *storage.Store, partition *config.PartitionConfig) *Repository {
	return &Repository{
		db:        db,
		store:     store,
		partition: partition,
		lastMsgAt: make(map[string]time.Time),
	}
}

// Store exposes the underlying storage layer for read-side path helpers.
func (r *Repository) Store() *storage.Store { return r.store }

// CreateConversation allocates a chat id, generates a participant name,
// freezes the partition key, inserts the row, creates the on-disk directory
// skeleton, and writes metadata.json.
//
// strategy overrides the configured partition strategy when non-empty.
func (r *Repository) CreateConversation(ctx context.Context, strategy config.PartitionStrategy) (*models.Conversation, error) {
	partCfg := *r.partition
	if strategy != "" {
		if !strategy.IsValid() {
			return nil, fmt.Errorf("%w: unknown partition strategy %q", ErrInvalidInput, strategy)
		}
		partCfg.Strategy = strategy
	}

	now := time.Now()
	conv := &models.Conversation{
		ChatID:          uuid.New().String(),
		ParticipantName: generateParticipantName(),
		Status:          models.ConversationCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
		Metadata:        map[string]string{},
	}
	conv.PartitionKey = storage.ComputePartitionKey(&partCfg, conv.ChatID, now)

	if err := r.upsertConversation(ctx, conv); err != nil {
		return nil, err
	}
	if err := r.store.CreateConversationDir(conv.PartitionKey, conv.ChatID); err != nil {
		return nil, err
	}
	if err := r.store.WriteMetadata(&storage.Metadata{
		ChatID:          conv.ChatID,
		PartitionKey:    conv.PartitionKey,
		ParticipantName: conv.ParticipantName,
		Status:          conv.Status,
		CreatedAt:       conv.CreatedAt,
	}); err != nil {
		return nil, err
	}
	return conv, nil
}

// upsertConversation inserts or updates a conversation row. A plain
// REPLACE INTO would cascade-delete dependent rows, so conflicts update.
func (r *Repository) upsertConversation(ctx context.Context, conv *models.Conversation) error {
	metaJSON, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation metadata: %w", err)
	}
	_, err = r.db.DB().ExecContext(ctx, `
		INSERT INTO conversations (chat_id, participant_name, status, partition_key, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			participant_name = excluded.participant_name,
			status           = excluded.status,
			partition_key    = excluded.partition_key,
			metadata         = excluded.metadata,
			updated_at       = excluded.updated_at`,
		conv.ChatID, conv.ParticipantName, string(conv.Status), conv.PartitionKey,
		string(metaJSON), fmtTime(conv.CreatedAt), fmtTime(conv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}

// GetConversation hydrates the full aggregate: row, then messages, workflow
// steps, and file entries, in created_at / started_at ascending order.
func (r *Repository) GetConversation(ctx context.Context, chatID string) (*models.Conversation, error) {
	conv, err := r.getConversationRow(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if conv.Messages, err = r.GetMessages(ctx, chatID, 0); err != nil {
		return nil, err
	}
	if conv.WorkflowSteps, err = r.GetWorkflowSteps(ctx, chatID); err != nil {
		return nil, err
	}
	entries, err := r.ListFileEntries(ctx, chatID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		switch e.Role {
		case models.FileRoleUploaded:
			conv.UploadedFiles = append(conv.UploadedFiles, e.FilePath)
		case models.FileRoleOutput:
			conv.OutputFiles = append(conv.OutputFiles, e.FilePath)
		}
	}
	return conv, nil
}

func (r *Repository) getConversationRow(ctx context.Context, chatID string) (*models.Conversation, error) {
	row := r.db.ReadDB().QueryRowContext(ctx, `
		SELECT chat_id, participant_name, status, partition_key, metadata, created_at, updated_at
		FROM conversations WHERE chat_id = ?`, chatID)

	var conv models.Conversation
	var status, metaJSON, createdAt, updatedAt string
	err := row.Scan(&conv.ChatID, &conv.ParticipantName, &status, &conv.PartitionKey, &metaJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	conv.Status = models.ConversationStatus(status)
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(metaJSON), &conv.Metadata); err != nil {
		conv.Metadata = map[string]string{}
	}
	return &conv, nil
}

// ListConversations returns conversations newest-first, optionally filtered
// by status, with limit/offset pagination.
func (r *Repository) ListConversations(ctx context.Context, status models.ConversationStatus, limit, offset int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT chat_id, participant_name, status, partition_key, metadata, created_at, updated_at
		FROM conversations`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.ReadDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var st, metaJSON, createdAt, updatedAt string
		if err := rows.Scan(&conv.ChatID, &conv.ParticipantName, &st, &conv.PartitionKey, &metaJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.Status = models.ConversationStatus(st)
		conv.CreatedAt = parseTime(createdAt)
		conv.UpdatedAt = parseTime(updatedAt)
		if err := json.Unmarshal([]byte(metaJSON), &conv.Metadata); err != nil {
			conv.Metadata = map[string]string{}
		}
		out = append(out, &conv)
	}
	return out, rows.Err()
}

// UpdateConversationStatus sets the conversation status and bumps updated_at.
func (r *Repository) UpdateConversationStatus(ctx context.Context, chatID string, status models.ConversationStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown conversation status %q", ErrInvalidInput, status)
	}
	res, err := r.db.DB().ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE chat_id = ?`,
		string(status), fmtTime(time.Now()), chatID)
	if err != nil {
		return fmt.Errorf("failed to update conversation status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes the row (children cascade) and then the on-disk
// conversation directory.
func (r *Repository) DeleteConversation(ctx context.Context, chatID string) error {
	conv, err := r.getConversationRow(ctx, chatID)
	if err != nil {
		return err
	}
	res, err := r.db.DB().ExecContext(ctx, `DELETE FROM conversations WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := r.store.DeleteConversation(chatID, conv.PartitionKey); err != nil {
		// Row is gone; the directory is orphaned but harmless. Log and move on.
		slog.Warn("Failed to delete conversation directory",
			"chat_id", chatID, "partition_key", conv.PartitionKey, "error", err)
	}
	return nil
}

// SaveUploadedFile writes an uploaded file to storage and records its file
// entry. Returns the absolute stored path.
func (r *Repository) SaveUploadedFile(ctx context.Context, chatID, filename string, data []byte) (string, error) {
	conv, err := r.getConversationRow(ctx, chatID)
	if err != nil {
		return "", err
	}
	path, err := r.store.SaveUploaded(chatID, conv.PartitionKey, filename, data)
	if err != nil {
		return "", err
	}
	if err := r.RecordFile(ctx, chatID, path, models.FileRoleUploaded); err != nil {
		return "", err
	}
	return path, nil
}

// SaveOutputFile writes a produced artifact to storage and records its file
// entry. Returns the absolute stored path.
func (r *Repository) SaveOutputFile(ctx context.Context, chatID, filename string, data []byte) (string, error) {
	conv, err := r.getConversationRow(ctx, chatID)
	if err != nil {
		return "", err
	}
	path, err := r.store.SaveOutput(chatID, conv.PartitionKey, filename, data)
	if err != nil {
		return "", err
	}
	if err := r.RecordFile(ctx, chatID, path, models.FileRoleOutput); err != nil {
		return "", err
	}
	return path, nil
}
