package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tableflow/tableflow/pkg/models"
	"github.com/tableflow/tableflow/pkg/storage"
)

// historyExport is the history.json payload packed into dump archives so a
// restore can rebuild the full conversation record, not just its files.
type historyExport struct {
	Messages      []*models.Message      `json:"messages"`
	WorkflowSteps []*models.WorkflowStep `json:"workflow_steps"`
	FileEntries   []*models.FileEntry    `json:"file_entries"`
	Metadata      map[string]string      `json:"metadata,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Dump refreshes metadata.json and history.json from the database, then packs
// the conversation directory into a tar.gz archive. Returns the archive path.
func (r *Repository) Dump(ctx context.Context, chatID string) (string, error) {
	conv, err := r.GetConversation(ctx, chatID)
	if err != nil {
		return "", err
	}

	if err := r.store.WriteMetadata(&storage.Metadata{
		ChatID:          conv.ChatID,
		PartitionKey:    conv.PartitionKey,
		ParticipantName: conv.ParticipantName,
		Status:          conv.Status,
		CreatedAt:       conv.CreatedAt,
	}); err != nil {
		return "", err
	}

	entries, err := r.ListFileEntries(ctx, chatID)
	if err != nil {
		return "", err
	}
	export := historyExport{
		Messages:      conv.Messages,
		WorkflowSteps: conv.WorkflowSteps,
		FileEntries:   entries,
		Metadata:      conv.Metadata,
		UpdatedAt:     conv.UpdatedAt,
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := r.store.WriteHistory(conv.PartitionKey, conv.ChatID, data); err != nil {
		return "", err
	}

	return r.store.Dump(conv.ChatID, conv.PartitionKey)
}

// Restore unpacks a dump archive, reinserts the conversation row and its
// children from history.json (falling back to scanned files for archives
// without one), and returns the hydrated conversation.
//
// The restored conversation re-enters status=created unless the archive
// carries a terminal status, which is preserved verbatim.
func (r *Repository) Restore(ctx context.Context, archive []byte) (*models.Conversation, error) {
	meta, scanned, err := r.store.Restore(archive)
	if err != nil {
		return nil, err
	}

	// Only terminal statuses survive the round trip. A conversation dumped
	// mid-flight (processing, or freshly created) has no live job after
	// restore, so it re-enters created and stays confirmable.
	status := meta.Status
	if status != models.ConversationCompleted && status != models.ConversationFailed {
		status = models.ConversationCreated
	}
	conv := &models.Conversation{
		ChatID:          meta.ChatID,
		ParticipantName: meta.ParticipantName,
		Status:          status,
		PartitionKey:    meta.PartitionKey,
		CreatedAt:       meta.CreatedAt,
		UpdatedAt:       time.Now(),
		Metadata:        map[string]string{},
	}

	// Replace any existing rows for this chat id wholesale: delete (children
	// cascade) then reinsert from the archive.
	if _, err := r.db.DB().ExecContext(ctx, `DELETE FROM conversations WHERE chat_id = ?`, conv.ChatID); err != nil {
		return nil, fmt.Errorf("failed to clear existing conversation: %w", err)
	}
	if err := r.upsertConversation(ctx, conv); err != nil {
		return nil, err
	}

	histData, histErr := r.store.ReadHistory(conv.PartitionKey, conv.ChatID)
	switch {
	case histErr == nil:
		if err := r.restoreHistory(ctx, conv, histData); err != nil {
			return nil, err
		}
	case errors.Is(histErr, storage.ErrFileNotFound):
		// Pre-history archive: rebuild file entries from the scanned tree.
		slog.Info("Restore archive has no history.json, rebuilding from files",
			"chat_id", conv.ChatID)
		for _, f := range scanned {
			if err := r.RecordFile(ctx, conv.ChatID, f.Path, f.Role); err != nil {
				return nil, err
			}
		}
	default:
		return nil, histErr
	}

	// Timestamp cache may hold stale state from a pre-restore incarnation.
	r.msgMu.Lock()
	delete(r.lastMsgAt, conv.ChatID)
	r.msgMu.Unlock()

	return r.GetConversation(ctx, conv.ChatID)
}

// restoreHistory reinserts messages, workflow steps, file entries, and
// conversation metadata from a history.json export.
func (r *Repository) restoreHistory(ctx context.Context, conv *models.Conversation, data []byte) error {
	var export historyExport
	if err := json.Unmarshal(data, &export); err != nil {
		return fmt.Errorf("%w: invalid history.json", storage.ErrMalformedArchive)
	}

	if len(export.Metadata) > 0 {
		conv.Metadata = export.Metadata
		if err := r.upsertConversation(ctx, conv); err != nil {
			return err
		}
	}

	for _, m := range export.Messages {
		metaJSON, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal message metadata: %w", err)
		}
		if _, err := r.db.DB().ExecContext(ctx, `
			INSERT INTO messages (message_id, chat_id, message_type, content, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.MessageID, conv.ChatID, string(m.Type), m.Content, string(metaJSON), fmtTime(m.CreatedAt),
		); err != nil {
			return fmt.Errorf("failed to restore message: %w", err)
		}
	}

	for _, s := range export.WorkflowSteps {
		s.ChatID = conv.ChatID
		if err := r.UpdateWorkflowStep(ctx, s); err != nil {
			return fmt.Errorf("failed to restore workflow step: %w", err)
		}
	}

	for _, e := range export.FileEntries {
		// Paths inside the archive were recorded on the dumping host; remap
		// to the restored tree by filename and role.
		if err := r.RecordFile(ctx, conv.ChatID, r.remapRestoredPath(conv, e), e.Role); err != nil {
			return err
		}
	}
	return nil
}

// remapRestoredPath rewrites an exported file path onto this host's restored
// conversation directory, preserving the base filename and role directory.
func (r *Repository) remapRestoredPath(conv *models.Conversation, e *models.FileEntry) string {
	if path, err := r.store.FindFile(conv.ChatID, conv.PartitionKey, baseName(e.FilePath)); err == nil {
		return path
	}
	return e.FilePath
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
