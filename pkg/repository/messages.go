package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tableflow/tableflow/pkg/models"
)

// AddMessage records a message. created_at is allocated under a lock so it is
// strictly greater than every earlier message of the same conversation.
func (r *Repository) AddMessage(ctx context.Context, req models.AddMessageRequest) (*models.Message, error) {
	if req.ChatID == "" {
		return nil, fmt.Errorf("%w: chat_id is required", ErrInvalidInput)
	}
	if !req.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidInput, req.Type)
	}

	msg := &models.Message{
		MessageID: uuid.New().String(),
		ChatID:    req.ChatID,
		Type:      req.Type,
		Content:   req.Content,
		Metadata:  req.Metadata,
		CreatedAt: r.nextMessageTime(ctx, req.ChatID),
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]string{}
	}

	metaJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message metadata: %w", err)
	}
	_, err = r.db.DB().ExecContext(ctx, `
		INSERT INTO messages (message_id, chat_id, message_type, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.ChatID, string(msg.Type), msg.Content, string(metaJSON), fmtTime(msg.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

// nextMessageTime returns a timestamp strictly after the last one handed out
// (or persisted) for the conversation.
func (r *Repository) nextMessageTime(ctx context.Context, chatID string) time.Time {
	r.msgMu.Lock()
	defer r.msgMu.Unlock()

	now := time.Now()
	last, ok := r.lastMsgAt[chatID]
	if !ok {
		// Cold cache (fresh process): consult the persisted maximum.
		var maxStr string
		row := r.db.ReadDB().QueryRowContext(ctx,
			`SELECT COALESCE(MAX(created_at), '') FROM messages WHERE chat_id = ?`, chatID)
		if err := row.Scan(&maxStr); err == nil && maxStr != "" {
			last = parseTime(maxStr)
		}
	}
	if !now.After(last) {
		now = last.Add(time.Microsecond)
	}
	r.lastMsgAt[chatID] = now
	return now
}

// GetMessages returns a conversation's messages ordered by created_at
// ascending. limit 0 means no limit; a positive limit returns the most
// recent N messages, still in ascending order.
func (r *Repository) GetMessages(ctx context.Context, chatID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT message_id, chat_id, message_type, content, metadata, created_at
		FROM messages WHERE chat_id = ? ORDER BY created_at ASC`
	rows, err := r.db.ReadDB().QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*models.Message
	for rows.Next() {
		var m models.Message
		var typ, metaJSON, createdAt string
		if err := rows.Scan(&m.MessageID, &m.ChatID, &typ, &m.Content, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Type = models.MessageType(typ)
		m.CreatedAt = parseTime(createdAt)
		if err := json.Unmarshal([]byte(metaJSON), &m.Metadata); err != nil {
			m.Metadata = map[string]string{}
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
