package models

import "time"

// MessageType classifies a message within a conversation.
type MessageType string

// Message type values.
const (
	MessageUser       MessageType = "user"
	MessageSystem     MessageType = "system"
	MessageFileUpload MessageType = "file_upload"
	MessageProgress   MessageType = "progress"
	MessageError      MessageType = "error"
)

// IsValid reports whether the message type is a known value.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageUser, MessageSystem, MessageFileUpload, MessageProgress, MessageError:
		return true
	}
	return false
}

// Metadata keys used on system messages that carry a workflow proposal.
const (
	MetaSuggestedWorkflow    = "suggested_workflow"    // serialized proposed step list (JSON)
	MetaRequiresConfirmation = "requires_confirmation" // "true" when awaiting user confirmation
	MetaRequiresFile         = "requires_file"         // "true" when the proposal needs an upload first
	MetaIntent               = "intent"                // classified intent kind
)

// Message is a single immutable entry in a conversation's history.
// CreatedAt is the ordering key; the repository guarantees strict
// monotonicity per conversation.
type Message struct {
	MessageID string            `json:"message_id"`
	ChatID    string            `json:"chat_id"`
	Type      MessageType       `json:"message_type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// AddMessageRequest contains fields for recording a message.
type AddMessageRequest struct {
	ChatID   string            `json:"chat_id"`
	Type     MessageType       `json:"message_type"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
