// Package models defines the persistent data model shared by the repository,
// services, and API layers.
package models

import "time"

// ConversationStatus is the lifecycle status of a conversation.
type ConversationStatus string

// Conversation status values. Status advances monotonically
// created → processing → (completed|failed); only restore may re-enter created.
const (
	ConversationCreated    ConversationStatus = "created"
	ConversationProcessing ConversationStatus = "processing"
	ConversationCompleted  ConversationStatus = "completed"
	ConversationFailed     ConversationStatus = "failed"
)

// IsValid reports whether the status is a known value.
func (s ConversationStatus) IsValid() bool {
	switch s {
	case ConversationCreated, ConversationProcessing, ConversationCompleted, ConversationFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status is terminal.
func (s ConversationStatus) IsTerminal() bool {
	return s == ConversationCompleted || s == ConversationFailed
}

// Conversation is the top-level aggregate: a persistent chat between one user
// and the bot, identified by ChatID. Messages, WorkflowSteps, and file entries
// are exclusively owned and cascade-deleted with the conversation.
type Conversation struct {
	ChatID          string             `json:"chat_id"`
	ParticipantName string             `json:"participant_name"`
	Status          ConversationStatus `json:"status"`

	// PartitionKey is frozen at creation and determines on-disk layout.
	PartitionKey string `json:"partition_key"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Hydrated children, ordered by created_at / started_at ascending.
	Messages      []*Message      `json:"messages,omitempty"`
	WorkflowSteps []*WorkflowStep `json:"workflow_steps,omitempty"`

	// File paths keyed by role.
	UploadedFiles []string `json:"uploaded_files,omitempty"`
	OutputFiles   []string `json:"output_files,omitempty"`

	// Metadata is an opaque extension map.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LatestUpload returns the most recently recorded uploaded file path, or ""
// if the conversation has no uploads.
func (c *Conversation) LatestUpload() string {
	if len(c.UploadedFiles) == 0 {
		return ""
	}
	return c.UploadedFiles[len(c.UploadedFiles)-1]
}
