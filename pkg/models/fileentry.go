package models

import "time"

// FileRole distinguishes uploaded inputs from produced outputs.
type FileRole string

// File role values.
const (
	FileRoleUploaded FileRole = "uploaded"
	FileRoleOutput   FileRole = "output"
)

// IsValid reports whether the role is a known value.
func (r FileRole) IsValid() bool {
	return r == FileRoleUploaded || r == FileRoleOutput
}

// FileEntry is the persisted record of a file owned by a conversation.
// (ChatID, FilePath, Role) is unique; repeated saves of the same path are
// idempotent updates.
type FileEntry struct {
	ChatID    string    `json:"chat_id"`
	FilePath  string    `json:"file_path"`
	Role      FileRole  `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
