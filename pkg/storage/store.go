// Package storage implements the partitioned on-disk layout for conversation
// files: uploads, outputs, metadata.json, and tar.gz dump archives.
//
// Layout:
//
//	<base>/<partition_key>/<chat_id>/
//	    uploads/<filename>
//	    outputs/<filename>
//	    metadata.json
//	<base>/dumps/<chat_id>_<timestamp>.tar.gz
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tableflow/tableflow/pkg/models"
)

// Subdirectory and file names inside a conversation directory.
const (
	uploadsDir   = "uploads"
	outputsDir   = "outputs"
	metadataFile = "metadata.json"
	historyFile  = "history.json"
	dumpsDir     = "dumps"
)

// Metadata is the metadata.json content inside a conversation directory.
// It is the source of truth during restore.
type Metadata struct {
	ChatID          string                    `json:"chat_id"`
	PartitionKey    string                    `json:"partition_key"`
	ParticipantName string                    `json:"participant_name"`
	Status          models.ConversationStatus `json:"status"`
	CreatedAt       time.Time                 `json:"created_at"`
}

// Store manages the partitioned conversation tree rooted at an absolute base
// directory. All path construction resolves to absolute paths before I/O.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir, creating the directory tree.
func NewStore(baseDir string) (*Store, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, dumpsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dumps directory: %w", err)
	}
	return &Store{baseDir: abs}, nil
}

// BaseDir returns the absolute base directory.
func (s *Store) BaseDir() string { return s.baseDir }

// ConversationDir returns the absolute directory for a conversation.
func (s *Store) ConversationDir(partitionKey, chatID string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(partitionKey), chatID)
}

// CreateConversationDir creates the directory skeleton (uploads/, outputs/)
// for a new conversation.
func (s *Store) CreateConversationDir(partitionKey, chatID string) error {
	dir := s.ConversationDir(partitionKey, chatID)
	for _, sub := range []string{uploadsDir, outputsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	return nil
}

// SaveUploaded writes an uploaded file into the conversation's uploads/
// directory and returns its absolute path.
func (s *Store) SaveUploaded(chatID, partitionKey, filename string, data []byte) (string, error) {
	return s.saveFile(chatID, partitionKey, uploadsDir, filename, data)
}

// SaveOutput writes a produced artifact into the conversation's outputs/
// directory and returns its absolute path.
func (s *Store) SaveOutput(chatID, partitionKey, filename string, data []byte) (string, error) {
	return s.saveFile(chatID, partitionKey, outputsDir, filename, data)
}

func (s *Store) saveFile(chatID, partitionKey, sub, filename string, data []byte) (string, error) {
	clean, err := SanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.ConversationDir(partitionKey, chatID), sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", sub, err)
	}
	path := filepath.Join(dir, clean)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

// Read returns the contents of a file after verifying that its resolved real
// path lies within the expected conversation directory.
func (s *Store) Read(chatID, partitionKey, path string) ([]byte, error) {
	if err := s.checkContainment(s.ConversationDir(partitionKey, chatID), path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Open returns an open file handle with the same containment check as Read.
// Used for streaming downloads.
func (s *Store) Open(chatID, partitionKey, path string) (*os.File, error) {
	if err := s.checkContainment(s.ConversationDir(partitionKey, chatID), path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// FindFile locates a file by bare name in the conversation's uploads/ then
// outputs/ directories, returning its absolute path.
func (s *Store) FindFile(chatID, partitionKey, filename string) (string, error) {
	clean, err := SanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	dir := s.ConversationDir(partitionKey, chatID)
	for _, sub := range []string{uploadsDir, outputsDir} {
		path := filepath.Join(dir, sub, clean)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrFileNotFound
}

// DeleteConversation removes the conversation directory recursively.
func (s *Store) DeleteConversation(chatID, partitionKey string) error {
	dir := s.ConversationDir(partitionKey, chatID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete conversation directory: %w", err)
	}
	return nil
}

// WriteMetadata writes metadata.json into the conversation directory.
func (s *Store) WriteMetadata(meta *Metadata) error {
	dir := s.ConversationDir(meta.PartitionKey, meta.ChatID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create conversation directory: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// ReadMetadata reads metadata.json from the conversation directory.
func (s *Store) ReadMetadata(partitionKey, chatID string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(s.ConversationDir(partitionKey, chatID), metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &meta, nil
}

// WriteHistory stores a serialized history export (messages, steps, file
// entries) alongside metadata.json so dump archives are self-contained.
func (s *Store) WriteHistory(partitionKey, chatID string, data []byte) error {
	dir := s.ConversationDir(partitionKey, chatID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create conversation directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, historyFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// ReadHistory returns the serialized history export, or ErrFileNotFound for
// archives produced without one.
func (s *Store) ReadHistory(partitionKey, chatID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.ConversationDir(partitionKey, chatID), historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return data, nil
}

// ListFiles returns the absolute paths of files under the given role
// subdirectory of a conversation, sorted by name.
func (s *Store) ListFiles(chatID, partitionKey string, role models.FileRole) ([]string, error) {
	sub := uploadsDir
	if role == models.FileRoleOutput {
		sub = outputsDir
	}
	dir := filepath.Join(s.ConversationDir(partitionKey, chatID), sub)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", sub, err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

// SanitizeFilename validates a client-supplied filename. Path separators,
// null bytes, empty names, and ".." components are rejected before any I/O.
func SanitizeFilename(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty filename", ErrPathEscape)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	if name == "." || name == ".." || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	return name, nil
}

// checkContainment verifies that path resolves inside dir, following
// symlinks on the existing portion of the path.
func (s *Store) checkContainment(dir, path string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathEscape, err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathEscape, err)
	}

	// Resolve symlinks on the parent (the file itself may not exist yet).
	realParent, err := filepath.EvalSymlinks(filepath.Dir(absPath))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrFileNotFound
		}
		return fmt.Errorf("%w: %v", ErrPathEscape, err)
	}
	realDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrFileNotFound
		}
		return fmt.Errorf("%w: %v", ErrPathEscape, err)
	}

	rel, err := filepath.Rel(realDir, filepath.Join(realParent, filepath.Base(absPath)))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	return nil
}
