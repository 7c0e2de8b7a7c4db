// Package services contains the business logic layer: conversation lifecycle,
// message handling, workflow confirmation, and job orchestration.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tableflow/tableflow/pkg/config"
	"github.com/tableflow/tableflow/pkg/intent"
	"github.com/tableflow/tableflow/pkg/models"
	"github.com/tableflow/tableflow/pkg/notify"
	"github.com/tableflow/tableflow/pkg/ops"
	"github.com/tableflow/tableflow/pkg/queue"
	"github.com/tableflow/tableflow/pkg/repository"
	"github.com/tableflow/tableflow/pkg/workflow"
)

// ChatService is the single entry point for conversation operations. HTTP
// handlers and the WebSocket layer never touch the repository directly.
type ChatService struct {
	repo       *repository.Repository
	registry   *ops.Registry
	classifier *intent.Classifier
	jobs       *queue.JobManager
	executor   *workflow.Executor
	contexts   *ContextManager
	notifier   *notify.Notifier

	logger *slog.Logger
}

// NewChatService wires the service from its collaborators. notifier may be
// nil (Slack disabled).
func NewChatService(
	repo *repository.Repository,
	registry *ops.Registry,
	classifier *intent.Classifier,
	jobs *queue.JobManager,
	executor *workflow.Executor,
	contexts *ContextManager,
	notifier *notify.Notifier,
) *ChatService {
	return &ChatService{
		repo:       repo,
		registry:   registry,
		classifier: classifier,
		jobs:       jobs,
		executor:   executor,
		contexts:   contexts,
		notifier:   notifier,
		logger:     slog.With("component", "chat-service"),
	}
}

// Registry exposes the operation catalog for the API layer.
func (s *ChatService) Registry() *ops.Registry { return s.registry }

// CreateConversation starts a new conversation with a welcome message.
// strategy overrides the configured partition strategy when non-empty.
func (s *ChatService) CreateConversation(ctx context.Context, strategy string) (*models.Conversation, error) {
	ps := config.PartitionStrategy(strategy)
	if strategy != "" && !ps.IsValid() {
		return nil, NewValidationError("partition_strategy", fmt.Sprintf("unknown strategy %q", strategy))
	}
	conv, err := s.repo.CreateConversation(ctx, ps)
	if err != nil {
		return nil, err
	}
	welcome, err := s.addSystemMessage(ctx, conv.ChatID,
		fmt.Sprintf("Hello %s! Upload a file and tell me what to do with it. Type 'help' to see the available workflows.", conv.ParticipantName), nil)
	if err != nil {
		return nil, err
	}
	conv.Messages = append(conv.Messages, welcome)
	return conv, nil
}

// GetConversation returns a fully hydrated conversation.
func (s *ChatService) GetConversation(ctx context.Context, chatID string) (*models.Conversation, error) {
	if chatID == "" {
		return nil, NewValidationError("chat_id", "required")
	}
	conv, err := s.repo.GetConversation(ctx, chatID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return conv, nil
}

// ListConversations returns conversations, optionally filtered by status.
func (s *ChatService) ListConversations(ctx context.Context, status string, limit, offset int) ([]*models.Conversation, error) {
	st := models.ConversationStatus(status)
	if status != "" && !st.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	return s.repo.ListConversations(ctx, st, limit, offset)
}

// GetHistory returns the message history for a conversation, newest-limit
// tail when limit > 0.
func (s *ChatService) GetHistory(ctx context.Context, chatID string, limit int) ([]*models.Message, error) {
	if chatID == "" {
		return nil, NewValidationError("chat_id", "required")
	}
	if _, err := s.repo.GetConversation(ctx, chatID); err != nil {
		return nil, mapRepoError(err)
	}
	return s.repo.GetMessages(ctx, chatID, limit)
}

// DeleteConversation removes a conversation, its rows, files, and context.
func (s *ChatService) DeleteConversation(ctx context.Context, chatID string) error {
	if chatID == "" {
		return NewValidationError("chat_id", "required")
	}
	if err := s.repo.DeleteConversation(ctx, chatID); err != nil {
		return mapRepoError(err)
	}
	s.contexts.Drop(chatID)
	return nil
}

// UploadFile stores an uploaded file, records it in history, and advances an
// awaiting_file dialogue to awaiting_confirmation.
func (s *ChatService) UploadFile(ctx context.Context, chatID, filename string, data []byte) (*UploadResult, error) {
	if chatID == "" {
		return nil, NewValidationError("chat_id", "required")
	}
	if filename == "" {
		return nil, NewValidationError("filename", "required")
	}
	conv, err := s.repo.GetConversation(ctx, chatID)
	if err != nil {
		return nil, mapRepoError(err)
	}

	path, err := s.repo.SaveUploadedFile(ctx, chatID, filename, data)
	if err != nil {
		return nil, err
	}

	msg, err := s.repo.AddMessage(ctx, models.AddMessageRequest{
		ChatID:   chatID,
		Type:     models.MessageFileUpload,
		Content:  fmt.Sprintf("Uploaded %s (%d bytes)", filename, len(data)),
		Metadata: map[string]string{"filename": filename, "file_path": path},
	})
	if err != nil {
		return nil, err
	}

	c := s.contexts.Get(ctx, conv)
	c.recordUpload(path)

	result := &UploadResult{FilePath: path, Message: msg, State: c.State}
	if c.State == StateAwaitingFile && c.Pending != nil {
		if err := c.transition(StateAwaitingConfirmation); err != nil {
			return nil, err
		}
		reply, err := s.addProposalMessage(ctx, chatID, c.Pending,
			fmt.Sprintf("Got %s. Ready to run the %s workflow. Proceed?", filename, c.Pending.Intent), false)
		if err != nil {
			return nil, err
		}
		result.Reply = reply
		result.State = c.State
	}
	return result, nil
}

// UploadResult describes a completed file upload.
type UploadResult struct {
	FilePath string          `json:"file_path"`
	Message  *models.Message `json:"message"`
	Reply    *models.Message `json:"reply,omitempty"`
	State    State           `json:"state"`
}

// OpenFile locates a conversation file by bare name and returns an open
// handle for streaming. The caller closes it.
func (s *ChatService) OpenFile(ctx context.Context, chatID, filename string) (*os.File, error) {
	if chatID == "" {
		return nil, NewValidationError("chat_id", "required")
	}
	conv, err := s.repo.GetConversation(ctx, chatID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	store := s.repo.Store()
	path, err := store.FindFile(chatID, conv.PartitionKey, filename)
	if err != nil {
		return nil, err
	}
	return store.Open(chatID, conv.PartitionKey, path)
}

// GetJobStatus returns a snapshot of a background job. Lookups are scoped to
// the conversation: a job id belonging to another chat is not found.
func (s *ChatService) GetJobStatus(chatID, jobID string) (queue.Snapshot, error) {
	if chatID == "" {
		return queue.Snapshot{}, NewValidationError("chat_id", "required")
	}
	snap, err := s.jobs.GetStatus(jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return queue.Snapshot{}, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
		}
		return queue.Snapshot{}, err
	}
	if snap.ChatID != chatID {
		return queue.Snapshot{}, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return snap, nil
}

// ListActiveJobs returns all non-terminal jobs.
func (s *ChatService) ListActiveJobs() []queue.Snapshot {
	return s.jobs.ListActive()
}

// Dump packs a conversation into a tar.gz archive and returns its path.
func (s *ChatService) Dump(ctx context.Context, chatID string) (string, error) {
	if chatID == "" {
		return "", NewValidationError("chat_id", "required")
	}
	path, err := s.repo.Dump(ctx, chatID)
	if err != nil {
		return "", mapRepoError(err)
	}
	return path, nil
}

// OpenDump returns an open handle on a conversation's dump archive by bare
// name for streaming. The caller closes it.
func (s *ChatService) OpenDump(ctx context.Context, chatID, filename string) (*os.File, error) {
	if chatID == "" {
		return nil, NewValidationError("chat_id", "required")
	}
	if _, err := s.repo.GetConversation(ctx, chatID); err != nil {
		return nil, mapRepoError(err)
	}
	return s.repo.Store().OpenDump(chatID, filename)
}

// Restore rebuilds a conversation from a dump archive, replacing any existing
// conversation with the same chat id.
func (s *ChatService) Restore(ctx context.Context, archive []byte) (*models.Conversation, error) {
	if len(archive) == 0 {
		return nil, NewValidationError("archive", "required")
	}
	conv, err := s.repo.Restore(ctx, archive)
	if err != nil {
		return nil, err
	}
	// Context must be rebuilt from the restored record, not a stale cache.
	s.contexts.Drop(conv.ChatID)
	return conv, nil
}

func mapRepoError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if errors.Is(err, repository.ErrInvalidInput) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return err
}
