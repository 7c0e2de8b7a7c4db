package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableflow/tableflow/pkg/config"
	"github.com/tableflow/tableflow/pkg/database"
	"github.com/tableflow/tableflow/pkg/models"
	"github.com/tableflow/tableflow/pkg/storage"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewMemoryClient(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)

	return New(db, store, config.DefaultPartitionConfig())
}

func TestCreateAndGetConversation(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ChatID)
	assert.NotEmpty(t, conv.ParticipantName)
	assert.Equal(t, models.ConversationCreated, conv.Status)
	assert.Equal(t, time.Now().UTC().Format("2006/01"), conv.PartitionKey)

	// Directory skeleton and metadata.json exist on disk.
	dir := repo.Store().ConversationDir(conv.PartitionKey, conv.ChatID)
	for _, sub := range []string{"uploads", "outputs"} {
		_, err := os.Stat(filepath.Join(dir, sub))
		assert.NoError(t, err)
	}
	meta, err := repo.Store().ReadMetadata(conv.PartitionKey, conv.ChatID)
	require.NoError(t, err)
	assert.Equal(t, conv.ChatID, meta.ChatID)

	got, err := repo.GetConversation(ctx, conv.ChatID)
	require.NoError(t, err)
	assert.Equal(t, conv.ChatID, got.ChatID)
	assert.Empty(t, got.Messages)
}

func TestCreateConversationPartitionOverride(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, config.PartitionHashBased)
	require.NoError(t, err)
	assert.Equal(t, conv.ChatID[:2]+"/"+conv.ChatID[2:4], conv.PartitionKey)

	_, err = repo.CreateConversation(ctx, "round-robin")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetConversationNotFound(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.GetConversation(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageOrderingIsStrictlyMonotonic(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, "")
	require.NoError(t, err)

	// Burst inserts faster than the clock resolution still order strictly.
	for i := 0; i < 50; i++ {
		_, err := repo.AddMessage(ctx, models.AddMessageRequest{
			ChatID: conv.ChatID, Type: models.MessageUser, Content: "m",
		})
		require.NoError(t, err)
	}

	msgs, err := repo.GetMessages(ctx, conv.ChatID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 50)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt),
			"message %d not strictly after its predecessor", i)
	}
}

func TestGetMessagesLimitReturnsMostRecent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, "")
	require.NoError(t, err)

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		_, err := repo.AddMessage(ctx, models.AddMessageRequest{
			ChatID: conv.ChatID, Type: models.MessageUser, Content: c,
		})
		require.NoError(t, err)
	}

	msgs, err := repo.GetMessages(ctx, conv.ChatID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Content)
	assert.Equal(t, "third", msgs[1].Content)
}

func TestAddMessageValidation(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.AddMessage(ctx, models.AddMessageRequest{Type: models.MessageUser})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = repo.AddMessage(ctx, models.AddMessageRequest{ChatID: "c", Type: "telepathy"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRecordFileIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, "")
	require.NoError(t, err)

	path, err := repo.SaveUploadedFile(ctx, conv.ChatID, "input.csv", []byte("a\n1\n"))
	require.NoError(t, err)

	entries, err := repo.ListFileEntries(ctx, conv.ChatID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	firstSeen := entries[0].CreatedAt

	// Re-recording the same path keeps one entry with the original timestamp.
	require.NoError(t, repo.RecordFile(ctx, conv.ChatID, path, models.FileRoleUploaded))
	entries, err = repo.ListFileEntries(ctx, conv.ChatID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, firstSeen, entries[0].CreatedAt)
}

func TestWorkflowStepLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, "")
	require.NoError(t, err)

	step, err := repo.AddWorkflowStep(ctx, conv.ChatID, "normalization/apply", map[string]any{"trim_whitespace": true})
	require.NoError(t, err)
	assert.Equal(t, models.StepPending, step.Status)

	now := time.Now()
	step.Status = models.StepRunning
	step.StartedAt = &now
	step.Progress = 40
	require.NoError(t, repo.UpdateWorkflowStep(ctx, step))

	steps, err := repo.GetWorkflowSteps(ctx, conv.ChatID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepRunning, steps[0].Status)
	assert.Equal(t, 40, steps[0].Progress)
	assert.Equal(t, true, steps[0].Arguments["trim_whitespace"])

	step.Progress = 101
	assert.ErrorIs(t, repo.UpdateWorkflowStep(ctx, step), ErrInvalidInput)
}

func TestDeleteConversationCascades(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, "")
	require.NoError(t, err)
	_, err = repo.AddMessage(ctx, models.AddMessageRequest{ChatID: conv.ChatID, Type: models.MessageUser, Content: "hi"})
	require.NoError(t, err)
	_, err = repo.AddWorkflowStep(ctx, conv.ChatID, "normalization/apply", nil)
	require.NoError(t, err)
	_, err = repo.SaveUploadedFile(ctx, conv.ChatID, "a.csv", []byte("a\n"))
	require.NoError(t, err)

	require.NoError(t, repo.DeleteConversation(ctx, conv.ChatID))

	_, err = repo.GetConversation(ctx, conv.ChatID)
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err := repo.GetMessages(ctx, conv.ChatID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	entries, err := repo.ListFileEntries(ctx, conv.ChatID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = os.Stat(repo.Store().ConversationDir(conv.PartitionKey, conv.ChatID))
	assert.True(t, os.IsNotExist(err))
}

func TestDumpRestoreRebuildsHistory(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, "")
	require.NoError(t, err)
	_, err = repo.AddMessage(ctx, models.AddMessageRequest{ChatID: conv.ChatID, Type: models.MessageUser, Content: "extract columns"})
	require.NoError(t, err)
	_, err = repo.AddMessage(ctx, models.AddMessageRequest{
		ChatID: conv.ChatID, Type: models.MessageSystem, Content: "Proceed?",
		Metadata: map[string]string{models.MetaIntent: "extract_columns"},
	})
	require.NoError(t, err)
	uploadPath, err := repo.SaveUploadedFile(ctx, conv.ChatID, "input.csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	step, err := repo.AddWorkflowStep(ctx, conv.ChatID, "excel/extract-columns-to-file", map[string]any{"columns": []string{"a"}})
	require.NoError(t, err)

	archivePath, err := repo.Dump(ctx, conv.ChatID)
	require.NoError(t, err)
	archive, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	// Destroy the live record, then restore from the archive.
	require.NoError(t, repo.DeleteConversation(ctx, conv.ChatID))

	restored, err := repo.Restore(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, conv.ChatID, restored.ChatID)
	assert.Equal(t, conv.PartitionKey, restored.PartitionKey)
	assert.Equal(t, models.ConversationCreated, restored.Status)

	require.Len(t, restored.Messages, 2)
	assert.Equal(t, "extract columns", restored.Messages[0].Content)
	assert.Equal(t, "extract_columns", restored.Messages[1].Metadata[models.MetaIntent])

	require.Len(t, restored.WorkflowSteps, 1)
	assert.Equal(t, step.StepID, restored.WorkflowSteps[0].StepID)

	require.Len(t, restored.UploadedFiles, 1)
	assert.Equal(t, filepath.Base(uploadPath), filepath.Base(restored.UploadedFiles[0]))
	data, err := os.ReadFile(restored.UploadedFiles[0])
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestRestorePreservesTerminalStatus(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, "")
	require.NoError(t, err)
	require.NoError(t, repo.UpdateConversationStatus(ctx, conv.ChatID, models.ConversationCompleted))

	archivePath, err := repo.Dump(ctx, conv.ChatID)
	require.NoError(t, err)
	archive, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	restored, err := repo.Restore(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationCompleted, restored.Status)
}

func TestRestoreResetsProcessingStatus(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, "")
	require.NoError(t, err)
	require.NoError(t, repo.UpdateConversationStatus(ctx, conv.ChatID, models.ConversationProcessing))

	archivePath, err := repo.Dump(ctx, conv.ChatID)
	require.NoError(t, err)
	archive, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	// A conversation dumped mid-flight has no job to resume; it must come
	// back as created, not stuck in processing.
	restored, err := repo.Restore(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationCreated, restored.Status)
}

func TestListConversationsFilterAndOrder(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first, err := repo.CreateConversation(ctx, "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := repo.CreateConversation(ctx, "")
	require.NoError(t, err)
	require.NoError(t, repo.UpdateConversationStatus(ctx, second.ChatID, models.ConversationCompleted))

	all, err := repo.ListConversations(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ChatID, all[0].ChatID, "newest first")
	assert.Equal(t, first.ChatID, all[1].ChatID)

	completed, err := repo.ListConversations(ctx, models.ConversationCompleted, 10, 0)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, second.ChatID, completed[0].ChatID)
}
