package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableflow/tableflow/pkg/config"
	"github.com/tableflow/tableflow/pkg/database"
	"github.com/tableflow/tableflow/pkg/events"
	"github.com/tableflow/tableflow/pkg/intent"
	"github.com/tableflow/tableflow/pkg/models"
	"github.com/tableflow/tableflow/pkg/ops"
	"github.com/tableflow/tableflow/pkg/queue"
	"github.com/tableflow/tableflow/pkg/repository"
	"github.com/tableflow/tableflow/pkg/services"
	"github.com/tableflow/tableflow/pkg/storage"
	"github.com/tableflow/tableflow/pkg/workflow"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewClient(ctx, &config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "chat.db"),
		BusyTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)
	repo := repository.New(db, store, config.DefaultPartitionConfig())

	hub := events.NewHub(10, 5*time.Second)
	bridge := events.NewBridge()
	bridge.Install(hub)
	t.Cleanup(bridge.Shutdown)

	registry := ops.NewRegistry(ops.Builtin()...)
	executor := workflow.NewExecutor(registry, repo, bridge, &config.ExecutionConfig{
		StepTimeout:      30 * time.Second,
		ProgressInterval: 0,
	})
	jobs := queue.NewJobManager(&config.JobsConfig{
		MaxWorkers:              2,
		QueueSize:               10,
		MaxAge:                  time.Hour,
		GracefulShutdownTimeout: 5 * time.Second,
	})
	t.Cleanup(jobs.Stop)

	contexts := services.NewContextManager(repo, time.Hour)
	t.Cleanup(contexts.Stop)

	svc := services.NewChatService(repo, registry, intent.NewClassifier(), jobs, executor, contexts, nil)

	cfg := &config.Config{
		Server: &config.ServerConfig{
			MaxWSConnections: 10,
			WSWriteTimeout:   5 * time.Second,
			MaxUploadBytes:   1 << 20,
		},
	}
	return NewServer(cfg, svc, hub, db)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

// decodeEnvelope unwraps the uniform response envelope and returns its data.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data       json.RawMessage `json:"data"`
		Message    string          `json:"message"`
		Meta       Meta            `json:"meta"`
		StatusCode int             `json:"status_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, rec.Code, env.StatusCode)
	assert.NotEmpty(t, env.Meta.RequestID)

	if len(env.Data) == 0 {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil // list payloads are asserted by the caller
	}
	return data
}

func createConversation(t *testing.T, s *Server) string {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeEnvelope(t, rec)
	chatID, _ := data["chat_id"].(string)
	require.NotEmpty(t, chatID)
	return chatID
}

func uploadFile(t *testing.T, s *Server, chatID, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/upload", chatID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	require.NotNil(t, resp.Database)
	assert.True(t, resp.Database.Reachable)
	assert.Equal(t, 0, resp.ActiveConnections)
}

func TestCreateAndGetConversation(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/conversations/"+chatID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)
	assert.Equal(t, chatID, data["chat_id"])
	assert.Equal(t, "created", data["status"])
	assert.NotEmpty(t, data["participant_name"])

	// Creation seeds a welcome message addressed to the participant.
	messages, _ := data["messages"].([]any)
	require.Len(t, messages, 1)
	welcome, _ := messages[0].(map[string]any)
	assert.Equal(t, "system", welcome["message_type"])
	assert.Contains(t, welcome["content"], data["participant_name"])
}

func TestGetConversationNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/conversations/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateConversationRejectsUnknownStrategy(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/conversations",
		CreateConversationRequest{PartitionStrategy: "round-robin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDEchoedBack(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	// And generated when absent.
	rec2 := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec2.Header().Get("X-Request-ID"))
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestSendMessageEndpoint(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/message", chatID),
		SendMessageRequest{Content: "extract columns: name"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := decodeEnvelope(t, rec)
	assert.Equal(t, "awaiting_file", data["state"])
	assert.Equal(t, "extract_columns", data["intent"])
	reply, _ := data["reply"].(map[string]any)
	require.NotNil(t, reply)
	assert.Contains(t, reply["content"], "Please upload a file first.")
}

func TestSendMessageValidation(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/message", chatID),
		SendMessageRequest{Content: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/message", chatID),
		SendMessageRequest{Content: strings.Repeat("x", maxMessageLength+1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetHistoryEndpoint(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/message", chatID),
		SendMessageRequest{Content: "help"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet,
		fmt.Sprintf("/api/v1/conversations/%s/history?limit=1", chatID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Data, 1)
	assert.Equal(t, "system", env.Data[0]["message_type"])

	rec = doJSON(t, s, http.MethodGet,
		fmt.Sprintf("/api/v1/conversations/%s/history?limit=oops", chatID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadAndDownloadFile(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := uploadFile(t, s, chatID, "people.csv", "name,email\nbob,bob@x.io\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeEnvelope(t, rec)
	assert.Equal(t, "people.csv", data["filename"])
	assert.Contains(t, data["download_url"], "/api/v1/conversations/"+chatID+"/files/people.csv")

	dl := doJSON(t, s, http.MethodGet,
		fmt.Sprintf("/api/v1/conversations/%s/files/people.csv", chatID), nil)
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, "text/csv", dl.Header().Get("Content-Type"))
	assert.Contains(t, dl.Header().Get("Content-Disposition"), "people.csv")
	assert.Equal(t, "name,email\nbob,bob@x.io\n", dl.Body.String())
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := uploadFile(t, s, chatID, "payload.exe", "MZ")
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Server.MaxUploadBytes = 16

	chatID := createConversation(t, s)
	rec := uploadFile(t, s, chatID, "big.csv", strings.Repeat("a", 64))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDownloadMissingFile(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := doJSON(t, s, http.MethodGet,
		fmt.Sprintf("/api/v1/conversations/%s/files/ghost.csv", chatID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmWithoutPendingWorkflow(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/confirm", chatID), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestConfirmWithoutUpload(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/message", chatID),
		SendMessageRequest{Content: "convert to json"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/confirm", chatID), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestConfirmSynchronousRun(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := uploadFile(t, s, chatID, "people.csv", "name,email\nbob,bob@x.io\n")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/message", chatID),
		SendMessageRequest{Content: "extract columns: name"})
	require.Equal(t, http.StatusOK, rec.Code)

	accept, sync := true, false
	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/confirm", chatID),
		ConfirmWorkflowRequest{Confirmed: &accept, RunAsync: &sync})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := decodeEnvelope(t, rec)
	assert.Equal(t, false, data["async"])
	result, _ := data["result"].(map[string]any)
	require.NotNil(t, result)

	// The conversation surfaces the produced file as a download URL.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/conversations/"+chatID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decodeEnvelope(t, rec)
	assert.Equal(t, "completed", conv["status"])
	outputs, _ := conv["output_files"].([]any)
	require.Len(t, outputs, 1)
	assert.Contains(t, outputs[0], "/files/")
}

func TestConfirmAsyncReturnsAccepted(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := uploadFile(t, s, chatID, "people.csv", "name\nbob\n")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/message", chatID),
		SendMessageRequest{Content: "convert to json"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/confirm", chatID), nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	data := decodeEnvelope(t, rec)
	jobID, _ := data["job_id"].(string)
	require.NotEmpty(t, jobID)

	// The job is queryable through its conversation until cleanup.
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec = doJSON(t, s, http.MethodGet,
			fmt.Sprintf("/api/v1/conversations/%s/workflow/status/%s", chatID, jobID), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		snap := decodeEnvelope(t, rec)
		if snap["status"] == "completed" {
			break
		}
		require.True(t, time.Now().Before(deadline), "job never completed: %v", snap)
		time.Sleep(10 * time.Millisecond)
	}

	// Another conversation cannot read this job.
	otherChat := createConversation(t, s)
	rec = doJSON(t, s, http.MethodGet,
		fmt.Sprintf("/api/v1/conversations/%s/workflow/status/%s", otherChat, jobID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmWithModifiedWorkflow(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := uploadFile(t, s, chatID, "people.csv", "name,email\nbob,bob@x.io\n")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/message", chatID),
		SendMessageRequest{Content: "convert to json"})
	require.Equal(t, http.StatusOK, rec.Code)

	sync := false
	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/confirm", chatID),
		ConfirmWorkflowRequest{
			RunAsync: &sync,
			ModifiedWorkflow: []models.ProposedStep{
				{Operation: "excel/extract-columns-to-file", Arguments: map[string]any{"columns": []any{"name"}}},
			},
		})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := decodeEnvelope(t, rec)
	steps, _ := data["steps"].([]any)
	require.Len(t, steps, 1)
	step, _ := steps[0].(map[string]any)
	assert.Equal(t, "excel/extract-columns-to-file", step["operation"])
}

func TestConfirmModifiedWorkflowUnknownOperation(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := uploadFile(t, s, chatID, "people.csv", "name\nbob\n")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/message", chatID),
		SendMessageRequest{Content: "convert to json"})
	require.Equal(t, http.StatusOK, rec.Code)

	// An unknown operation in the edited workflow is rejected before any job
	// is submitted.
	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/confirm", chatID),
		ConfirmWorkflowRequest{
			ModifiedWorkflow: []models.ProposedStep{{Operation: "no/such-op"}},
		})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = doJSON(t, s, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Empty(t, env.Data)
}

func TestConfirmReject(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := uploadFile(t, s, chatID, "a.csv", "a\n1\n")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/message", chatID),
		SendMessageRequest{Content: "convert to json"})
	require.Equal(t, http.StatusOK, rec.Code)

	reject := false
	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/confirm", chatID),
		ConfirmWorkflowRequest{Confirmed: &reject})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "workflow discarded")
}

func TestGetJobStatusUnknown(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)
	rec := doJSON(t, s, http.MethodGet,
		fmt.Sprintf("/api/v1/conversations/%s/workflow/status/ghost", chatID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOperations(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/operations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	grouped := decodeEnvelope(t, rec)
	require.Len(t, grouped, 8)
	extract, _ := grouped["extract_columns"].([]any)
	require.Len(t, extract, 1)
	op, _ := extract[0].(map[string]any)
	assert.Equal(t, "excel/extract-columns-to-file", op["id"])
}

func TestDeleteConversation(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)

	rec := doJSON(t, s, http.MethodDelete, "/api/v1/conversations/"+chatID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/conversations/"+chatID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListConversationsEndpoint(t *testing.T) {
	s := newTestServer(t)
	createConversation(t, s)
	createConversation(t, s)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/conversations?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Len(t, env.Data, 1)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/conversations?status=telepathy", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDumpAndRestoreEndpoints(t *testing.T) {
	s := newTestServer(t)
	chatID := createConversation(t, s)
	rec := uploadFile(t, s, chatID, "a.csv", "a\n1\n")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/dump", chatID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeEnvelope(t, rec)
	dumpFile, _ := data["dump_file"].(string)
	require.NotEmpty(t, dumpFile)
	downloadURL, _ := data["download_url"].(string)
	assert.Contains(t, downloadURL,
		fmt.Sprintf("http://example.com/api/v1/conversations/%s/dumps/%s", chatID, dumpFile))

	// The archive itself downloads from the advertised location.
	rec = doJSON(t, s, http.MethodGet,
		fmt.Sprintf("/api/v1/conversations/%s/dumps/%s", chatID, dumpFile), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	archive := rec.Body.Bytes()
	require.NotEmpty(t, archive)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/conversations/"+chatID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Restore from a raw gzip body.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/restore", bytes.NewReader(archive))
	req.Header.Set("Content-Type", "application/gzip")
	restoreRec := httptest.NewRecorder()
	s.Echo().ServeHTTP(restoreRec, req)
	require.Equal(t, http.StatusOK, restoreRec.Code, restoreRec.Body.String())

	restored := decodeEnvelope(t, restoreRec)
	assert.Equal(t, chatID, restored["chat_id"])
	uploads, _ := restored["uploaded_files"].([]any)
	assert.Len(t, uploads, 1)
}

func TestRestoreRequiresBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/restore", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSQLiteBackupEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/sqlite/backup", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeEnvelope(t, rec)
	assert.Contains(t, data["backup_path"], "chat_backup_")
}
