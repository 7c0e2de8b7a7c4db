package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableflow/tableflow/pkg/events"
)

func dialChat(t *testing.T, srv *httptest.Server, chatID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(srv.URL, "http", "ws", 1) + "/chat/" + chatID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// readUntilTerminal collects event types until a terminal workflow event.
func readUntilTerminal(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	var types []string
	for {
		frame := readEvent(t, conn)
		typ, _ := frame["type"].(string)
		types = append(types, typ)
		if typ == events.EventTypeWorkflowCompleted || typ == events.EventTypeWorkflowFailed {
			return types
		}
	}
}

func TestWebSocketRequiresExistingConversation(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Echo())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := strings.Replace(srv.URL, "http", "ws", 1) + "/chat/ghost"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkflowStreamsIdenticallyToAllSubscribers(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Echo())
	t.Cleanup(srv.Close)

	chatID := createConversation(t, s)

	first := dialChat(t, srv, chatID)
	second := dialChat(t, srv, chatID)
	for _, conn := range []*websocket.Conn{first, second} {
		frame := readEvent(t, conn)
		assert.Equal(t, events.EventTypeConnected, frame["type"])
		assert.Equal(t, chatID, frame["chat_id"])
	}

	rec := uploadFile(t, s, chatID, "people.csv", "name,email\nbob,bob@x.io\n")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/message", chatID),
		SendMessageRequest{Content: "extract columns: name"})
	require.Equal(t, http.StatusOK, rec.Code)

	sync := false
	rec = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/confirm", chatID),
		ConfirmWorkflowRequest{RunAsync: &sync})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	firstTypes := readUntilTerminal(t, first)
	secondTypes := readUntilTerminal(t, second)

	// Both subscribers observe the same stream in the same order.
	assert.Equal(t, firstTypes, secondTypes)
	assert.Equal(t, events.EventTypeWorkflowStarted, firstTypes[0])
	assert.Equal(t, events.EventTypeWorkflowCompleted, firstTypes[len(firstTypes)-1])
	assert.Contains(t, firstTypes, events.EventTypeStepCompleted)
	assert.Contains(t, firstTypes, events.EventTypeProgress)
}
