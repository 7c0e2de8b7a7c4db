// Package notify delivers workflow outcome notifications to Slack.
// All methods are nil-safe no-ops when the notifier is disabled.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/tableflow/tableflow/pkg/config"
)

const postTimeout = 5 * time.Second

// Notifier posts workflow completion and failure notices to a Slack channel.
// Nil-safe: all methods are no-ops when the notifier is nil.
type Notifier struct {
	api     *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier from config. Returns nil when Slack is
// disabled or the token env var is unset.
func NewNotifier(cfg *config.SlackConfig) *Notifier {
	if !cfg.Enabled || cfg.Channel == "" {
		return nil
	}
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		slog.Warn("Slack enabled but token env var is empty, notifications disabled",
			"env", cfg.TokenEnv)
		return nil
	}
	return &Notifier{
		api:     goslack.New(token),
		channel: cfg.Channel,
		logger:  slog.Default().With("component", "notify"),
	}
}

// NewNotifierWithClient creates a Notifier backed by a pre-built client.
// Useful for testing with a mock API server.
func NewNotifierWithClient(api *goslack.Client, channel string) *Notifier {
	return &Notifier{
		api:     api,
		channel: channel,
		logger:  slog.Default().With("component", "notify"),
	}
}

// WorkflowCompleted posts a success notice with produced file names.
// Fail-open: errors are logged, never returned.
func (n *Notifier) WorkflowCompleted(ctx context.Context, chatID, participant string, outputs []string) {
	if n == nil {
		return
	}
	text := fmt.Sprintf(":white_check_mark: Workflow for *%s* (`%s`) completed with %d output file(s).",
		participant, chatID, len(outputs))
	n.post(ctx, chatID, text)
}

// WorkflowFailed posts a failure notice.
// Fail-open: errors are logged, never returned.
func (n *Notifier) WorkflowFailed(ctx context.Context, chatID, participant, errMsg string) {
	if n == nil {
		return
	}
	text := fmt.Sprintf(":x: Workflow for *%s* (`%s`) failed: %s", participant, chatID, errMsg)
	n.post(ctx, chatID, text)
}

func (n *Notifier) post(ctx context.Context, chatID, text string) {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		goslack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Error("Failed to send Slack notification",
			"chat_id", chatID, "error", err)
	}
}
