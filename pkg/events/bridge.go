package events

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBridgeNotReady is returned when Publish is called before Install.
var ErrBridgeNotReady = errors.New("event bridge not installed")

// bridgeBuffer bounds the in-flight event queue between workers and the hub
// delivery goroutine. Full buffer drops the event with a warning rather than
// blocking a worker on slow sockets.
const bridgeBuffer = 256

// Bridge decouples workflow workers from WebSocket writes: workers publish
// typed payloads into a channel, a single delivery goroutine drains it into
// the hub. Install is called once during startup; Shutdown drains and stops.
type Bridge struct {
	mu     sync.RWMutex
	ch     chan Envelope
	hub    *Hub
	done   chan struct{}
	closed bool

	logger *slog.Logger
}

// NewBridge creates an uninstalled Bridge. Publish fails with
// ErrBridgeNotReady until Install is called.
func NewBridge() *Bridge {
	return &Bridge{logger: slog.With("component", "events.bridge")}
}

// Install wires the bridge to a hub and starts the delivery goroutine.
// Calling Install twice is a programming error and panics.
func (b *Bridge) Install(hub *Hub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		panic("event bridge installed twice")
	}
	b.hub = hub
	b.ch = make(chan Envelope, bridgeBuffer)
	b.done = make(chan struct{})
	go b.deliver()
}

func (b *Bridge) deliver() {
	defer close(b.done)
	for env := range b.ch {
		b.hub.Broadcast(env.ChatID, env.Payload)
	}
}

// Shutdown stops the delivery goroutine after draining queued events.
// Publishes after Shutdown are dropped with a warning.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	if b.ch == nil || b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.ch)
	done := b.done
	b.mu.Unlock()
	<-done
}

// publish enqueues an envelope for delivery.
func (b *Bridge) publish(chatID string, payload any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.ch == nil {
		return ErrBridgeNotReady
	}
	if b.closed {
		b.logger.Warn("Dropping event published after shutdown", "chat_id", chatID)
		return nil
	}
	select {
	case b.ch <- Envelope{ChatID: chatID, Payload: payload}:
		return nil
	default:
		b.logger.Warn("Event buffer full, dropping event", "chat_id", chatID)
		return nil
	}
}

// --- Typed publish methods ---

// PublishWorkflowStarted broadcasts a workflow_started event.
func (b *Bridge) PublishWorkflowStarted(chatID, jobID string, totalSteps int) error {
	return b.publish(chatID, &WorkflowStartedPayload{
		Type:       EventTypeWorkflowStarted,
		ChatID:     chatID,
		JobID:      jobID,
		TotalSteps: totalSteps,
		Message:    fmt.Sprintf("Starting workflow with %d step(s)", totalSteps),
		Timestamp:  eventTime(),
	})
}

// PublishProgress broadcasts a progress tick for a running step.
func (b *Bridge) PublishProgress(chatID, stepID, operation string, progress int, message string) error {
	return b.publish(chatID, &ProgressPayload{
		Type:      EventTypeProgress,
		ChatID:    chatID,
		StepID:    stepID,
		Operation: operation,
		Progress:  progress,
		Status:    "running",
		Message:   message,
		Timestamp: eventTime(),
	})
}

// PublishStepCompleted broadcasts completion of one workflow step.
func (b *Bridge) PublishStepCompleted(chatID, stepID, operation, outputFile string) error {
	return b.publish(chatID, &StepCompletedPayload{
		Type:       EventTypeStepCompleted,
		ChatID:     chatID,
		StepID:     stepID,
		Operation:  operation,
		OutputFile: outputFile,
		Timestamp:  eventTime(),
	})
}

// PublishWorkflowCompleted broadcasts successful workflow completion.
func (b *Bridge) PublishWorkflowCompleted(chatID, jobID string, totalSteps int, outputFiles []string) error {
	return b.publish(chatID, &WorkflowCompletedPayload{
		Type:             EventTypeWorkflowCompleted,
		ChatID:           chatID,
		JobID:            jobID,
		TotalSteps:       totalSteps,
		OutputFiles:      outputFiles,
		OutputFilesCount: len(outputFiles),
		Message:          fmt.Sprintf("Workflow completed: %d output file(s)", len(outputFiles)),
		Timestamp:        eventTime(),
	})
}

// PublishWorkflowFailed broadcasts a workflow failure.
func (b *Bridge) PublishWorkflowFailed(chatID, jobID, stepID, operation string, failure error) error {
	errText := "unknown error"
	if failure != nil {
		errText = failure.Error()
	}
	msg := "Workflow failed"
	if operation != "" {
		msg = fmt.Sprintf("Workflow failed at %s", operation)
	}
	return b.publish(chatID, &WorkflowFailedPayload{
		Type:      EventTypeWorkflowFailed,
		ChatID:    chatID,
		JobID:     jobID,
		StepID:    stepID,
		Operation: operation,
		Error:     errText,
		Message:   msg,
		Timestamp: eventTime(),
	})
}

func eventTime() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Publisher is the event surface the workflow layer depends on. Satisfied by
// *Bridge; tests substitute a recorder.
type Publisher interface {
	PublishWorkflowStarted(chatID, jobID string, totalSteps int) error
	PublishProgress(chatID, stepID, operation string, progress int, message string) error
	PublishStepCompleted(chatID, stepID, operation, outputFile string) error
	PublishWorkflowCompleted(chatID, jobID string, totalSteps int, outputFiles []string) error
	PublishWorkflowFailed(chatID, jobID, stepID, operation string, failure error) error
}

var _ Publisher = (*Bridge)(nil)
