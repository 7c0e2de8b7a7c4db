// Package events implements the WebSocket fan-out layer: a per-conversation
// room hub and a publish bridge that decouples workflow workers from socket
// writes.
package events

// Event type strings sent to WebSocket clients.
const (
	EventTypeConnected         = "connected"
	EventTypeWorkflowStarted   = "workflow_started"
	EventTypeProgress          = "progress"
	EventTypeStepCompleted     = "step_completed"
	EventTypeWorkflowCompleted = "workflow_completed"
	EventTypeWorkflowFailed    = "workflow_failed"
	EventTypePong              = "pong"
	EventTypeError             = "error"
)

// ClientMessage is a frame received from a WebSocket client.
type ClientMessage struct {
	Type   string `json:"type"`              // "ping" or "subscribe"
	ChatID string `json:"chat_id,omitempty"` // target room for subscribe
}

// Envelope wraps every server-to-client frame with its room.
type Envelope struct {
	ChatID  string `json:"chat_id"`
	Payload any    `json:"payload"`
}
