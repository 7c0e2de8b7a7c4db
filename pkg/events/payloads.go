package events

// ConnectedPayload is sent once immediately after a successful upgrade.
type ConnectedPayload struct {
	Type         string `json:"type"` // always EventTypeConnected
	ChatID       string `json:"chat_id"`
	ConnectionID string `json:"connection_id"`
	Timestamp    string `json:"timestamp"` // RFC3339Nano
}

// WorkflowStartedPayload is published when a confirmed workflow begins executing.
type WorkflowStartedPayload struct {
	Type       string `json:"type"` // always EventTypeWorkflowStarted
	ChatID     string `json:"chat_id"`
	JobID      string `json:"job_id"`
	TotalSteps int    `json:"total_steps"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}

// ProgressPayload carries a coalesced progress tick for a running step.
type ProgressPayload struct {
	Type      string `json:"type"` // always EventTypeProgress
	ChatID    string `json:"chat_id"`
	StepID    string `json:"step_id"`
	Operation string `json:"operation"`
	Progress  int    `json:"progress"` // 0–100
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// StepCompletedPayload is published when one workflow step finishes.
type StepCompletedPayload struct {
	Type       string `json:"type"` // always EventTypeStepCompleted
	ChatID     string `json:"chat_id"`
	StepID     string `json:"step_id"`
	Operation  string `json:"operation"`
	OutputFile string `json:"output_file,omitempty"`
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}

// WorkflowCompletedPayload is published once after the last step succeeds.
type WorkflowCompletedPayload struct {
	Type             string   `json:"type"` // always EventTypeWorkflowCompleted
	ChatID           string   `json:"chat_id"`
	JobID            string   `json:"job_id"`
	TotalSteps       int      `json:"total_steps"`
	OutputFiles      []string `json:"output_files,omitempty"`
	OutputFilesCount int      `json:"output_files_count"`
	Message          string   `json:"message"`
	Timestamp        string   `json:"timestamp"` // RFC3339Nano
}

// WorkflowFailedPayload is published when a step errors or times out.
// Remaining steps are never attempted after a failure.
type WorkflowFailedPayload struct {
	Type      string `json:"type"` // always EventTypeWorkflowFailed
	ChatID    string `json:"chat_id"`
	JobID     string `json:"job_id"`
	StepID    string `json:"step_id,omitempty"`
	Operation string `json:"operation,omitempty"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}
