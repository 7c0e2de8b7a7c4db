package models

import "time"

// StepStatus is the lifecycle status of a workflow step.
type StepStatus string

// Step status values. Transitions flow pending → running → (completed|failed).
const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// IsValid reports whether the step status is a known value.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepPending, StepRunning, StepCompleted, StepFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the step status is terminal.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed
}

// WorkflowStep is a single operation invocation with its arguments and
// execution record.
//
// Invariants: Progress ∈ [0,100]; completed ⇒ Progress=100 and CompletedAt
// set; failed ⇒ ErrorMessage and CompletedAt set.
type WorkflowStep struct {
	StepID       string         `json:"step_id"`
	ChatID       string         `json:"chat_id"`
	Operation    string         `json:"operation"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	InputFile    string         `json:"input_file,omitempty"`
	OutputFile   string         `json:"output_file,omitempty"`
	Status       StepStatus     `json:"status"`
	Progress     int            `json:"progress"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// ProposedStep is one entry of a suggested (not yet persisted) workflow:
// an operation id plus its arguments, awaiting user confirmation.
type ProposedStep struct {
	Operation string         `json:"operation"`
	Arguments map[string]any `json:"arguments"`
}
