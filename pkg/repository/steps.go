package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tableflow/tableflow/pkg/models"
)

// AddWorkflowStep inserts a step in pending status and returns it.
func (r *Repository) AddWorkflowStep(ctx context.Context, chatID, operation string, args map[string]any) (*models.WorkflowStep, error) {
	if chatID == "" {
		return nil, fmt.Errorf("%w: chat_id is required", ErrInvalidInput)
	}
	if operation == "" {
		return nil, fmt.Errorf("%w: operation is required", ErrInvalidInput)
	}
	step := &models.WorkflowStep{
		StepID:    uuid.New().String(),
		ChatID:    chatID,
		Operation: operation,
		Arguments: args,
		Status:    models.StepPending,
	}
	if step.Arguments == nil {
		step.Arguments = map[string]any{}
	}
	if err := r.UpdateWorkflowStep(ctx, step); err != nil {
		return nil, err
	}
	return step, nil
}

// UpdateWorkflowStep upserts the step record keyed by step_id.
func (r *Repository) UpdateWorkflowStep(ctx context.Context, step *models.WorkflowStep) error {
	if step.StepID == "" {
		return fmt.Errorf("%w: step_id is required", ErrInvalidInput)
	}
	if step.Progress < 0 || step.Progress > 100 {
		return fmt.Errorf("%w: progress %d outside [0,100]", ErrInvalidInput, step.Progress)
	}
	argsJSON, err := json.Marshal(step.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal step arguments: %w", err)
	}

	var startedAt, completedAt any
	if step.StartedAt != nil {
		startedAt = fmtTime(*step.StartedAt)
	}
	if step.CompletedAt != nil {
		completedAt = fmtTime(*step.CompletedAt)
	}

	_, err = r.db.DB().ExecContext(ctx, `
		INSERT INTO workflow_steps
			(step_id, chat_id, operation, arguments, input_file, output_file, status, progress, error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(step_id) DO UPDATE SET
			operation     = excluded.operation,
			arguments     = excluded.arguments,
			input_file    = excluded.input_file,
			output_file   = excluded.output_file,
			status        = excluded.status,
			progress      = excluded.progress,
			error_message = excluded.error_message,
			started_at    = excluded.started_at,
			completed_at  = excluded.completed_at`,
		step.StepID, step.ChatID, step.Operation, string(argsJSON),
		step.InputFile, step.OutputFile, string(step.Status), step.Progress,
		step.ErrorMessage, startedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert workflow step: %w", err)
	}
	return nil
}

// GetWorkflowSteps returns a conversation's steps ordered by started_at
// ascending; steps that have not started yet sort last in insertion order.
func (r *Repository) GetWorkflowSteps(ctx context.Context, chatID string) ([]*models.WorkflowStep, error) {
	rows, err := r.db.ReadDB().QueryContext(ctx, `
		SELECT step_id, chat_id, operation, arguments, input_file, output_file,
		       status, progress, error_message, started_at, completed_at
		FROM workflow_steps
		WHERE chat_id = ?
		ORDER BY started_at IS NULL, started_at ASC, rowid ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []*models.WorkflowStep
	for rows.Next() {
		var s models.WorkflowStep
		var argsJSON, status string
		var startedAt, completedAt sql.NullString
		if err := rows.Scan(&s.StepID, &s.ChatID, &s.Operation, &argsJSON, &s.InputFile, &s.OutputFile,
			&status, &s.Progress, &s.ErrorMessage, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow step: %w", err)
		}
		s.Status = models.StepStatus(status)
		if err := json.Unmarshal([]byte(argsJSON), &s.Arguments); err != nil {
			s.Arguments = map[string]any{}
		}
		if startedAt.Valid {
			t := parseTime(startedAt.String)
			s.StartedAt = &t
		}
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			s.CompletedAt = &t
		}
		steps = append(steps, &s)
	}
	return steps, rows.Err()
}
