package services

import (
	"context"
	"fmt"

	"github.com/tableflow/tableflow/pkg/models"
	"github.com/tableflow/tableflow/pkg/ops"
	"github.com/tableflow/tableflow/pkg/queue"
	"github.com/tableflow/tableflow/pkg/workflow"
)

// ConfirmResult describes an accepted workflow confirmation.
type ConfirmResult struct {
	JobID  string                 `json:"job_id,omitempty"`
	Async  bool                   `json:"async"`
	Status string                 `json:"status,omitempty"`
	Steps  []*models.WorkflowStep `json:"steps"`

	// Result is populated for synchronous runs only.
	Result *workflow.Result `json:"result,omitempty"`
}

// ConfirmWorkflow resolves the pending proposal for a conversation.
// accept=false discards it. accept=true validates the proposed steps against
// the operation catalog and starts execution, asynchronously by default.
// A non-empty modified slice replaces the proposed steps before validation,
// so a client can edit the workflow on confirmation.
func (s *ChatService) ConfirmWorkflow(ctx context.Context, chatID string, accept bool, modified []models.ProposedStep, runAsync bool) (*ConfirmResult, error) {
	if chatID == "" {
		return nil, NewValidationError("chat_id", "required")
	}
	conv, err := s.repo.GetConversation(ctx, chatID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	c := s.contexts.Get(ctx, conv)

	if c.State == StateProcessing {
		return nil, ErrConversationBusy
	}
	if c.Pending == nil {
		return nil, ErrNoPendingWorkflow
	}

	if !accept {
		c.Pending = nil
		if err := c.transition(StateIdle); err != nil {
			return nil, err
		}
		if _, err := s.addSystemMessage(ctx, chatID, "Workflow discarded.", nil); err != nil {
			return nil, err
		}
		return &ConfirmResult{Async: false}, nil
	}

	if len(modified) > 0 {
		c.Pending = &Proposal{Intent: c.Pending.Intent, Steps: modified}
	}
	return s.startConfirmed(ctx, conv, c, runAsync)
}

// startConfirmed validates the pending proposal, persists its steps, and
// launches execution. Shared by the confirm endpoint and affirmative chat
// replies.
func (s *ChatService) startConfirmed(ctx context.Context, conv *models.Conversation, c *ConversationContext, runAsync bool) (*ConfirmResult, error) {
	if c.Pending == nil {
		return nil, ErrNoPendingWorkflow
	}
	if !c.hasUpload() {
		return nil, ErrFileRequired
	}

	// Validate the whole proposal before persisting anything.
	coerced := make([]map[string]any, len(c.Pending.Steps))
	for i, ps := range c.Pending.Steps {
		op, err := s.registry.Get(ps.Operation)
		if err != nil {
			return nil, NewValidationError("operation", err.Error())
		}
		args, err := ops.CoerceArgs(op, ps.Arguments)
		if err != nil {
			return nil, NewValidationError("arguments", err.Error())
		}
		coerced[i] = args
	}

	steps := make([]*models.WorkflowStep, len(c.Pending.Steps))
	for i, ps := range c.Pending.Steps {
		step, err := s.repo.AddWorkflowStep(ctx, conv.ChatID, ps.Operation, coerced[i])
		if err != nil {
			return nil, err
		}
		steps[i] = step
	}

	if err := s.repo.UpdateConversationStatus(ctx, conv.ChatID, models.ConversationProcessing); err != nil {
		return nil, err
	}
	c.Pending = nil
	if err := c.transition(StateProcessing); err != nil {
		return nil, err
	}

	inputPath := c.UploadedFiles[len(c.UploadedFiles)-1]
	chatID := conv.ChatID
	participant := conv.ParticipantName

	if !runAsync {
		result, runErr := s.executor.Run(ctx, chatID, "sync_"+chatID, inputPath, steps)
		s.finalizeWorkflow(chatID, participant, result, runErr)
		if runErr != nil {
			return &ConfirmResult{Async: false, Steps: steps, Result: result}, runErr
		}
		return &ConfirmResult{Async: false, Steps: steps, Result: result}, nil
	}

	var result *workflow.Result
	var runErr error
	job, err := s.jobs.Submit(chatID,
		func(jobCtx context.Context) error {
			r, e := s.runInJob(jobCtx, chatID, inputPath, steps)
			result, runErr = r, e
			return e
		},
		func(job *queue.BackgroundJob) {
			s.finalizeWorkflow(chatID, participant, result, runErr)
		},
	)
	if err != nil {
		// Roll the conversation back so the user can retry.
		_ = s.repo.UpdateConversationStatus(context.WithoutCancel(ctx), chatID, models.ConversationCreated)
		c.State = StateIdle
		return nil, err
	}

	return &ConfirmResult{JobID: job.ID, Async: true, Status: "submitted", Steps: steps}, nil
}

// runInJob runs the executor inside a background job, carrying the job id
// into published events.
func (s *ChatService) runInJob(jobCtx context.Context, chatID, inputPath string, steps []*models.WorkflowStep) (*workflow.Result, error) {
	jobID := queue.JobIDFromContext(jobCtx)
	if jobID == "" {
		jobID = "unknown"
	}
	return s.executor.Run(jobCtx, chatID, jobID, inputPath, steps)
}

// finalizeWorkflow applies terminal side effects: conversation status, a
// summary message, context state, and the optional Slack notice. Runs on the
// worker goroutine for async jobs, inline for sync runs.
func (s *ChatService) finalizeWorkflow(chatID, participant string, result *workflow.Result, runErr error) {
	ctx := context.Background()

	if runErr == nil {
		outputs := []string(nil)
		if result != nil {
			outputs = result.OutputFiles
		}
		if err := s.repo.UpdateConversationStatus(ctx, chatID, models.ConversationCompleted); err != nil {
			s.logger.Error("Failed to mark conversation completed", "chat_id", chatID, "error", err)
		}
		if _, err := s.addWorkflowMessage(ctx, chatID, models.MessageProgress,
			fmt.Sprintf("Workflow completed: %d file(s) produced.", len(outputs))); err != nil {
			s.logger.Error("Failed to record completion message", "chat_id", chatID, "error", err)
		}
		s.setTerminalState(ctx, chatID, StateCompleted)
		s.notifier.WorkflowCompleted(ctx, chatID, participant, outputs)
		return
	}

	if err := s.repo.UpdateConversationStatus(ctx, chatID, models.ConversationFailed); err != nil {
		s.logger.Error("Failed to mark conversation failed", "chat_id", chatID, "error", err)
	}
	if _, err := s.addWorkflowMessage(ctx, chatID, models.MessageError,
		fmt.Sprintf("Workflow failed: %s", runErr)); err != nil {
		s.logger.Error("Failed to record failure message", "chat_id", chatID, "error", err)
	}
	s.setTerminalState(ctx, chatID, StateFailed)
	s.notifier.WorkflowFailed(ctx, chatID, participant, runErr.Error())
}

func (s *ChatService) addWorkflowMessage(ctx context.Context, chatID string, typ models.MessageType, content string) (*models.Message, error) {
	return s.repo.AddMessage(ctx, models.AddMessageRequest{
		ChatID:  chatID,
		Type:    typ,
		Content: content,
	})
}

// setTerminalState moves a cached processing context to its terminal state.
// Evicted contexts rebuild from the conversation status, so a cache miss is
// fine.
func (s *ChatService) setTerminalState(ctx context.Context, chatID string, state State) {
	conv, err := s.repo.GetConversation(ctx, chatID)
	if err != nil {
		s.contexts.Drop(chatID)
		return
	}
	c := s.contexts.Get(ctx, conv)
	if c.State == StateProcessing {
		if err := c.transition(state); err != nil {
			s.logger.Warn("Failed terminal context transition",
				"chat_id", chatID, "state", state, "error", err)
		}
	}
}
