package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tableflow/tableflow/pkg/models"
)

const helpText = "I mediate tabular file operations. Upload a CSV, then ask me to:\n" +
	"  - extract columns (\"extract columns: name, email\")\n" +
	"  - convert formats (\"convert to json\")\n" +
	"  - normalize data (\"clean up this file\")\n" +
	"  - generate SQL inserts (\"generate sql for table users\")\n" +
	"  - export JSON records\n" +
	"  - filter rows (\"filter rows where status is active\")\n" +
	"  - merge rows by a key column\n" +
	"  - rename columns (\"rename email to contact\")\n" +
	"Commands: help, cancel."

// SendMessageResult is the outcome of processing one inbound message.
type SendMessageResult struct {
	UserMessage *models.Message `json:"user_message"`
	Reply       *models.Message `json:"reply,omitempty"`
	State       State           `json:"state"`
	Intent      string          `json:"intent,omitempty"`
}

// SendMessage records a user message and routes it through the handler chain:
// system commands, confirmation replies, then free-text classification.
func (s *ChatService) SendMessage(ctx context.Context, chatID, content string) (*SendMessageResult, error) {
	if chatID == "" {
		return nil, NewValidationError("chat_id", "required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, NewValidationError("content", "required")
	}
	conv, err := s.repo.GetConversation(ctx, chatID)
	if err != nil {
		return nil, mapRepoError(err)
	}

	userMsg, err := s.repo.AddMessage(ctx, models.AddMessageRequest{
		ChatID:  chatID,
		Type:    models.MessageUser,
		Content: content,
	})
	if err != nil {
		return nil, err
	}

	c := s.contexts.Get(ctx, conv)
	result := &SendMessageResult{UserMessage: userMsg, State: c.State}

	for _, handle := range []func(context.Context, *models.Conversation, *ConversationContext, string, *SendMessageResult) (bool, error){
		s.handleSystemCommand,
		s.handleConfirmationReply,
		s.handleText,
	} {
		handled, err := handle(ctx, conv, c, content, result)
		if err != nil {
			return nil, err
		}
		if handled {
			result.State = c.State
			return result, nil
		}
	}
	return result, nil
}

// handleSystemCommand serves help and cancel regardless of dialogue state.
func (s *ChatService) handleSystemCommand(ctx context.Context, conv *models.Conversation, c *ConversationContext, content string, result *SendMessageResult) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "help", "/help", "?":
		reply, err := s.addSystemMessage(ctx, conv.ChatID, helpText, nil)
		if err != nil {
			return false, err
		}
		result.Reply = reply
		return true, nil

	case "cancel", "/cancel":
		if c.State == StateProcessing {
			reply, err := s.addSystemMessage(ctx, conv.ChatID,
				"A workflow is already running and cannot be cancelled from chat.", nil)
			if err != nil {
				return false, err
			}
			result.Reply = reply
			return true, nil
		}
		c.Pending = nil
		if err := c.transition(StateIdle); err != nil {
			return false, err
		}
		reply, err := s.addSystemMessage(ctx, conv.ChatID,
			"Cancelled. What would you like to do instead?", nil)
		if err != nil {
			return false, err
		}
		result.Reply = reply
		return true, nil
	}
	return false, nil
}

// handleConfirmationReply treats yes/no answers while a proposal awaits
// confirmation. Affirmative replies start the workflow asynchronously.
func (s *ChatService) handleConfirmationReply(ctx context.Context, conv *models.Conversation, c *ConversationContext, content string, result *SendMessageResult) (bool, error) {
	if c.State != StateAwaitingConfirmation || c.Pending == nil {
		return false, nil
	}

	switch strings.ToLower(strings.TrimSpace(content)) {
	case "yes", "y", "ok", "confirm", "proceed", "sure", "go", "run":
		confirm, err := s.startConfirmed(ctx, conv, c, true)
		if err != nil {
			return false, err
		}
		reply, err := s.addSystemMessage(ctx, conv.ChatID,
			fmt.Sprintf("Workflow started (job %s). I'll stream progress here.", confirm.JobID), nil)
		if err != nil {
			return false, err
		}
		result.Reply = reply
		return true, nil

	case "no", "n", "nope", "abort", "stop":
		c.Pending = nil
		if err := c.transition(StateIdle); err != nil {
			return false, err
		}
		reply, err := s.addSystemMessage(ctx, conv.ChatID,
			"Okay, discarded that workflow. What next?", nil)
		if err != nil {
			return false, err
		}
		result.Reply = reply
		return true, nil
	}

	// Anything else while awaiting confirmation falls through to
	// classification so the user can change their request.
	return false, nil
}

// handleText classifies free text into an intent and proposes a workflow.
func (s *ChatService) handleText(ctx context.Context, conv *models.Conversation, c *ConversationContext, content string, result *SendMessageResult) (bool, error) {
	cls := s.classifier.Classify(content)
	result.Intent = cls.Intent

	if cls.Intent == "unknown" {
		reply, err := s.addSystemMessage(ctx, conv.ChatID, cls.Response,
			map[string]string{models.MetaIntent: cls.Intent})
		if err != nil {
			return false, err
		}
		result.Reply = reply
		return true, nil
	}

	proposal := &Proposal{Intent: cls.Intent, Steps: cls.Steps}
	c.Pending = proposal

	needsFile := cls.RequiresFile && !c.hasUpload()
	target := StateAwaitingConfirmation
	text := cls.Response
	if needsFile {
		target = StateAwaitingFile
		text = "Please upload a file first. " + cls.Response
	}
	if err := c.transition(target); err != nil {
		return false, err
	}

	reply, err := s.addProposalMessage(ctx, conv.ChatID, proposal, text, needsFile)
	if err != nil {
		return false, err
	}
	result.Reply = reply
	return true, nil
}

// addProposalMessage records a system message carrying the serialized
// workflow proposal in its metadata.
func (s *ChatService) addProposalMessage(ctx context.Context, chatID string, proposal *Proposal, text string, needsFile bool) (*models.Message, error) {
	stepsJSON, err := json.Marshal(proposal.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow proposal: %w", err)
	}
	meta := map[string]string{
		models.MetaIntent:            proposal.Intent,
		models.MetaSuggestedWorkflow: string(stepsJSON),
	}
	if needsFile {
		meta[models.MetaRequiresFile] = "true"
	} else {
		meta[models.MetaRequiresConfirmation] = "true"
	}
	return s.addSystemMessage(ctx, chatID, text, meta)
}

func (s *ChatService) addSystemMessage(ctx context.Context, chatID, content string, metadata map[string]string) (*models.Message, error) {
	return s.repo.AddMessage(ctx, models.AddMessageRequest{
		ChatID:   chatID,
		Type:     models.MessageSystem,
		Content:  content,
		Metadata: metadata,
	})
}
