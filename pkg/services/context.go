package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tableflow/tableflow/pkg/models"
	"github.com/tableflow/tableflow/pkg/repository"
)

// State is the in-memory dialogue state of one conversation.
type State string

// Dialogue states.
const (
	StateIdle                 State = "idle"
	StateAwaitingFile         State = "awaiting_file"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateProcessing           State = "processing"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
)

// allowedTransitions encodes the dialogue state machine. Terminal states may
// return to idle when the user starts a new request.
var allowedTransitions = map[State][]State{
	StateIdle:                 {StateAwaitingFile, StateAwaitingConfirmation, StateIdle},
	StateAwaitingFile:         {StateAwaitingConfirmation, StateIdle, StateAwaitingFile},
	StateAwaitingConfirmation: {StateProcessing, StateIdle, StateAwaitingConfirmation, StateAwaitingFile},
	StateProcessing:           {StateCompleted, StateFailed},
	StateCompleted:            {StateIdle, StateAwaitingFile, StateAwaitingConfirmation},
	StateFailed:               {StateIdle, StateAwaitingFile, StateAwaitingConfirmation},
}

// Proposal is a classified workflow awaiting confirmation.
type Proposal struct {
	Intent string                `json:"intent"`
	Steps  []models.ProposedStep `json:"steps"`
}

// ConversationContext is the ephemeral per-conversation dialogue state. It is
// a cache: everything needed to rebuild it lives in the database, so eviction
// is always safe.
type ConversationContext struct {
	ChatID        string
	State         State
	Pending       *Proposal
	UploadedFiles []string
	LastActive    time.Time
}

// transition moves the context to a new state, enforcing the state machine.
func (c *ConversationContext) transition(to State) error {
	for _, allowed := range allowedTransitions[c.State] {
		if allowed == to {
			c.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalStateTransition, c.State, to)
}

// hasUpload reports whether the conversation has at least one uploaded file.
func (c *ConversationContext) hasUpload() bool { return len(c.UploadedFiles) > 0 }

// recordUpload appends a file path if not already present. Idempotent so
// context and persistence never diverge on replays.
func (c *ConversationContext) recordUpload(path string) {
	for _, p := range c.UploadedFiles {
		if p == path {
			return
		}
	}
	c.UploadedFiles = append(c.UploadedFiles, path)
}

// ContextManager caches conversation contexts with idle-TTL eviction,
// rebuilding evicted entries from the repository on demand.
type ContextManager struct {
	repo *repository.Repository
	ttl  time.Duration

	mu       sync.Mutex
	contexts map[string]*ConversationContext

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *slog.Logger
}

// NewContextManager creates a manager with the given idle TTL.
func NewContextManager(repo *repository.Repository, ttl time.Duration) *ContextManager {
	return &ContextManager{
		repo:     repo,
		ttl:      ttl,
		contexts: make(map[string]*ConversationContext),
		stopCh:   make(chan struct{}),
		logger:   slog.With("component", "context"),
	}
}

// StartJanitor begins periodic eviction of idle contexts.
func (m *ContextManager) StartJanitor() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.ttl / 4)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.EvictIdle()
			}
		}
	}()
}

// Stop halts the janitor.
func (m *ContextManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// EvictIdle removes contexts idle longer than the TTL. Processing contexts
// are never evicted. Returns the number evicted.
func (m *ContextManager) EvictIdle() int {
	cutoff := time.Now().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, c := range m.contexts {
		if c.State == StateProcessing {
			continue
		}
		if c.LastActive.Before(cutoff) {
			delete(m.contexts, id)
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Info("Evicted idle conversation contexts", "count", evicted)
	}
	return evicted
}

// Get returns the context for a conversation, rebuilding it from persisted
// state after an eviction or restart. The caller must hold the returned
// context only within a single service operation.
func (m *ContextManager) Get(ctx context.Context, conv *models.Conversation) *ConversationContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.contexts[conv.ChatID]; ok {
		c.LastActive = time.Now()
		return c
	}

	c := m.rebuild(conv)
	m.contexts[conv.ChatID] = c
	return c
}

// Drop removes a conversation's context, if cached.
func (m *ContextManager) Drop(chatID string) {
	m.mu.Lock()
	delete(m.contexts, chatID)
	m.mu.Unlock()
}

// rebuild derives the dialogue state from the conversation record: the status
// column plus proposal metadata on the most recent system message.
func (m *ContextManager) rebuild(conv *models.Conversation) *ConversationContext {
	c := &ConversationContext{
		ChatID:        conv.ChatID,
		State:         StateIdle,
		UploadedFiles: append([]string(nil), conv.UploadedFiles...),
		LastActive:    time.Now(),
	}

	switch conv.Status {
	case models.ConversationProcessing:
		c.State = StateProcessing
	case models.ConversationCompleted:
		c.State = StateCompleted
	case models.ConversationFailed:
		c.State = StateFailed
	}

	if c.State != StateIdle {
		return c
	}

	// Look for an unresolved proposal on the latest system message.
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := conv.Messages[i]
		if msg.Type == models.MessageUser {
			continue
		}
		if msg.Type != models.MessageSystem {
			break
		}
		if msg.Metadata[models.MetaRequiresConfirmation] != "true" &&
			msg.Metadata[models.MetaRequiresFile] != "true" {
			break
		}
		proposal := &Proposal{Intent: msg.Metadata[models.MetaIntent]}
		if raw := msg.Metadata[models.MetaSuggestedWorkflow]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &proposal.Steps); err != nil {
				m.logger.Warn("Discarding unparseable workflow proposal",
					"chat_id", conv.ChatID, "error", err)
				break
			}
		}
		c.Pending = proposal
		if msg.Metadata[models.MetaRequiresFile] == "true" && !c.hasUpload() {
			c.State = StateAwaitingFile
		} else {
			c.State = StateAwaitingConfirmation
		}
		break
	}
	return c
}
