// Package workflow runs confirmed workflows: a sequence of catalog operations
// executed one after another, each step's output feeding the next step's input.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tableflow/tableflow/pkg/config"
	"github.com/tableflow/tableflow/pkg/events"
	"github.com/tableflow/tableflow/pkg/models"
	"github.com/tableflow/tableflow/pkg/ops"
	"github.com/tableflow/tableflow/pkg/repository"
)

// ErrNoInputFile is returned when a workflow needs a file and the
// conversation has none uploaded.
var ErrNoInputFile = errors.New("no input file available")

// Executor runs workflow steps sequentially with per-step timeouts, progress
// streaming, and fail-fast semantics. One instance per process, shared by all
// workers.
type Executor struct {
	registry  *ops.Registry
	repo      *repository.Repository
	publisher events.Publisher
	cfg       *config.ExecutionConfig

	logger *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(registry *ops.Registry, repo *repository.Repository, publisher events.Publisher, cfg *config.ExecutionConfig) *Executor {
	return &Executor{
		registry:  registry,
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		logger:    slog.With("component", "workflow"),
	}
}

// Result summarizes a finished workflow run.
type Result struct {
	OutputFiles []string
	FailedStep  *models.WorkflowStep
}

// Run executes the given pending steps in order for one conversation. The
// first step consumes inputPath; each later step consumes its predecessor's
// output. A step error or timeout fails the workflow immediately and the
// remaining steps are never attempted.
//
// Zero steps is not an error: workflow_completed is published immediately.
func (e *Executor) Run(ctx context.Context, chatID, jobID, inputPath string, steps []*models.WorkflowStep) (*Result, error) {
	log := e.logger.With("chat_id", chatID, "job_id", jobID)

	if err := e.publisher.PublishWorkflowStarted(chatID, jobID, len(steps)); err != nil {
		log.Warn("Failed to publish workflow_started", "error", err)
	}

	if len(steps) == 0 {
		_ = e.publisher.PublishWorkflowCompleted(chatID, jobID, 0, nil)
		return &Result{}, nil
	}
	if inputPath == "" {
		err := ErrNoInputFile
		e.failStep(ctx, chatID, jobID, steps[0], err)
		return &Result{FailedStep: steps[0]}, err
	}

	current := inputPath
	outputs := make([]string, 0, len(steps))

	for i, step := range steps {
		log.Info("Running workflow step",
			"step", i+1, "steps", len(steps), "operation", step.Operation)

		outputPath, err := e.runStep(ctx, chatID, step, current)
		if err != nil {
			e.failStep(ctx, chatID, jobID, step, err)
			return &Result{OutputFiles: outputs, FailedStep: step}, err
		}

		outputs = append(outputs, outputPath)
		current = outputPath
		if err := e.publisher.PublishStepCompleted(chatID, step.StepID, step.Operation, outputPath); err != nil {
			log.Warn("Failed to publish step_completed", "error", err)
		}
	}

	if err := e.publisher.PublishWorkflowCompleted(chatID, jobID, len(steps), outputs); err != nil {
		log.Warn("Failed to publish workflow_completed", "error", err)
	}
	log.Info("Workflow completed", "outputs", len(outputs))
	return &Result{OutputFiles: outputs}, nil
}

// runStep executes one step against the given input file and returns the
// absolute path of the produced artifact.
func (e *Executor) runStep(ctx context.Context, chatID string, step *models.WorkflowStep, inputPath string) (string, error) {
	op, err := e.registry.Get(step.Operation)
	if err != nil {
		return "", err
	}
	args, err := ops.CoerceArgs(op, step.Arguments)
	if err != nil {
		return "", err
	}

	now := time.Now()
	step.Status = models.StepRunning
	step.StartedAt = &now
	step.InputFile = inputPath
	step.Arguments = args
	if err := e.repo.UpdateWorkflowStep(ctx, step); err != nil {
		return "", err
	}

	in := ops.Input{Path: inputPath}
	if op.InputKind == ops.InputTable {
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return "", fmt.Errorf("failed to read input file: %w", err)
		}
		in.Data = data
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	if err := e.publisher.PublishProgress(chatID, step.StepID, step.Operation, 0, "Starting step"); err != nil {
		e.logger.Warn("Failed to publish progress", "chat_id", chatID, "error", err)
	}

	sink := e.newProgressSink(stepCtx, chatID, step)
	result, err := op.Handler(stepCtx, in, args, sink.report)
	if err != nil {
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("step timed out after %s: %w", e.cfg.StepTimeout, err)
		}
		return "", err
	}

	outputName := OutputFilename(inputPath, op.Suffix, result.Ext, time.Now())
	outputPath, err := e.repo.SaveOutputFile(ctx, chatID, outputName, result.Data)
	if err != nil {
		return "", err
	}

	completed := time.Now()
	step.Status = models.StepCompleted
	step.Progress = 100
	step.OutputFile = outputPath
	step.CompletedAt = &completed
	if err := e.repo.UpdateWorkflowStep(ctx, step); err != nil {
		return "", err
	}
	return outputPath, nil
}

// failStep records a step failure and publishes workflow_failed. Persistence
// uses a background context so failure state survives caller cancellation.
func (e *Executor) failStep(ctx context.Context, chatID, jobID string, step *models.WorkflowStep, cause error) {
	now := time.Now()
	step.Status = models.StepFailed
	step.ErrorMessage = cause.Error()
	step.CompletedAt = &now
	if err := e.repo.UpdateWorkflowStep(context.WithoutCancel(ctx), step); err != nil {
		e.logger.Error("Failed to persist step failure",
			"chat_id", chatID, "step_id", step.StepID, "error", err)
	}
	if err := e.publisher.PublishWorkflowFailed(chatID, jobID, step.StepID, step.Operation, cause); err != nil {
		e.logger.Warn("Failed to publish workflow_failed", "chat_id", chatID, "error", err)
	}
}

// OutputFilename derives an artifact name from the input file's stem, the
// operation suffix, and a timestamp: report.csv → report_extracted_20240101_120000.csv.
func OutputFilename(inputPath, suffix, ext string, at time.Time) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if ext == "" {
		ext = filepath.Ext(base)
	}
	return fmt.Sprintf("%s_%s_%s%s", stem, suffix, at.Format("20060102_150405"), ext)
}

// progressSink coalesces handler progress ticks: at most one persisted and
// published update per ProgressInterval, except the terminal 100%.
type progressSink struct {
	e      *Executor
	ctx    context.Context
	chatID string
	step   *models.WorkflowStep

	mu       sync.Mutex
	lastSent time.Time
	lastPct  int
}

func (e *Executor) newProgressSink(ctx context.Context, chatID string, step *models.WorkflowStep) *progressSink {
	return &progressSink{e: e, ctx: ctx, chatID: chatID, step: step, lastPct: -1}
}

func (s *progressSink) report(percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	s.mu.Lock()
	now := time.Now()
	if percent != 100 && now.Sub(s.lastSent) < s.e.cfg.ProgressInterval {
		s.mu.Unlock()
		return
	}
	if percent <= s.lastPct && percent != 100 {
		s.mu.Unlock()
		return
	}
	s.lastSent = now
	s.lastPct = percent
	s.mu.Unlock()

	s.step.Progress = percent
	if err := s.e.repo.UpdateWorkflowStep(s.ctx, s.step); err != nil {
		s.e.logger.Warn("Failed to persist step progress",
			"chat_id", s.chatID, "step_id", s.step.StepID, "error", err)
	}
	if err := s.e.publisher.PublishProgress(s.chatID, s.step.StepID, s.step.Operation, percent, message); err != nil {
		s.e.logger.Warn("Failed to publish progress",
			"chat_id", s.chatID, "error", err)
	}
}
