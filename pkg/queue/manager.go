package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/tableflow/tableflow/pkg/config"
)

// JobManager owns a fixed pool of workers draining a bounded FIFO queue of
// background jobs. One instance per process.
type JobManager struct {
	cfg *config.JobsConfig

	jobCh    chan *BackgroundJob
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.RWMutex
	jobs    map[string]*BackgroundJob
	stopped bool

	logger *slog.Logger
}

// NewJobManager creates a manager and starts its workers.
func NewJobManager(cfg *config.JobsConfig) *JobManager {
	m := &JobManager{
		cfg:    cfg,
		jobCh:  make(chan *BackgroundJob, cfg.QueueSize),
		stopCh: make(chan struct{}),
		jobs:   make(map[string]*BackgroundJob),
		logger: slog.With("component", "queue"),
	}

	m.logger.Info("Starting job manager",
		"workers", cfg.MaxWorkers, "queue_size", cfg.QueueSize)
	for i := 0; i < cfg.MaxWorkers; i++ {
		m.wg.Add(1)
		go m.runWorker(i)
	}
	return m
}

// Submit enqueues a job for the given conversation. The returned job id has
// the shape {chat_id}_workflow_{random}. onComplete may be nil.
func (m *JobManager) Submit(chatID string, fn JobFunc, onComplete CompletionFunc) (*BackgroundJob, error) {
	job := &BackgroundJob{
		ID:          fmt.Sprintf("%s_workflow_%08x", chatID, rand.Uint32()),
		ChatID:      chatID,
		fn:          fn,
		onComplete:  onComplete,
		status:      JobPending,
		submittedAt: time.Now(),
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrManagerStopped
	}
	m.jobs[job.ID] = job
	m.mu.Unlock()

	select {
	case m.jobCh <- job:
		return job, nil
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, ErrQueueFull
	}
}

// GetStatus returns a snapshot of the job with the given id.
func (m *JobManager) GetStatus(jobID string) (Snapshot, error) {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job.Snapshot(), nil
}

// ListActive returns snapshots of all non-terminal jobs, oldest first.
func (m *JobManager) ListActive() []Snapshot {
	m.mu.RLock()
	snaps := make([]Snapshot, 0, len(m.jobs))
	for _, job := range m.jobs {
		if snap := job.Snapshot(); !snap.Status.IsTerminal() {
			snaps = append(snaps, snap)
		}
	}
	m.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].SubmittedAt.Before(snaps[j].SubmittedAt)
	})
	return snaps
}

// Cancel cancels a running job's context. Pending jobs are marked cancelled
// and skipped when a worker picks them up.
func (m *JobManager) Cancel(jobID string) error {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	job.mu.Lock()
	switch {
	case job.status == JobPending:
		now := time.Now()
		job.status = JobCancelled
		job.completedAt = &now
	case job.status == JobRunning && job.cancel != nil:
		job.cancel()
	}
	job.mu.Unlock()
	return nil
}

// Cleanup removes terminal jobs older than maxAge, measured from completion.
// Active jobs are never removed. Returns the number of jobs removed.
func (m *JobManager) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, job := range m.jobs {
		snap := job.Snapshot()
		if !snap.Status.IsTerminal() {
			continue
		}
		if snap.CompletedAt != nil && snap.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("Cleaned up terminal jobs", "removed", removed)
	}
	return removed
}

// Stop signals workers to stop and waits for running jobs up to the
// configured graceful shutdown timeout, then cancels them.
func (m *JobManager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopCh) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Job manager stopped gracefully")
	case <-time.After(m.cfg.GracefulShutdownTimeout):
		m.logger.Warn("Graceful shutdown timed out, cancelling running jobs")
		m.mu.RLock()
		for _, job := range m.jobs {
			job.mu.RLock()
			cancel := job.cancel
			job.mu.RUnlock()
			if cancel != nil {
				cancel()
			}
		}
		m.mu.RUnlock()
		<-done
	}
}

// runWorker is the main worker loop: drain the queue until stopped.
func (m *JobManager) runWorker(id int) {
	defer m.wg.Done()

	log := m.logger.With("worker", id)
	log.Info("Worker started")

	for {
		select {
		case <-m.stopCh:
			log.Info("Worker shutting down")
			return
		case job := <-m.jobCh:
			m.runJob(log, job)
		}
	}
}

func (m *JobManager) runJob(log *slog.Logger, job *BackgroundJob) {
	ctx, cancel := context.WithCancel(withJobID(context.Background(), job.ID))
	defer cancel()

	job.mu.Lock()
	if job.status != JobPending {
		// Cancelled while queued.
		job.mu.Unlock()
		return
	}
	now := time.Now()
	job.status = JobRunning
	job.startedAt = &now
	job.cancel = cancel
	job.mu.Unlock()

	log.Info("Job started", "job_id", job.ID, "chat_id", job.ChatID)
	err := job.fn(ctx)

	job.mu.Lock()
	completed := time.Now()
	job.completedAt = &completed
	job.cancel = nil
	switch {
	case err == nil:
		job.status = JobCompleted
	case errors.Is(err, context.Canceled):
		job.status = JobCancelled
		job.err = err
	default:
		job.status = JobFailed
		job.err = err
	}
	status := job.status
	job.mu.Unlock()

	if err != nil {
		log.Warn("Job finished with error", "job_id", job.ID, "status", status, "error", err)
	} else {
		log.Info("Job completed", "job_id", job.ID)
	}

	// Completion callback runs on the worker so callers never observe a
	// terminal status before its side effects are applied.
	if job.onComplete != nil {
		job.onComplete(job)
	}
}
