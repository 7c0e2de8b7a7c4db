// Package queue implements the in-process background job pool that runs
// confirmed workflows asynchronously.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Job status constants. Transitions are one-way:
// pending → running → {completed, failed, cancelled}.
type JobStatus string

// Job lifecycle states.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobFunc is the work a job performs. The context carries cancellation from
// Stop and manual Cancel.
type JobFunc func(ctx context.Context) error

// CompletionFunc runs on the worker goroutine after the job function returns,
// regardless of outcome.
type CompletionFunc func(job *BackgroundJob)

// BackgroundJob is one queued workflow execution.
type BackgroundJob struct {
	ID     string
	ChatID string

	fn         JobFunc
	onComplete CompletionFunc

	mu          sync.RWMutex
	status      JobStatus
	err         error
	submittedAt time.Time
	startedAt   *time.Time
	completedAt *time.Time

	cancel context.CancelFunc
}

// Status returns the job's current status.
func (j *BackgroundJob) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Err returns the job's failure error, nil unless status is failed.
func (j *BackgroundJob) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Snapshot is an immutable view of a job for status reporting.
type Snapshot struct {
	JobID       string     `json:"job_id"`
	ChatID      string     `json:"chat_id"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Snapshot returns a copy of the job's observable state.
func (j *BackgroundJob) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	snap := Snapshot{
		JobID:       j.ID,
		ChatID:      j.ChatID,
		Status:      j.status,
		SubmittedAt: j.submittedAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
	if j.err != nil {
		snap.Error = j.err.Error()
	}
	return snap
}

type jobIDCtxKey struct{}

// withJobID stamps the job id onto the context handed to JobFunc.
func withJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDCtxKey{}, id)
}

// JobIDFromContext returns the running job's id, or "" outside a job.
func JobIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(jobIDCtxKey{}).(string)
	return id
}

// Sentinel errors.
var (
	// ErrQueueFull is returned by Submit when the pending queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")
	// ErrJobNotFound is returned when a job id does not resolve.
	ErrJobNotFound = errors.New("job not found")
	// ErrManagerStopped is returned by Submit after Stop.
	ErrManagerStopped = errors.New("job manager is stopped")
)
