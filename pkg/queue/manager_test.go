package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableflow/tableflow/pkg/config"
)

func newTestManager(t *testing.T, workers, queueSize int) *JobManager {
	t.Helper()
	m := NewJobManager(&config.JobsConfig{
		MaxWorkers:              workers,
		QueueSize:               queueSize,
		MaxAge:                  time.Hour,
		GracefulShutdownTimeout: 5 * time.Second,
	})
	t.Cleanup(m.Stop)
	return m
}

// waitTerminal polls until the job reaches a terminal status.
func waitTerminal(t *testing.T, job *BackgroundJob) JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := job.Status(); s.IsTerminal() {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal status", job.ID)
	return ""
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	m := newTestManager(t, 2, 10)

	done := make(chan string, 1)
	job, err := m.Submit("chat1", func(ctx context.Context) error {
		done <- JobIDFromContext(ctx)
		return nil
	}, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(job.ID, "chat1_workflow_"))

	select {
	case gotID := <-done:
		assert.Equal(t, job.ID, gotID)
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}

	assert.Equal(t, JobCompleted, waitTerminal(t, job))
	assert.NoError(t, job.Err())

	snap, err := m.GetStatus(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, snap.Status)
	assert.NotNil(t, snap.StartedAt)
	assert.NotNil(t, snap.CompletedAt)
}

func TestFailedJobCarriesError(t *testing.T) {
	m := newTestManager(t, 1, 10)

	boom := errors.New("boom")
	job, err := m.Submit("chat1", func(context.Context) error { return boom }, nil)
	require.NoError(t, err)

	assert.Equal(t, JobFailed, waitTerminal(t, job))
	assert.ErrorIs(t, job.Err(), boom)

	snap, err := m.GetStatus(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "boom", snap.Error)
}

func TestCompletionCallbackSeesTerminalStatus(t *testing.T) {
	m := newTestManager(t, 1, 10)

	var mu sync.Mutex
	var observed JobStatus
	called := make(chan struct{})

	job, err := m.Submit("chat1", func(context.Context) error { return nil }, func(j *BackgroundJob) {
		mu.Lock()
		observed = j.Status()
		mu.Unlock()
		close(called)
	})
	require.NoError(t, err)

	select {
	case <-called:
	case <-time.After(5 * time.Second):
		t.Fatal("completion callback never ran")
	}
	waitTerminal(t, job)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, JobCompleted, observed)
}

func TestSubmitQueueFull(t *testing.T) {
	m := newTestManager(t, 1, 1)

	release := make(chan struct{})
	blocker := func(context.Context) error { <-release; return nil }

	// First job occupies the single worker, second fills the queue.
	_, err := m.Submit("chat1", blocker, nil)
	require.NoError(t, err)
	// Give the worker time to pick up the first job before filling the queue.
	time.Sleep(50 * time.Millisecond)
	_, err = m.Submit("chat1", blocker, nil)
	require.NoError(t, err)

	_, err = m.Submit("chat1", blocker, nil)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
}

func TestCancelPendingJob(t *testing.T) {
	m := newTestManager(t, 1, 2)

	release := make(chan struct{})
	defer close(release)

	_, err := m.Submit("chat1", func(context.Context) error { <-release; return nil }, nil)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	ran := false
	queued, err := m.Submit("chat1", func(context.Context) error { ran = true; return nil }, nil)
	require.NoError(t, err)

	require.NoError(t, m.Cancel(queued.ID))
	assert.Equal(t, JobCancelled, queued.Status())

	// The worker must skip the cancelled job once it drains the queue.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran)
}

func TestCancelRunningJob(t *testing.T) {
	m := newTestManager(t, 1, 10)

	started := make(chan struct{})
	job, err := m.Submit("chat1", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	require.NoError(t, m.Cancel(job.ID))
	assert.Equal(t, JobCancelled, waitTerminal(t, job))
}

func TestCancelUnknownJob(t *testing.T) {
	m := newTestManager(t, 1, 10)
	assert.ErrorIs(t, m.Cancel("nope"), ErrJobNotFound)
	_, err := m.GetStatus("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestListActiveOrderedBySubmission(t *testing.T) {
	m := newTestManager(t, 1, 10)

	release := make(chan struct{})
	defer close(release)
	blocker := func(context.Context) error { <-release; return nil }

	first, err := m.Submit("chatA", blocker, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := m.Submit("chatB", blocker, nil)
	require.NoError(t, err)

	active := m.ListActive()
	require.Len(t, active, 2)
	assert.Equal(t, first.ID, active[0].JobID)
	assert.Equal(t, second.ID, active[1].JobID)
}

func TestCleanupRemovesOnlyOldTerminalJobs(t *testing.T) {
	m := newTestManager(t, 1, 10)

	job, err := m.Submit("chat1", func(context.Context) error { return nil }, nil)
	require.NoError(t, err)
	waitTerminal(t, job)

	release := make(chan struct{})
	defer close(release)
	running, err := m.Submit("chat2", func(context.Context) error { <-release; return nil }, nil)
	require.NoError(t, err)

	// A generous cutoff keeps the fresh terminal job.
	assert.Equal(t, 0, m.Cleanup(time.Hour))

	// A zero cutoff removes it, but never the running job.
	removed := m.Cleanup(0)
	assert.Equal(t, 1, removed)

	_, err = m.GetStatus(job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = m.GetStatus(running.ID)
	assert.NoError(t, err)
}

func TestSubmitAfterStop(t *testing.T) {
	m := NewJobManager(&config.JobsConfig{
		MaxWorkers:              1,
		QueueSize:               1,
		MaxAge:                  time.Hour,
		GracefulShutdownTimeout: time.Second,
	})
	m.Stop()

	_, err := m.Submit("chat1", func(context.Context) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrManagerStopped)
}
