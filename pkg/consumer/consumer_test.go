package consumer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shevd/shev/pkg/executor"
	"github.com/shevd/shev/pkg/queue"
	"github.com/shevd/shev/pkg/storage"
	"github.com/shevd/shev/pkg/store"
	"github.com/shevd/shev/pkg/types"
)

func newTestStore(t *testing.T) *store.JobStore {
	t.Helper()

	catalog, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	require.NoError(t, catalog.Init(context.Background()))

	return store.New(catalog)
}

// fakeExecutor returns canned results without spawning processes
type fakeExecutor struct {
	result *types.ExecutionResult
	err    error
	calls  int
}

func (f *fakeExecutor) Execute(_ context.Context, _ *types.Handler, _ string) (*types.ExecutionResult, error) {
	f.calls++
	return f.result, f.err
}

func startConsumer(t *testing.T, s *store.JobStore, exec Executor) (*queue.Queue, *Control) {
	t.Helper()
	q := queue.New(10)
	control := NewControl()
	c := New(q, s, exec, control)
	c.Start()
	t.Cleanup(func() {
		q.Close()
		select {
		case <-c.Done():
		case <-time.After(2 * time.Second):
			t.Error("consumer did not stop")
		}
	})
	return q, control
}

func waitForJob(t *testing.T, s *store.JobStore, eventType string, status types.JobStatus) *types.Job {
	t.Helper()
	var found *types.Job
	require.Eventually(t, func() bool {
		jobs, err := s.Jobs(context.Background(), &status, 0)
		if err != nil {
			return false
		}
		for _, j := range jobs {
			if j.Event.EventType == eventType {
				found = j
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond, "no %s job for %s", status, eventType)
	return found
}

func TestConsumerCompletesJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateHandler(ctx, "echo", types.ShellSh, "echo hi", nil, nil)
	require.NoError(t, err)

	exec := &fakeExecutor{result: &types.ExecutionResult{Success: true, Stdout: "hi\n"}}
	q, _ := startConsumer(t, s, exec)

	require.NoError(t, q.Send(types.NewEvent("echo", "")))

	job := waitForJob(t, s, "echo", types.JobStatusCompleted)
	require.NotNil(t, job.Output)
	assert.Equal(t, "hi\n", *job.Output)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.FinishedAt)
	assert.Equal(t, 1, exec.calls)
}

func TestConsumerSynthesizesExitCodeError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateHandler(ctx, "bad", types.ShellSh, "exit 7", nil, nil)
	require.NoError(t, err)

	exec := &fakeExecutor{result: &types.ExecutionResult{Success: false, ExitCode: 7}}
	q, _ := startConsumer(t, s, exec)

	require.NoError(t, q.Send(types.NewEvent("bad", "")))

	job := waitForJob(t, s, "bad", types.JobStatusFailed)
	require.NotNil(t, job.Error)
	assert.Equal(t, "Exit code: 7", *job.Error)
}

func TestConsumerPrefersStderrMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateHandler(ctx, "bad", types.ShellSh, "boom", nil, nil)
	require.NoError(t, err)

	exec := &fakeExecutor{result: &types.ExecutionResult{Success: false, ExitCode: 1, Stderr: "boom: not found"}}
	q, _ := startConsumer(t, s, exec)

	require.NoError(t, q.Send(types.NewEvent("bad", "")))

	job := waitForJob(t, s, "bad", types.JobStatusFailed)
	require.NotNil(t, job.Error)
	assert.Equal(t, "boom: not found", *job.Error)
}

func TestConsumerRecordsExecutorError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateHandler(ctx, "slow", types.ShellSh, "sleep 5", nil, nil)
	require.NoError(t, err)

	exec := &fakeExecutor{err: errors.New("Command timed out after 1 seconds")}
	q, _ := startConsumer(t, s, exec)

	require.NoError(t, q.Send(types.NewEvent("slow", "")))

	job := waitForJob(t, s, "slow", types.JobStatusFailed)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "timed out after 1")
}

func TestConsumerDropsEventWithoutHandler(t *testing.T) {
	s := newTestStore(t)

	exec := &fakeExecutor{result: &types.ExecutionResult{Success: true}}
	q, _ := startConsumer(t, s, exec)

	require.NoError(t, q.Send(types.NewEvent("unknown", "")))
	time.Sleep(300 * time.Millisecond)

	jobs, err := s.Jobs(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs, "no job row may be created without a handler")
	assert.Equal(t, 0, exec.calls)
}

func TestConsumerPausedDiscardsEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateHandler(ctx, "e", types.ShellSh, "true", nil, nil)
	require.NoError(t, err)

	exec := &fakeExecutor{result: &types.ExecutionResult{Success: true}}
	q, control := startConsumer(t, s, exec)

	control.Pause()
	require.NoError(t, q.Send(types.NewEvent("e", "")))
	time.Sleep(300 * time.Millisecond)

	jobs, err := s.Jobs(ctx, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	control.Resume()
	require.NoError(t, q.Send(types.NewEvent("e", "")))
	waitForJob(t, s, "e", types.JobStatusCompleted)
}

// slowExecutor blocks until released so cancellation can win the race
type slowExecutor struct {
	release chan struct{}
}

func (s *slowExecutor) Execute(_ context.Context, _ *types.Handler, _ string) (*types.ExecutionResult, error) {
	<-s.release
	return &types.ExecutionResult{Success: true, Stdout: "late"}, nil
}

func TestConsumerRespectsCancelDuringRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateHandler(ctx, "e", types.ShellSh, "sleep 60", nil, nil)
	require.NoError(t, err)

	exec := &slowExecutor{release: make(chan struct{})}
	q, _ := startConsumer(t, s, exec)

	require.NoError(t, q.Send(types.NewEvent("e", "")))

	job := waitForJob(t, s, "e", types.JobStatusRunning)

	_, err = s.CancelJob(ctx, job.ID)
	require.NoError(t, err)

	close(exec.release)
	time.Sleep(300 * time.Millisecond)

	final, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, final.Status)
	assert.Nil(t, final.Output, "late completion must not overwrite the cancel")
}

func TestConsumerWithRealShell(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateHandler(ctx, "echo", types.ShellSh, "echo hi", nil, nil)
	require.NoError(t, err)

	q, _ := startConsumer(t, s, executor.New())

	require.NoError(t, q.Send(types.NewEvent("echo", "")))

	job := waitForJob(t, s, "echo", types.JobStatusCompleted)
	require.NotNil(t, job.Output)
	assert.Equal(t, "hi\n", *job.Output)
}
