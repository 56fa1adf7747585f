package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shevd/shev/pkg/types"
)

func uuidMustParse(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestInitIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Init(context.Background()))
}

func TestConfigDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	port, err := s.Port(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3000, port)

	size, err := s.QueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, size)
}

func TestConfigSetGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetConfig(ctx, "port", "8080"))
	port, err := s.Port(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8080, port)

	require.NoError(t, s.SetConfig(ctx, "queue_size", "zero"))
	_, err = s.QueueSize(ctx)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = s.GetConfig(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	all, err := s.GetAllConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "8080", all["port"])
}

func TestHandlerUpsertRegeneratesID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	timeout := 30
	h1, err := s.UpsertHandler(ctx, "backup", types.ShellSh, "echo hi", &timeout, map[string]string{"A": "1"})
	require.NoError(t, err)
	assert.Equal(t, "backup", h1.EventType)
	require.NotNil(t, h1.Timeout)
	assert.Equal(t, 30, *h1.Timeout)

	h2, err := s.UpsertHandler(ctx, "backup", types.ShellBash, "echo bye", nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, h1.ID, h2.ID)
	assert.Equal(t, types.ShellBash, h2.Shell)
	assert.Nil(t, h2.Timeout)

	got, err := s.GetHandler(ctx, "backup")
	require.NoError(t, err)
	assert.Equal(t, h2.ID, got.ID)
	assert.Equal(t, "echo bye", got.Command)
	assert.Equal(t, h1.CreatedAt.Unix(), got.CreatedAt.Unix())

	all, err := s.GetAllHandlers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestHandlerDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertHandler(ctx, "x", types.ShellSh, "true", nil, nil)
	require.NoError(t, err)

	removed, err := s.DeleteHandler(ctx, "x")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteHandler(ctx, "x")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.GetHandler(ctx, "x")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, ok, err := s.GetHandlerID(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimerCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t1, err := s.UpsertTimer(ctx, "tick", "ctx", 5)
	require.NoError(t, err)

	t2, err := s.UpsertTimer(ctx, "tick", "ctx2", 10)
	require.NoError(t, err)
	assert.NotEqual(t, t1.ID, t2.ID)

	id, ok, err := s.GetTimerID(ctx, "tick")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t2.ID, id)

	got, err := s.GetTimer(ctx, "tick")
	require.NoError(t, err)
	assert.Equal(t, 10, got.IntervalSecs)
	assert.Equal(t, "ctx2", got.Context)

	all, err := s.GetAllTimers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	removed, err := s.DeleteTimer(ctx, "tick")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = s.GetTimer(ctx, "tick")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestScheduleCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)
	s1, err := s.UpsertSchedule(ctx, "report", "", at, true)
	require.NoError(t, err)
	assert.True(t, s1.Periodic)

	got, err := s.GetSchedule(ctx, "report")
	require.NoError(t, err)
	assert.Equal(t, s1.ID, got.ID)
	assert.True(t, got.ScheduledTime.Equal(at))

	s2, err := s.UpsertSchedule(ctx, "report", "", at.Add(time.Hour), false)
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)

	id, ok, err := s.GetScheduleID(ctx, "report")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, s2.ID, id)

	removed, err := s.DeleteSchedule(ctx, "report")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	h, err := s.UpsertHandler(ctx, "echo", types.ShellSh, "echo hi", nil, nil)
	require.NoError(t, err)

	event := types.NewEvent("echo", "payload")
	job := types.NewJob(*event, h.ID)
	require.NoError(t, s.InsertJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, got.Status)
	assert.Equal(t, "payload", got.Event.Context)
	assert.Nil(t, got.Output)

	now := time.Now().UTC()
	output := "hi\n"
	got.Status = types.JobStatusCompleted
	got.Output = &output
	got.StartedAt = &now
	got.FinishedAt = &now
	require.NoError(t, s.UpdateJob(ctx, got))

	final, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, final.Status)
	require.NotNil(t, final.Output)
	assert.Equal(t, "hi\n", *final.Output)
	require.NotNil(t, final.FinishedAt)
}

func TestUpdateJobNotFound(t *testing.T) {
	s := openTestStore(t)

	job := types.NewJob(*types.NewEvent("ghost", ""), uuid.New())
	err := s.UpdateJob(context.Background(), job)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetAllJobsFilterAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	h, err := s.UpsertHandler(ctx, "e", types.ShellSh, "true", nil, nil)
	require.NoError(t, err)

	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		event := types.NewEvent("e", "")
		event.Timestamp = base.Add(time.Duration(i) * time.Second)
		job := types.NewJob(*event, h.ID)
		require.NoError(t, s.InsertJob(ctx, job))
		ids = append(ids, job.ID.String())
	}

	jobs, err := s.GetAllJobs(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	// newest first
	assert.Equal(t, ids[2], jobs[0].ID.String())
	assert.Equal(t, ids[0], jobs[2].ID.String())

	pending := types.JobStatusPending
	filtered, err := s.GetAllJobs(ctx, &pending, 0)
	require.NoError(t, err)
	assert.Len(t, filtered, 3)

	completed := types.JobStatusCompleted
	filtered, err = s.GetAllJobs(ctx, &completed, 0)
	require.NoError(t, err)
	assert.Empty(t, filtered)

	limited, err := s.GetAllJobs(ctx, nil, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestHasActiveJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	h, err := s.UpsertHandler(ctx, "e", types.ShellSh, "true", nil, nil)
	require.NoError(t, err)

	active, err := s.HasActiveJob(ctx, "e")
	require.NoError(t, err)
	assert.False(t, active)

	job := types.NewJob(*types.NewEvent("e", ""), h.ID)
	require.NoError(t, s.InsertJob(ctx, job))

	active, err = s.HasActiveJob(ctx, "e")
	require.NoError(t, err)
	assert.True(t, active)

	now := time.Now().UTC()
	job.Status = types.JobStatusFailed
	msg := "boom"
	job.Error = &msg
	job.FinishedAt = &now
	require.NoError(t, s.UpdateJob(ctx, job))

	active, err = s.HasActiveJob(ctx, "e")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestCancelStaleJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	h, err := s.UpsertHandler(ctx, "e", types.ShellSh, "true", nil, nil)
	require.NoError(t, err)

	pending := types.NewJob(*types.NewEvent("e", ""), h.ID)
	require.NoError(t, s.InsertJob(ctx, pending))

	running := types.NewJob(*types.NewEvent("e", ""), h.ID)
	running.Status = types.JobStatusRunning
	require.NoError(t, s.InsertJob(ctx, running))

	done := types.NewJob(*types.NewEvent("e", ""), h.ID)
	done.Status = types.JobStatusCompleted
	require.NoError(t, s.InsertJob(ctx, done))

	n, err := s.CancelStaleJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []string{pending.ID.String(), running.ID.String()} {
		job, err := s.GetJob(ctx, uuidMustParse(t, id))
		require.NoError(t, err)
		assert.Equal(t, types.JobStatusCancelled, job.Status)
		require.NotNil(t, job.Error)
		assert.Equal(t, "Backend restarted", *job.Error)
		assert.NotNil(t, job.FinishedAt)
	}

	untouched, err := s.GetJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, untouched.Status)

	counts, err := s.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[types.JobStatusCancelled])
	assert.Equal(t, 1, counts[types.JobStatusCompleted])
}
