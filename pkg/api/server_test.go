package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shevd/shev/pkg/producer"
	"github.com/shevd/shev/pkg/queue"
	"github.com/shevd/shev/pkg/storage"
	"github.com/shevd/shev/pkg/store"
	"github.com/shevd/shev/pkg/types"
)

type fixture struct {
	server *Server
	store  *store.JobStore
	queue  *queue.Queue
	ts     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	require.NoError(t, catalog.Init(context.Background()))

	s := store.New(catalog)
	q := queue.New(10)
	t.Cleanup(q.Close)

	srv := New(s, producer.NewTimerManager(s, q), producer.NewScheduleManager(s, q), q)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &fixture{server: srv, store: s, queue: q, ts: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (f *fixture) createHandler(t *testing.T, eventType string) {
	t.Helper()
	resp, _ := f.do(t, http.MethodPost, "/handlers", map[string]any{
		"event_type": eventType,
		"shell":      "sh",
		"command":    "echo hi",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerCRUD(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/handlers", map[string]any{
		"event_type": "backup",
		"shell":      "sh",
		"command":    "echo hi",
		"timeout":    30,
		"env":        map[string]string{"A": "1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created types.Handler
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "backup", created.EventType)
	require.NotNil(t, created.Timeout)
	assert.Equal(t, 30, *created.Timeout)

	resp, body = f.do(t, http.MethodGet, "/handlers/backup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched types.Handler
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	resp, body = f.do(t, http.MethodPut, "/handlers/backup", map[string]any{"command": "echo bye"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated types.Handler
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.NotEqual(t, created.ID, updated.ID)
	assert.Equal(t, "echo bye", updated.Command)

	resp, body = f.do(t, http.MethodGet, "/handlers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []types.Handler
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	resp, _ = f.do(t, http.MethodDelete, "/handlers/backup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/handlers/backup", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/handlers/backup", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateHandlerInvalidShell(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/handlers", map[string]any{
		"event_type": "x",
		"shell":      "zsh",
		"command":    "true",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var e map[string]string
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Contains(t, e["error"], "invalid shell")
}

func TestUpdateHandlerNotFound(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPut, "/handlers/ghost", map[string]any{"command": "true"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTimerCRUD(t *testing.T) {
	f := newFixture(t)
	f.createHandler(t, "tick")

	resp, body := f.do(t, http.MethodPost, "/timers", map[string]any{
		"event_type":    "tick",
		"context":       "ctx",
		"interval_secs": 3600,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created types.TimerRecord
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, 3600, created.IntervalSecs)

	interval := 60
	resp, body = f.do(t, http.MethodPut, "/timers/tick", map[string]any{"interval_secs": interval})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated types.TimerRecord
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.NotEqual(t, created.ID, updated.ID)
	assert.Equal(t, 60, updated.IntervalSecs)

	resp, _ = f.do(t, http.MethodDelete, "/timers/tick", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/timers/tick", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateTimerZeroInterval(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/timers", map[string]any{
		"event_type":    "tick",
		"interval_secs": 0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScheduleCRUD(t *testing.T) {
	f := newFixture(t)
	f.createHandler(t, "report")

	at := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	resp, body := f.do(t, http.MethodPost, "/schedules", map[string]any{
		"event_type":     "report",
		"scheduled_time": at,
		"periodic":       true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created types.ScheduleRecord
	require.NoError(t, json.Unmarshal(body, &created))
	assert.True(t, created.Periodic)

	resp, _ = f.do(t, http.MethodGet, "/schedules/report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/schedules/report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateScheduleInvalidTime(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/schedules", map[string]any{
		"event_type":     "report",
		"scheduled_time": "tomorrow",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostEventEnqueues(t *testing.T) {
	f := newFixture(t)
	f.createHandler(t, "echo")

	resp, body := f.do(t, http.MethodPost, "/events", map[string]any{
		"event_type": "echo",
		"context":    "payload",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var er eventResponse
	require.NoError(t, json.Unmarshal(body, &er))
	require.NotNil(t, er.Event)
	assert.Equal(t, "echo", er.Event.EventType)
	assert.Equal(t, "Event queued", er.Message)

	select {
	case ev := <-f.queue.Events():
		assert.Equal(t, "payload", ev.Context)
	case <-time.After(time.Second):
		t.Fatal("event not enqueued")
	}
}

func TestPostEventMentionsLiveTimer(t *testing.T) {
	f := newFixture(t)
	f.createHandler(t, "tick")

	resp, _ := f.do(t, http.MethodPost, "/timers", map[string]any{
		"event_type":    "tick",
		"interval_secs": 3600,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/events", map[string]any{"event_type": "tick"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var er eventResponse
	require.NoError(t, json.Unmarshal(body, &er))
	assert.Contains(t, er.Message, "timer is registered")
}

func TestPostEventMissingType(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/events", map[string]any{"context": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.store.CreateHandler(ctx, "e", types.ShellSh, "true", nil, nil)
	require.NoError(t, err)
	job, err := f.store.CreateJob(ctx, *types.NewEvent("e", ""), h.ID)
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jobs []types.Job
	require.NoError(t, json.Unmarshal(body, &jobs))
	require.Len(t, jobs, 1)

	resp, body = f.do(t, http.MethodGet, fmt.Sprintf("/jobs/%s", job.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got types.Job
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, job.ID, got.ID)

	// cancel a pending job succeeds
	resp, body = f.do(t, http.MethodPost, fmt.Sprintf("/jobs/%s/cancel", job.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, types.JobStatusCancelled, got.Status)

	// cancelling a terminal job is a 400
	resp, _ = f.do(t, http.MethodPost, fmt.Sprintf("/jobs/%s/cancel", job.ID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, fmt.Sprintf("/jobs/%s", types.NewEvent("x", "").ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobsUnknownStatusFilterReturnsAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.store.CreateHandler(ctx, "e", types.ShellSh, "true", nil, nil)
	require.NoError(t, err)
	_, err = f.store.CreateJob(ctx, *types.NewEvent("e", ""), h.ID)
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodGet, "/jobs?status=bogus", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jobs []types.Job
	require.NoError(t, json.Unmarshal(body, &jobs))
	assert.Len(t, jobs, 1)

	resp, body = f.do(t, http.MethodGet, "/jobs?status=completed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &jobs))
	assert.Empty(t, jobs)
}

func TestStatusCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.store.CreateHandler(ctx, "e", types.ShellSh, "true", nil, nil)
	require.NoError(t, err)
	job, err := f.store.CreateJob(ctx, *types.NewEvent("e", ""), h.ID)
	require.NoError(t, err)
	_, err = f.store.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	_, err = f.store.CreateJob(ctx, *types.NewEvent("e", ""), h.ID)
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status statusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, 2, status.TotalJobs)
	assert.Equal(t, 1, status.PendingJobs)
	assert.Equal(t, 1, status.CancelledJobs)
}

func TestHealthReflectsWarnings(t *testing.T) {
	f := newFixture(t)
	f.createHandler(t, "e")

	resp, _ := f.do(t, http.MethodPost, "/timers", map[string]any{
		"event_type":    "e",
		"interval_secs": 3600,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health healthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.True(t, health.Healthy)

	// deleting the handler while the timer lives surfaces a warning
	resp, _ = f.do(t, http.MethodDelete, "/handlers/e", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &health))
	assert.False(t, health.Healthy)
	require.Len(t, health.Warnings, 1)
	assert.Equal(t, types.WarningMissingHandler, health.Warnings[0].Kind)

	// re-creating the handler clears it
	f.createHandler(t, "e")
	resp, body = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &health))
	assert.True(t, health.Healthy)
}

func TestConfigEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg configResponse
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "100", cfg.QueueSize)

	resp, body = f.do(t, http.MethodPut, "/config", map[string]any{"port": "8080"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.Equal(t, "8080", cfg.Port)

	resp, _ = f.do(t, http.MethodPut, "/config", map[string]any{"port": "0"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/config", map[string]any{"queue_size": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// rows written behind the mirror's back appear after reload
	_, err := f.store.Catalog().UpsertHandler(ctx, "h1", types.ShellSh, "true", nil, nil)
	require.NoError(t, err)
	_, err = f.store.Catalog().UpsertTimer(ctx, "h1", "", 3600)
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodPost, "/reload", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rl reloadResponse
	require.NoError(t, json.Unmarshal(body, &rl))
	assert.True(t, rl.Success)
	assert.Equal(t, 1, rl.HandlersLoaded)
	assert.Equal(t, 1, rl.TimersLoaded)

	// reload is idempotent
	resp, body = f.do(t, http.MethodPost, "/reload", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &rl))
	assert.Equal(t, 1, rl.HandlersLoaded)
	assert.Equal(t, 1, rl.TimersLoaded)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "shev_")
}
