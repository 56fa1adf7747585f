package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAndApply(t *testing.T) {
	path := writeSeed(t, `
handlers:
  - event_type: backup
    shell: sh
    command: /usr/local/bin/backup.sh
    timeout: 300
    env:
      BACKUP_DIR: /var/backups
  - event_type: report
    shell: bash
    command: generate-report

timers:
  - event_type: backup
    context: nightly
    interval_secs: 86400

schedules:
  - event_type: report
    scheduled_time: "2030-01-01T09:00:00Z"
    periodic: true
`)

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Handlers, 2)
	assert.Len(t, f.Timers, 1)
	assert.Len(t, f.Schedules, 1)

	s := newTestStore(t)
	require.NoError(t, Apply(context.Background(), s, f))

	h, ok := s.GetHandler("backup")
	require.True(t, ok)
	assert.Equal(t, types.ShellSh, h.Shell)
	require.NotNil(t, h.Timeout)
	assert.Equal(t, 300, *h.Timeout)
	assert.Equal(t, "/var/backups", h.Env["BACKUP_DIR"])

	timer, ok := s.GetTimer("backup")
	require.True(t, ok)
	assert.Equal(t, 86400, timer.IntervalSecs)

	sched, ok := s.GetSchedule("report")
	require.True(t, ok)
	assert.True(t, sched.Periodic)
}

func TestApplyRejectsBadShell(t *testing.T) {
	path := writeSeed(t, `
handlers:
  - event_type: x
    shell: zsh
    command: true
`)
	f, err := Load(path)
	require.NoError(t, err)

	err = Apply(context.Background(), newTestStore(t), f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid shell")
}

func TestApplyRejectsBadScheduledTime(t *testing.T) {
	path := writeSeed(t, `
schedules:
  - event_type: x
    scheduled_time: tomorrow
`)
	f, err := Load(path)
	require.NoError(t, err)

	err = Apply(context.Background(), newTestStore(t), f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduled_time")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeSeed(t, "handlers: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
}
