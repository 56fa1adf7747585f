package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/shevd/shev/pkg/types"
)

// timeLayout is a fixed-width UTC RFC3339 form so stored timestamps sort
// lexicographically in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// defaultJobLimit caps job listings
const defaultJobLimit = 1000

// Store is the persistent catalog of handlers, timers, schedules, jobs,
// and config. All operations hold a single mutex (one writer at a time).
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) the catalog at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent producers.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS handlers (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL UNIQUE,
		shell TEXT NOT NULL,
		command TEXT NOT NULL,
		timeout INTEGER,
		env TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS timers (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL UNIQUE,
		context TEXT NOT NULL DEFAULT '',
		interval_secs INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL UNIQUE,
		context TEXT NOT NULL DEFAULT '',
		scheduled_time TEXT NOT NULL,
		periodic INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_context TEXT NOT NULL DEFAULT '',
		event_timestamp TEXT NOT NULL,
		handler_id TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT,
		error TEXT,
		started_at TEXT,
		finished_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_event_type_status ON jobs(event_type, status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_event_timestamp ON jobs(event_timestamp)`,
	`CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`INSERT OR IGNORE INTO config (key, value) VALUES ('port', '3000')`,
	`INSERT OR IGNORE INTO config (key, value) VALUES ('queue_size', '100')`,
}

// Init creates the schema and seeds config defaults. Safe to call on an
// existing catalog.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may carry plain RFC3339
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t, err
}

func encodeEnv(env map[string]string) (string, error) {
	if env == nil {
		env = map[string]string{}
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode env: %w", err)
	}
	return string(b), nil
}

func decodeEnv(s string) (map[string]string, error) {
	if s == "" {
		return map[string]string{}, nil
	}
	var env map[string]string
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, fmt.Errorf("failed to decode env: %w", err)
	}
	return env, nil
}

// UpsertHandler inserts a handler row for the event type, or rewrites the
// existing row with a fresh id and updated_at. Returns the stored record.
func (s *Store) UpsertHandler(ctx context.Context, eventType string, shell types.ShellType, command string, timeout *int, env map[string]string) (*types.Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	envJSON, err := encodeEnv(env)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.New()

	var createdAt string
	err = s.db.QueryRowContext(ctx,
		`SELECT created_at FROM handlers WHERE event_type = ?`, eventType,
	).Scan(&createdAt)

	switch {
	case err == sql.ErrNoRows:
		createdAt = formatTime(now)
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO handlers (id, event_type, shell, command, timeout, env, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id.String(), eventType, string(shell), command, nullInt(timeout), envJSON, createdAt, formatTime(now))
		if err != nil {
			return nil, fmt.Errorf("failed to insert handler: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to query handler: %w", err)
	default:
		_, err = s.db.ExecContext(ctx,
			`UPDATE handlers SET id = ?, shell = ?, command = ?, timeout = ?, env = ?, updated_at = ?
			 WHERE event_type = ?`,
			id.String(), string(shell), command, nullInt(timeout), envJSON, formatTime(now), eventType)
		if err != nil {
			return nil, fmt.Errorf("failed to update handler: %w", err)
		}
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &types.Handler{
		ID:        id,
		EventType: eventType,
		Shell:     shell,
		Command:   command,
		Timeout:   timeout,
		Env:       env,
		CreatedAt: created,
		UpdatedAt: now,
	}, nil
}

// DeleteHandler removes the handler for the event type. Returns true iff a
// row was removed.
func (s *Store) DeleteHandler(ctx context.Context, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM handlers WHERE event_type = ?`, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to delete handler: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// GetHandler fetches the handler for the event type
func (s *Store) GetHandler(ctx context.Context, eventType string) (*types.Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, event_type, shell, command, timeout, env, created_at, updated_at
		 FROM handlers WHERE event_type = ?`, eventType)
	h, err := scanHandler(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("handler %q: %w", eventType, types.ErrNotFound)
	}
	return h, err
}

// GetAllHandlers lists every handler
func (s *Store) GetAllHandlers(ctx context.Context) ([]*types.Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, shell, command, timeout, env, created_at, updated_at
		 FROM handlers ORDER BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list handlers: %w", err)
	}
	defer rows.Close()

	var handlers []*types.Handler
	for rows.Next() {
		h, err := scanHandler(rows)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return handlers, rows.Err()
}

// GetHandlerID returns the current authoritative handler id for the event
// type, and whether one exists.
func (s *Store) GetHandlerID(ctx context.Context, eventType string) (uuid.UUID, bool, error) {
	return s.getID(ctx, "handlers", eventType)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHandler(row rowScanner) (*types.Handler, error) {
	var (
		id, eventType, shell, command, envJSON string
		timeout                                sql.NullInt64
		createdAt, updatedAt                   string
	)
	if err := row.Scan(&id, &eventType, &shell, &command, &timeout, &envJSON, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan handler: %w", err)
	}

	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse handler id: %w", err)
	}
	env, err := decodeEnv(envJSON)
	if err != nil {
		return nil, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	h := &types.Handler{
		ID:        uid,
		EventType: eventType,
		Shell:     types.ShellType(shell),
		Command:   command,
		Env:       env,
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if timeout.Valid {
		t := int(timeout.Int64)
		h.Timeout = &t
	}
	return h, nil
}

// UpsertTimer inserts a timer row for the event type, or rewrites the
// existing row with a fresh id. Returns the stored record.
func (s *Store) UpsertTimer(ctx context.Context, eventType, eventContext string, intervalSecs int) (*types.TimerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now())
	id := uuid.New()

	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM timers WHERE event_type = ?`, eventType,
	).Scan(&existing)

	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO timers (id, event_type, context, interval_secs, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id.String(), eventType, eventContext, intervalSecs, now, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert timer: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to query timer: %w", err)
	default:
		_, err = s.db.ExecContext(ctx,
			`UPDATE timers SET id = ?, context = ?, interval_secs = ?, updated_at = ? WHERE event_type = ?`,
			id.String(), eventContext, intervalSecs, now, eventType)
		if err != nil {
			return nil, fmt.Errorf("failed to update timer: %w", err)
		}
	}

	return &types.TimerRecord{
		ID:           id,
		EventType:    eventType,
		Context:      eventContext,
		IntervalSecs: intervalSecs,
	}, nil
}

// DeleteTimer removes the timer for the event type
func (s *Store) DeleteTimer(ctx context.Context, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE event_type = ?`, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to delete timer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// GetTimer fetches the timer for the event type
func (s *Store) GetTimer(ctx context.Context, eventType string) (*types.TimerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		id, et, c string
		interval  int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, event_type, context, interval_secs FROM timers WHERE event_type = ?`, eventType,
	).Scan(&id, &et, &c, &interval)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("timer %q: %w", eventType, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query timer: %w", err)
	}

	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timer id: %w", err)
	}
	return &types.TimerRecord{ID: uid, EventType: et, Context: c, IntervalSecs: interval}, nil
}

// GetAllTimers lists every timer
func (s *Store) GetAllTimers(ctx context.Context) ([]*types.TimerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, context, interval_secs FROM timers ORDER BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list timers: %w", err)
	}
	defer rows.Close()

	var timers []*types.TimerRecord
	for rows.Next() {
		var (
			id, et, c string
			interval  int
		)
		if err := rows.Scan(&id, &et, &c, &interval); err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}
		uid, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timer id: %w", err)
		}
		timers = append(timers, &types.TimerRecord{ID: uid, EventType: et, Context: c, IntervalSecs: interval})
	}
	return timers, rows.Err()
}

// GetTimerID returns the current authoritative timer id for the event type
func (s *Store) GetTimerID(ctx context.Context, eventType string) (uuid.UUID, bool, error) {
	return s.getID(ctx, "timers", eventType)
}

// UpsertSchedule inserts a schedule row for the event type, or rewrites the
// existing row with a fresh id. Returns the stored record.
func (s *Store) UpsertSchedule(ctx context.Context, eventType, eventContext string, scheduledTime time.Time, periodic bool) (*types.ScheduleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now())
	id := uuid.New()
	st := formatTime(scheduledTime)
	p := 0
	if periodic {
		p = 1
	}

	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM schedules WHERE event_type = ?`, eventType,
	).Scan(&existing)

	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO schedules (id, event_type, context, scheduled_time, periodic, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id.String(), eventType, eventContext, st, p, now, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert schedule: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to query schedule: %w", err)
	default:
		_, err = s.db.ExecContext(ctx,
			`UPDATE schedules SET id = ?, context = ?, scheduled_time = ?, periodic = ?, updated_at = ? WHERE event_type = ?`,
			id.String(), eventContext, st, p, now, eventType)
		if err != nil {
			return nil, fmt.Errorf("failed to update schedule: %w", err)
		}
	}

	return &types.ScheduleRecord{
		ID:            id,
		EventType:     eventType,
		Context:       eventContext,
		ScheduledTime: scheduledTime.UTC(),
		Periodic:      periodic,
	}, nil
}

// DeleteSchedule removes the schedule for the event type
func (s *Store) DeleteSchedule(ctx context.Context, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE event_type = ?`, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to delete schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// GetSchedule fetches the schedule for the event type
func (s *Store) GetSchedule(ctx context.Context, eventType string) (*types.ScheduleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		id, et, c, st string
		p             int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, event_type, context, scheduled_time, periodic FROM schedules WHERE event_type = ?`, eventType,
	).Scan(&id, &et, &c, &st, &p)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule %q: %w", eventType, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule: %w", err)
	}
	return buildSchedule(id, et, c, st, p)
}

// GetAllSchedules lists every schedule
func (s *Store) GetAllSchedules(ctx context.Context) ([]*types.ScheduleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, context, scheduled_time, periodic FROM schedules ORDER BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*types.ScheduleRecord
	for rows.Next() {
		var (
			id, et, c, st string
			p             int
		)
		if err := rows.Scan(&id, &et, &c, &st, &p); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		rec, err := buildSchedule(id, et, c, st, p)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, rec)
	}
	return schedules, rows.Err()
}

// GetScheduleID returns the current authoritative schedule id for the event type
func (s *Store) GetScheduleID(ctx context.Context, eventType string) (uuid.UUID, bool, error) {
	return s.getID(ctx, "schedules", eventType)
}

func buildSchedule(id, eventType, eventContext, scheduledTime string, periodic int) (*types.ScheduleRecord, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule id: %w", err)
	}
	st, err := parseTime(scheduledTime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scheduled_time: %w", err)
	}
	return &types.ScheduleRecord{
		ID:            uid,
		EventType:     eventType,
		Context:       eventContext,
		ScheduledTime: st,
		Periodic:      periodic != 0,
	}, nil
}

func (s *Store) getID(ctx context.Context, table, eventType string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM `+table+` WHERE event_type = ?`, eventType,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to query %s id: %w", table, err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to parse %s id: %w", table, err)
	}
	return uid, true, nil
}

// InsertJob persists a new job row
func (s *Store) InsertJob(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, event_id, event_type, event_context, event_timestamp, handler_id, status, output, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.Event.ID.String(), job.Event.EventType, job.Event.Context,
		formatTime(job.Event.Timestamp), job.HandlerID.String(), string(job.Status),
		nullStr(job.Output), nullStr(job.Error), nullTime(job.StartedAt), nullTime(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// UpdateJob rewrites the mutable fields of a job row
func (s *Store) UpdateJob(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, output = ?, error = ?, started_at = ?, finished_at = ? WHERE id = ?`,
		string(job.Status), nullStr(job.Output), nullStr(job.Error),
		nullTime(job.StartedAt), nullTime(job.FinishedAt), job.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, types.ErrNotFound)
	}
	return nil
}

// GetJob fetches a job by id
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, event_id, event_type, event_context, event_timestamp, handler_id, status, output, error, started_at, finished_at
		 FROM jobs WHERE id = ?`, id.String())
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}
	return job, err
}

// GetAllJobs lists jobs newest first, optionally filtered by status. A
// non-positive limit applies the default cap of 1000 rows.
func (s *Store) GetAllJobs(ctx context.Context, status *types.JobStatus, limit int) ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = defaultJobLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, event_id, event_type, event_context, event_timestamp, handler_id, status, output, error, started_at, finished_at
			 FROM jobs WHERE status = ? ORDER BY event_timestamp DESC LIMIT ?`, string(*status), limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, event_id, event_type, event_context, event_timestamp, handler_id, status, output, error, started_at, finished_at
			 FROM jobs ORDER BY event_timestamp DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountJobsByStatus returns job counts grouped by status
func (s *Store) CountJobsByStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.JobStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[types.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// HasActiveJob reports whether any job of the event type is pending or running
func (s *Store) HasActiveJob(ctx context.Context, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE event_type = ? AND status IN ('pending', 'running')`, eventType,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query active jobs: %w", err)
	}
	return n > 0, nil
}

// CancelStaleJobs transitions every pending or running job to cancelled.
// Called once at startup to resolve jobs orphaned by a previous crash.
func (s *Store) CancelStaleJobs(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'cancelled', error = 'Backend restarted', finished_at = ?
		 WHERE status IN ('pending', 'running')`, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

func scanJob(row rowScanner) (*types.Job, error) {
	var (
		id, eventID, eventType, eventContext, eventTS, handlerID, status string
		output, errMsg, startedAt, finishedAt                            sql.NullString
	)
	if err := row.Scan(&id, &eventID, &eventType, &eventContext, &eventTS, &handlerID, &status,
		&output, &errMsg, &startedAt, &finishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	jid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse job id: %w", err)
	}
	eid, err := uuid.Parse(eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse event id: %w", err)
	}
	hid, err := uuid.Parse(handlerID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse handler id: %w", err)
	}
	ts, err := parseTime(eventTS)
	if err != nil {
		return nil, fmt.Errorf("failed to parse event timestamp: %w", err)
	}

	job := &types.Job{
		ID: jid,
		Event: types.Event{
			ID:        eid,
			EventType: eventType,
			Context:   eventContext,
			Timestamp: ts,
		},
		HandlerID: hid,
		Status:    types.JobStatus(status),
	}
	if output.Valid {
		job.Output = &output.String
	}
	if errMsg.Valid {
		job.Error = &errMsg.String
	}
	if startedAt.Valid {
		t, err := parseTime(startedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finished_at: %w", err)
		}
		job.FinishedAt = &t
	}
	return job, nil
}

// GetConfig returns the value for a config key
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("config %q: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query config: %w", err)
	}
	return value, nil
}

// SetConfig writes a config key. The value takes effect on next start for
// the keys the daemon reads at boot.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config: %w", err)
	}
	return nil
}

// GetAllConfig returns the whole config table
func (s *Store) GetAllConfig(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("failed to list config: %w", err)
	}
	defer rows.Close()

	cfg := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		cfg[k] = v
	}
	return cfg, rows.Err()
}

// Port returns the configured listen port
func (s *Store) Port(ctx context.Context) (int, error) {
	return s.intConfig(ctx, "port")
}

// QueueSize returns the configured queue capacity
func (s *Store) QueueSize(ctx context.Context) (int, error) {
	return s.intConfig(ctx, "queue_size")
}

func (s *Store) intConfig(ctx context.Context, key string) (int, error) {
	v, err := s.GetConfig(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: config %q has invalid value %q", types.ErrInvalidInput, key, v)
	}
	return n, nil
}

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
