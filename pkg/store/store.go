// Package store provides the in-memory mirror of the catalog plus job
// lifecycle transitions. Reads on the hot path (consumer handler lookup,
// producer checks) hit the maps; every mutation writes through to the
// catalog first and updates the mirror only on success.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shevd/shev/pkg/storage"
	"github.com/shevd/shev/pkg/types"
)

// JobStore owns the mirror maps, the warnings list, and the catalog handle
type JobStore struct {
	catalog *storage.Store

	mu        sync.RWMutex
	handlers  map[string]*types.Handler
	timers    map[string]*types.TimerRecord
	schedules map[string]*types.ScheduleRecord
	warnings  []types.Warning
}

// New creates a store over an initialized catalog
func New(catalog *storage.Store) *JobStore {
	return &JobStore{
		catalog:   catalog,
		handlers:  make(map[string]*types.Handler),
		timers:    make(map[string]*types.TimerRecord),
		schedules: make(map[string]*types.ScheduleRecord),
	}
}

// Catalog exposes the underlying persistent store
func (s *JobStore) Catalog() *storage.Store {
	return s.catalog
}

// LoadAll reloads the three mirrors from the catalog. Returns the loaded
// handler, timer, and schedule counts.
func (s *JobStore) LoadAll(ctx context.Context) (int, int, int, error) {
	handlers, err := s.catalog.GetAllHandlers(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	timers, err := s.catalog.GetAllTimers(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	schedules, err := s.catalog.GetAllSchedules(ctx)
	if err != nil {
		return 0, 0, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = make(map[string]*types.Handler, len(handlers))
	for _, h := range handlers {
		s.handlers[h.EventType] = h
	}
	s.timers = make(map[string]*types.TimerRecord, len(timers))
	for _, t := range timers {
		s.timers[t.EventType] = t
	}
	s.schedules = make(map[string]*types.ScheduleRecord, len(schedules))
	for _, sc := range schedules {
		s.schedules[sc.EventType] = sc
	}
	return len(handlers), len(timers), len(schedules), nil
}

// GetHandler returns the mirrored handler for the event type
func (s *JobStore) GetHandler(eventType string) (*types.Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[eventType]
	return h, ok
}

// Handlers lists the mirrored handlers sorted by event type
func (s *JobStore) Handlers() []*types.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

// HandlerUpdate carries the fields of a partial handler update. Nil fields
// retain the stored values; ClearTimeout removes the timeout.
type HandlerUpdate struct {
	Shell        *types.ShellType
	Command      *string
	Timeout      *int
	ClearTimeout bool
	Env          map[string]string
}

// CreateHandler upserts a handler and mirrors it
func (s *JobStore) CreateHandler(ctx context.Context, eventType string, shell types.ShellType, command string, timeout *int, env map[string]string) (*types.Handler, error) {
	h, err := s.catalog.UpsertHandler(ctx, eventType, shell, command, timeout, env)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.handlers[eventType] = h
	s.mu.Unlock()
	return h, nil
}

// UpdateHandler merges the update into the existing handler and writes it
// through. Returns ErrNotFound when no handler exists for the event type.
func (s *JobStore) UpdateHandler(ctx context.Context, eventType string, upd HandlerUpdate) (*types.Handler, error) {
	s.mu.RLock()
	existing, ok := s.handlers[eventType]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("handler %q: %w", eventType, types.ErrNotFound)
	}

	shell := existing.Shell
	if upd.Shell != nil {
		shell = *upd.Shell
	}
	command := existing.Command
	if upd.Command != nil {
		command = *upd.Command
	}
	timeout := existing.Timeout
	if upd.ClearTimeout {
		timeout = nil
	} else if upd.Timeout != nil {
		timeout = upd.Timeout
	}
	env := existing.Env
	if upd.Env != nil {
		env = upd.Env
	}

	return s.CreateHandler(ctx, eventType, shell, command, timeout, env)
}

// DeleteHandler removes the handler. A timer or schedule still referencing
// the event type produces a missing_handler warning.
func (s *JobStore) DeleteHandler(ctx context.Context, eventType string) (bool, error) {
	removed, err := s.catalog.DeleteHandler(ctx, eventType)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}

	s.mu.Lock()
	delete(s.handlers, eventType)
	_, hasTimer := s.timers[eventType]
	_, hasSchedule := s.schedules[eventType]
	s.mu.Unlock()

	if hasTimer || hasSchedule {
		s.AddWarning(types.WarningMissingHandler, eventType,
			fmt.Sprintf("timer or schedule references event type %q which has no handler", eventType))
	}
	return true, nil
}

// GetTimer returns the mirrored timer for the event type
func (s *JobStore) GetTimer(eventType string) (*types.TimerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timers[eventType]
	return t, ok
}

// Timers lists the mirrored timers sorted by event type
func (s *JobStore) Timers() []*types.TimerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.TimerRecord, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

// CreateTimer upserts a timer and mirrors it. A missing handler for the
// event type produces a warning so operators notice the dangling producer.
func (s *JobStore) CreateTimer(ctx context.Context, eventType, eventContext string, intervalSecs int) (*types.TimerRecord, error) {
	if intervalSecs <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", types.ErrInvalidInput)
	}
	t, err := s.catalog.UpsertTimer(ctx, eventType, eventContext, intervalSecs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.timers[eventType] = t
	_, hasHandler := s.handlers[eventType]
	s.mu.Unlock()

	if !hasHandler {
		s.AddWarning(types.WarningMissingHandler, eventType,
			fmt.Sprintf("timer references event type %q which has no handler", eventType))
	}
	return t, nil
}

// TimerUpdate carries the fields of a partial timer update
type TimerUpdate struct {
	Context      *string
	IntervalSecs *int
}

// UpdateTimer merges the update into the existing timer and writes it through
func (s *JobStore) UpdateTimer(ctx context.Context, eventType string, upd TimerUpdate) (*types.TimerRecord, error) {
	s.mu.RLock()
	existing, ok := s.timers[eventType]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("timer %q: %w", eventType, types.ErrNotFound)
	}

	eventContext := existing.Context
	if upd.Context != nil {
		eventContext = *upd.Context
	}
	interval := existing.IntervalSecs
	if upd.IntervalSecs != nil {
		interval = *upd.IntervalSecs
	}
	return s.CreateTimer(ctx, eventType, eventContext, interval)
}

// DeleteTimer removes the timer; the live loop retires on its next wake
func (s *JobStore) DeleteTimer(ctx context.Context, eventType string) (bool, error) {
	removed, err := s.catalog.DeleteTimer(ctx, eventType)
	if err != nil {
		return false, err
	}
	if removed {
		s.mu.Lock()
		delete(s.timers, eventType)
		s.mu.Unlock()
	}
	return removed, nil
}

// GetSchedule returns the mirrored schedule for the event type
func (s *JobStore) GetSchedule(eventType string) (*types.ScheduleRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[eventType]
	return sc, ok
}

// Schedules lists the mirrored schedules sorted by event type
func (s *JobStore) Schedules() []*types.ScheduleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.ScheduleRecord, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

// CreateSchedule upserts a schedule and mirrors it
func (s *JobStore) CreateSchedule(ctx context.Context, eventType, eventContext string, scheduledTime time.Time, periodic bool) (*types.ScheduleRecord, error) {
	sc, err := s.catalog.UpsertSchedule(ctx, eventType, eventContext, scheduledTime, periodic)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.schedules[eventType] = sc
	_, hasHandler := s.handlers[eventType]
	s.mu.Unlock()

	if !hasHandler {
		s.AddWarning(types.WarningMissingHandler, eventType,
			fmt.Sprintf("schedule references event type %q which has no handler", eventType))
	}
	return sc, nil
}

// ScheduleUpdate carries the fields of a partial schedule update
type ScheduleUpdate struct {
	Context       *string
	ScheduledTime *time.Time
	Periodic      *bool
}

// UpdateSchedule merges the update into the existing schedule and writes it through
func (s *JobStore) UpdateSchedule(ctx context.Context, eventType string, upd ScheduleUpdate) (*types.ScheduleRecord, error) {
	s.mu.RLock()
	existing, ok := s.schedules[eventType]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("schedule %q: %w", eventType, types.ErrNotFound)
	}

	eventContext := existing.Context
	if upd.Context != nil {
		eventContext = *upd.Context
	}
	at := existing.ScheduledTime
	if upd.ScheduledTime != nil {
		at = *upd.ScheduledTime
	}
	periodic := existing.Periodic
	if upd.Periodic != nil {
		periodic = *upd.Periodic
	}
	return s.CreateSchedule(ctx, eventType, eventContext, at, periodic)
}

// DeleteSchedule removes the schedule; the live loop retires on its next wake
func (s *JobStore) DeleteSchedule(ctx context.Context, eventType string) (bool, error) {
	removed, err := s.catalog.DeleteSchedule(ctx, eventType)
	if err != nil {
		return false, err
	}
	if removed {
		s.mu.Lock()
		delete(s.schedules, eventType)
		s.mu.Unlock()
	}
	return removed, nil
}

// CreateJob persists a new pending job for the event
func (s *JobStore) CreateJob(ctx context.Context, event types.Event, handlerID uuid.UUID) (*types.Job, error) {
	job := types.NewJob(event, handlerID)
	if err := s.catalog.InsertJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob fetches a job by id
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	return s.catalog.GetJob(ctx, id)
}

// Jobs lists jobs, optionally filtered by status
func (s *JobStore) Jobs(ctx context.Context, status *types.JobStatus, limit int) ([]*types.Job, error) {
	return s.catalog.GetAllJobs(ctx, status, limit)
}

// MarkRunning transitions a pending job to running. Any other current
// status (a cancel that won the race included) returns ErrConflict.
func (s *JobStore) MarkRunning(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	job, err := s.catalog.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != types.JobStatusPending {
		return nil, fmt.Errorf("job %s is %s: %w", id, job.Status, types.ErrConflict)
	}
	now := time.Now().UTC()
	job.Status = types.JobStatusRunning
	job.StartedAt = &now
	if err := s.catalog.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// MarkCompleted records a successful run. A job already in a terminal
// state (cancelled mid-run) is left untouched.
func (s *JobStore) MarkCompleted(ctx context.Context, id uuid.UUID, output string) error {
	job, err := s.catalog.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	job.Status = types.JobStatusCompleted
	job.Output = &output
	job.FinishedAt = &now
	return s.catalog.UpdateJob(ctx, job)
}

// MarkFailed records a failed run. A job already in a terminal state is
// left untouched.
func (s *JobStore) MarkFailed(ctx context.Context, id uuid.UUID, msg string) error {
	job, err := s.catalog.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	job.Status = types.JobStatusFailed
	job.Error = &msg
	job.FinishedAt = &now
	return s.catalog.UpdateJob(ctx, job)
}

// CancelJob cancels a pending or running job. Terminal jobs return
// ErrConflict. The running process, if any, is not killed; its final
// status write is suppressed by the terminal-state check above.
func (s *JobStore) CancelJob(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	job, err := s.catalog.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.Active() {
		return nil, fmt.Errorf("job %s is %s: %w", id, job.Status, types.ErrConflict)
	}
	now := time.Now().UTC()
	job.Status = types.JobStatusCancelled
	job.FinishedAt = &now
	if err := s.catalog.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// HasActiveJob reports whether any job of the event type is pending or running
func (s *JobStore) HasActiveJob(ctx context.Context, eventType string) (bool, error) {
	return s.catalog.HasActiveJob(ctx, eventType)
}

// AddWarning appends a warning unless one with the same kind and event
// type already exists.
func (s *JobStore) AddWarning(kind types.WarningKind, eventType, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.warnings {
		if w.Kind == kind && w.EventType == eventType {
			return
		}
	}
	s.warnings = append(s.warnings, types.Warning{
		Kind:      kind,
		EventType: eventType,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
}

// Warnings returns the warnings that are still unresolved: a
// missing_handler warning disappears once a handler for its event type
// exists again.
func (s *JobStore) Warnings() []types.Warning {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Warning, 0, len(s.warnings))
	for _, w := range s.warnings {
		if w.Kind == types.WarningMissingHandler {
			if _, ok := s.handlers[w.EventType]; ok {
				continue
			}
		}
		out = append(out, w)
	}
	return out
}
