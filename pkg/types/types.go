package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ShellType selects the shell program a handler command runs under
type ShellType string

const (
	ShellPwsh ShellType = "pwsh"
	ShellBash ShellType = "bash"
	ShellSh   ShellType = "sh"
)

// ParseShell parses a shell name. "powershell" is accepted as an alias
// for pwsh.
func ParseShell(s string) (ShellType, error) {
	switch strings.ToLower(s) {
	case "pwsh", "powershell":
		return ShellPwsh, nil
	case "bash":
		return ShellBash, nil
	case "sh":
		return ShellSh, nil
	default:
		return "", fmt.Errorf("%w: invalid shell %q (use pwsh, bash, or sh)", ErrInvalidInput, s)
	}
}

// CommandArgs returns the shell binary and argument vector that runs the
// given command string under this shell.
func (s ShellType) CommandArgs(command string) (string, []string) {
	switch s {
	case ShellPwsh:
		return "pwsh", []string{"-Command", command}
	case ShellBash:
		return "bash", []string{"-c", command}
	default:
		return "sh", []string{"-c", command}
	}
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ParseJobStatus parses a job status name
func ParseJobStatus(s string) (JobStatus, error) {
	switch strings.ToLower(s) {
	case "pending":
		return JobStatusPending, nil
	case "running":
		return JobStatusRunning, nil
	case "completed":
		return JobStatusCompleted, nil
	case "failed":
		return JobStatusFailed, nil
	case "cancelled":
		return JobStatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: invalid job status %q", ErrInvalidInput, s)
	}
}

// Active reports whether the status counts toward the per-event-type
// exclusion check (pending or running).
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Terminal reports whether the status is final and must not be overwritten
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Event is a single occurrence routed to a handler by its event type.
// Events are not persisted on their own; they travel through the queue and
// are embedded into the job that records their execution.
type Event struct {
	ID        uuid.UUID `json:"id"`
	EventType string    `json:"event_type"`
	Context   string    `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh id and the current UTC time
func NewEvent(eventType, context string) *Event {
	return &Event{
		ID:        uuid.New(),
		EventType: eventType,
		Context:   context,
		Timestamp: time.Now().UTC(),
	}
}

// Handler is the durable spec of a shell command bound to an event type.
// The id is regenerated on every mutation, so a handler id identifies one
// exact revision of the handler.
type Handler struct {
	ID        uuid.UUID         `json:"id"`
	EventType string            `json:"event_type"`
	Shell     ShellType         `json:"shell"`
	Command   string            `json:"command"`
	Timeout   *int              `json:"timeout,omitempty"` // seconds
	Env       map[string]string `json:"env,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TimerRecord is the durable spec of an interval producer for an event type
type TimerRecord struct {
	ID           uuid.UUID `json:"id"`
	EventType    string    `json:"event_type"`
	Context      string    `json:"context"`
	IntervalSecs int       `json:"interval_secs"`
}

// ScheduleRecord is the durable spec of a wall-clock producer. A periodic
// schedule fires daily at the same wall-clock time anchored on
// ScheduledTime; a one-shot schedule fires once at ScheduledTime.
type ScheduleRecord struct {
	ID            uuid.UUID `json:"id"`
	EventType     string    `json:"event_type"`
	Context       string    `json:"context"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Periodic      bool      `json:"periodic"`
}

// Job records one attempted execution of a handler against one event
type Job struct {
	ID         uuid.UUID  `json:"id"`
	Event      Event      `json:"event"`
	HandlerID  uuid.UUID  `json:"handler_id"`
	Status     JobStatus  `json:"status"`
	Output     *string    `json:"output,omitempty"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewJob creates a pending job for the event, pinned to the handler
// revision that was current at dispatch time.
func NewJob(event Event, handlerID uuid.UUID) *Job {
	return &Job{
		ID:        uuid.New(),
		Event:     event,
		HandlerID: handlerID,
		Status:    JobStatusPending,
	}
}

// WarningKind classifies an operator warning
type WarningKind string

const (
	// WarningMissingHandler flags a timer or schedule whose event type has
	// no registered handler.
	WarningMissingHandler WarningKind = "missing_handler"
)

// Warning is an in-memory operator notice surfaced by /health
type Warning struct {
	Kind      WarningKind `json:"kind"`
	EventType string      `json:"event_type"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
}

// ExecutionResult is the outcome of one shell invocation
type ExecutionResult struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
}
