// Package consumer drains the event queue, binds each event to its
// handler, and records the job lifecycle around the shell execution.
package consumer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/shevd/shev/pkg/log"
	"github.com/shevd/shev/pkg/metrics"
	"github.com/shevd/shev/pkg/queue"
	"github.com/shevd/shev/pkg/store"
	"github.com/shevd/shev/pkg/types"
)

// Executor runs a handler's command against an event context
type Executor interface {
	Execute(ctx context.Context, handler *types.Handler, eventContext string) (*types.ExecutionResult, error)
}

// Control pauses and resumes event processing. A paused consumer keeps
// draining the queue but discards events without creating jobs.
type Control struct {
	running atomic.Bool
}

// NewControl creates a control in the running state
func NewControl() *Control {
	c := &Control{}
	c.running.Store(true)
	return c
}

// Pause stops event processing
func (c *Control) Pause() {
	c.running.Store(false)
}

// Resume restarts event processing
func (c *Control) Resume() {
	c.running.Store(true)
}

// Running reports whether events are being processed
func (c *Control) Running() bool {
	return c.running.Load()
}

// Consumer is the single queue reader
type Consumer struct {
	queue    *queue.Queue
	store    *store.JobStore
	executor Executor
	control  *Control
	doneCh   chan struct{}
}

// New creates a consumer over the queue
func New(q *queue.Queue, s *store.JobStore, exec Executor, control *Control) *Consumer {
	return &Consumer{
		queue:    q,
		store:    s,
		executor: exec,
		control:  control,
		doneCh:   make(chan struct{}),
	}
}

// Start runs the drain loop in a goroutine
func (c *Consumer) Start() {
	go c.run()
}

// Done is closed when the drain loop has exited
func (c *Consumer) Done() <-chan struct{} {
	return c.doneCh
}

func (c *Consumer) run() {
	logger := log.WithComponent("consumer")
	logger.Info().Msg("event consumer started")
	defer close(c.doneCh)

	for {
		var event *types.Event
		select {
		case event = <-c.queue.Events():
		case <-c.queue.Done():
			// drain what is already buffered before stopping
			select {
			case event = <-c.queue.Events():
			default:
				logger.Info().Msg("event consumer stopped")
				return
			}
		}
		metrics.QueueDepth.Set(float64(c.queue.Depth()))

		c.process(event, logger)
	}
}

func (c *Consumer) process(event *types.Event, logger zerolog.Logger) {
	ctx := context.Background()

	if !c.control.Running() {
		logger.Info().Str("event_id", event.ID.String()).Msg("consumer paused, skipping event")
		metrics.EventsDroppedTotal.Inc()
		return
	}

	evLogger := log.WithEventType(event.EventType)
	evLogger.Info().Str("event_id", event.ID.String()).Msg("processing event")

	handler, ok := c.store.GetHandler(event.EventType)
	if !ok {
		evLogger.Warn().Msg("no handler for event type")
		metrics.EventsDroppedTotal.Inc()
		return
	}

	job, err := c.store.CreateJob(ctx, *event, handler.ID)
	if err != nil {
		evLogger.Error().Err(err).Msg("failed to create job")
		return
	}
	jobLogger := log.WithJobID(job.ID.String())
	jobLogger.Info().Msg("created job")

	// a client may have cancelled between create and here
	current, err := c.store.GetJob(ctx, job.ID)
	if err == nil && current.Status == types.JobStatusCancelled {
		jobLogger.Info().Msg("job cancelled before execution")
		return
	}

	if _, err := c.store.MarkRunning(ctx, job.ID); err != nil {
		jobLogger.Info().Err(err).Msg("job not runnable, skipping")
		return
	}

	result, err := c.executor.Execute(ctx, handler, event.Context)
	if err != nil {
		jobLogger.Error().Err(err).Msg("job execution error")
		if markErr := c.store.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			jobLogger.Error().Err(markErr).Msg("failed to record job failure")
		}
		metrics.JobsTotal.WithLabelValues(string(types.JobStatusFailed)).Inc()
		return
	}

	if result.Success {
		jobLogger.Info().Msg("job completed successfully")
		if err := c.store.MarkCompleted(ctx, job.ID, result.Stdout); err != nil {
			jobLogger.Error().Err(err).Msg("failed to record job completion")
		}
		metrics.JobsTotal.WithLabelValues(string(types.JobStatusCompleted)).Inc()
		return
	}

	errMsg := result.Stderr
	if errMsg == "" {
		errMsg = fmt.Sprintf("Exit code: %d", result.ExitCode)
	}
	jobLogger.Error().Str("error", errMsg).Msg("job failed")
	if err := c.store.MarkFailed(ctx, job.ID, errMsg); err != nil {
		jobLogger.Error().Err(err).Msg("failed to record job failure")
	}
	metrics.JobsTotal.WithLabelValues(string(types.JobStatusFailed)).Inc()
}
