package producer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shevd/shev/pkg/log"
	"github.com/shevd/shev/pkg/metrics"
	"github.com/shevd/shev/pkg/queue"
	"github.com/shevd/shev/pkg/store"
	"github.com/shevd/shev/pkg/types"
)

// completionPoll is the step used to wait for an active job to clear
// before the next interval sleep begins.
const completionPoll = 100 * time.Millisecond

// TimerManager supervises one loop per registered interval timer
type TimerManager struct {
	store *store.JobStore
	queue *queue.Queue

	mu         sync.Mutex
	registered map[string]uuid.UUID
	triggers   map[string]chan struct{}
}

// NewTimerManager creates a timer manager
func NewTimerManager(s *store.JobStore, q *queue.Queue) *TimerManager {
	return &TimerManager{
		store:      s,
		queue:      q,
		registered: make(map[string]uuid.UUID),
		triggers:   make(map[string]chan struct{}),
	}
}

// Register starts a loop for the record. Registering the same id twice is
// a no-op; a new id supersedes the old loop, which retires on its next
// wake when the catalog id no longer matches.
func (m *TimerManager) Register(rec *types.TimerRecord) {
	logger := log.WithComponent("timer")

	m.mu.Lock()
	if id, ok := m.registered[rec.EventType]; ok {
		if id == rec.ID {
			m.mu.Unlock()
			logger.Debug().Str("event_type", rec.EventType).Msg("timer already running, skipping")
			return
		}
		logger.Info().
			Str("event_type", rec.EventType).
			Str("old_id", id.String()).
			Str("new_id", rec.ID.String()).
			Msg("timer updated, old loop will stop on next cycle")
	}
	m.registered[rec.EventType] = rec.ID
	trigger, ok := m.triggers[rec.EventType]
	if !ok {
		trigger = make(chan struct{}, 1)
		m.triggers[rec.EventType] = trigger
	}
	metrics.TimersActive.Set(float64(len(m.registered)))
	m.mu.Unlock()

	logger.Info().
		Str("event_type", rec.EventType).
		Str("id", rec.ID.String()).
		Int("interval_secs", rec.IntervalSecs).
		Msg("starting timer")

	go m.run(*rec, trigger)
}

// Has reports whether a loop is registered for the event type
func (m *TimerManager) Has(eventType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.registered[eventType]
	return ok
}

// Trigger wakes the sleeping loop for the event type. It is refused when
// no loop exists or a job of that type is already active.
func (m *TimerManager) Trigger(ctx context.Context, eventType string) bool {
	logger := log.WithComponent("timer")

	active, err := m.store.HasActiveJob(ctx, eventType)
	if err != nil {
		logger.Error().Err(err).Str("event_type", eventType).Msg("active job check failed")
		return false
	}
	if active {
		logger.Info().Str("event_type", eventType).Msg("manual trigger ignored, job already active")
		return false
	}

	m.mu.Lock()
	trigger, ok := m.triggers[eventType]
	m.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case trigger <- struct{}{}:
	default:
	}
	logger.Info().Str("event_type", eventType).Msg("manual trigger accepted")
	return true
}

func (m *TimerManager) retire(rec *types.TimerRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered[rec.EventType] == rec.ID {
		delete(m.registered, rec.EventType)
		delete(m.triggers, rec.EventType)
	}
	metrics.TimersActive.Set(float64(len(m.registered)))
}

func (m *TimerManager) run(rec types.TimerRecord, trigger chan struct{}) {
	logger := log.WithComponent("timer")
	ctx := context.Background()
	interval := time.Duration(rec.IntervalSecs) * time.Second

	for {
		select {
		case <-time.After(interval):
		case <-trigger:
			logger.Info().Str("event_type", rec.EventType).Msg("timer manually triggered")
		}

		id, ok, err := m.store.Catalog().GetTimerID(ctx, rec.EventType)
		if err != nil {
			logger.Error().Err(err).Str("event_type", rec.EventType).Msg("timer id check failed")
			continue
		}
		if !ok || id != rec.ID {
			logger.Info().
				Str("event_type", rec.EventType).
				Str("id", rec.ID.String()).
				Msg("timer outdated, stopping")
			m.retire(&rec)
			return
		}

		active, err := m.store.HasActiveJob(ctx, rec.EventType)
		if err != nil {
			logger.Error().Err(err).Str("event_type", rec.EventType).Msg("active job check failed")
			continue
		}
		if active {
			logger.Info().Str("event_type", rec.EventType).Msg("skipping tick, job already active")
			continue
		}

		event := types.NewEvent(rec.EventType, rec.Context)
		if err := m.queue.Send(event); err != nil {
			logger.Warn().Str("event_type", rec.EventType).Msg("queue closed, stopping timer")
			m.retire(&rec)
			return
		}
		metrics.EventsProducedTotal.WithLabelValues("timer").Inc()
		logger.Debug().
			Str("event_type", rec.EventType).
			Str("event_id", event.ID.String()).
			Msg("timer produced event")

		// serialize the next interval with job completion
		m.waitForCompletion(ctx, rec.EventType)
	}
}

func (m *TimerManager) waitForCompletion(ctx context.Context, eventType string) {
	for {
		time.Sleep(completionPoll)
		active, err := m.store.HasActiveJob(ctx, eventType)
		if err != nil || !active {
			return
		}
	}
}
