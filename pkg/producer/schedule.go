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

// ScheduleManager supervises one loop per registered wall-clock schedule
type ScheduleManager struct {
	store *store.JobStore
	queue *queue.Queue

	mu         sync.Mutex
	registered map[string]uuid.UUID
	triggers   map[string]chan struct{}
}

// NewScheduleManager creates a schedule manager
func NewScheduleManager(s *store.JobStore, q *queue.Queue) *ScheduleManager {
	return &ScheduleManager{
		store:      s,
		queue:      q,
		registered: make(map[string]uuid.UUID),
		triggers:   make(map[string]chan struct{}),
	}
}

// Register starts a loop for the record, with the same idempotence and
// supersession rules as timer registration.
func (m *ScheduleManager) Register(rec *types.ScheduleRecord) {
	logger := log.WithComponent("schedule")

	m.mu.Lock()
	if id, ok := m.registered[rec.EventType]; ok {
		if id == rec.ID {
			m.mu.Unlock()
			logger.Debug().Str("event_type", rec.EventType).Msg("schedule already running, skipping")
			return
		}
		logger.Info().
			Str("event_type", rec.EventType).
			Str("old_id", id.String()).
			Str("new_id", rec.ID.String()).
			Msg("schedule updated, old loop will stop on next cycle")
	}
	m.registered[rec.EventType] = rec.ID
	trigger, ok := m.triggers[rec.EventType]
	if !ok {
		trigger = make(chan struct{}, 1)
		m.triggers[rec.EventType] = trigger
	}
	metrics.SchedulesActive.Set(float64(len(m.registered)))
	m.mu.Unlock()

	mode := "one-shot"
	if rec.Periodic {
		mode = "periodic"
	}
	logger.Info().
		Str("event_type", rec.EventType).
		Str("id", rec.ID.String()).
		Time("scheduled_time", rec.ScheduledTime).
		Str("mode", mode).
		Msg("starting schedule")

	go m.run(*rec, trigger)
}

// Has reports whether a loop is registered for the event type
func (m *ScheduleManager) Has(eventType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.registered[eventType]
	return ok
}

// Trigger wakes the sleeping loop for the event type, refused when a job
// of that type is already active.
func (m *ScheduleManager) Trigger(ctx context.Context, eventType string) bool {
	logger := log.WithComponent("schedule")

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

func (m *ScheduleManager) retire(rec *types.ScheduleRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered[rec.EventType] == rec.ID {
		delete(m.registered, rec.EventType)
		delete(m.triggers, rec.EventType)
	}
	metrics.SchedulesActive.Set(float64(len(m.registered)))
}

func (m *ScheduleManager) run(rec types.ScheduleRecord, trigger chan struct{}) {
	logger := log.WithComponent("schedule")
	ctx := context.Background()

	nextTime := rec.ScheduledTime

	for {
		now := time.Now().UTC()

		// A next_time in the past means missed firings: fire once now. For
		// periodic schedules the anchor catches up by whole days so exactly
		// one event covers everything that was missed.
		fireNow := !nextTime.After(now)
		if rec.Periodic {
			for !nextTime.After(now) {
				nextTime = nextTime.Add(24 * time.Hour)
			}
		}

		if !fireNow {
			wait := time.Until(nextTime)
			logger.Debug().
				Str("event_type", rec.EventType).
				Dur("wait", wait).
				Time("next_time", nextTime).
				Msg("schedule waiting")
			select {
			case <-time.After(wait):
			case <-trigger:
				logger.Info().Str("event_type", rec.EventType).Msg("schedule manually triggered")
			}
		} else {
			logger.Info().Str("event_type", rec.EventType).Msg("schedule time already passed, firing immediately")
		}

		id, ok, err := m.store.Catalog().GetScheduleID(ctx, rec.EventType)
		if err != nil {
			logger.Error().Err(err).Str("event_type", rec.EventType).Msg("schedule id check failed")
			continue
		}
		if !ok || id != rec.ID {
			logger.Info().
				Str("event_type", rec.EventType).
				Str("id", rec.ID.String()).
				Msg("schedule outdated or removed, stopping")
			m.retire(&rec)
			return
		}

		active, err := m.store.HasActiveJob(ctx, rec.EventType)
		if err != nil {
			logger.Error().Err(err).Str("event_type", rec.EventType).Msg("active job check failed")
			continue
		}
		if active {
			logger.Info().Str("event_type", rec.EventType).Msg("skipping firing, job already active")
			if rec.Periodic {
				nextTime = nextTime.Add(24 * time.Hour)
				continue
			}
			// One-shot: the firing is owed. Poll the active job away and
			// re-fire instead of spinning on the passed deadline.
			time.Sleep(completionPoll)
			continue
		}

		event := types.NewEvent(rec.EventType, rec.Context)
		if err := m.queue.Send(event); err != nil {
			logger.Warn().Str("event_type", rec.EventType).Msg("queue closed, stopping schedule")
			m.retire(&rec)
			return
		}
		metrics.EventsProducedTotal.WithLabelValues("schedule").Inc()
		logger.Info().
			Str("event_type", rec.EventType).
			Str("event_id", event.ID.String()).
			Msg("schedule produced event")

		if !rec.Periodic {
			logger.Info().Str("event_type", rec.EventType).Msg("one-shot schedule fired, stopping")
			m.retire(&rec)
			return
		}

		// wait out the job before anchoring the next day
		for {
			time.Sleep(completionPoll)
			active, err := m.store.HasActiveJob(ctx, rec.EventType)
			if err != nil || !active {
				break
			}
		}
		// advance to the next future anchor; a catch-up firing already
		// left next_time in the future
		for !nextTime.After(time.Now().UTC()) {
			nextTime = nextTime.Add(24 * time.Hour)
		}
	}
}
