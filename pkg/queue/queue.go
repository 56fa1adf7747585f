// Package queue provides the bounded FIFO channel between event producers
// and the consumer. Send blocks when the queue is full (synchronous
// backpressure); events are never dropped or reordered.
package queue

import (
	"errors"
	"sync"

	"github.com/shevd/shev/pkg/metrics"
	"github.com/shevd/shev/pkg/types"
)

// ErrClosed is returned by Send after the queue has been closed
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of events with a single consumer
type Queue struct {
	events chan *types.Event
	done   chan struct{}
	once   sync.Once
}

// New creates a queue with the given capacity
func New(capacity int) *Queue {
	return &Queue{
		events: make(chan *types.Event, capacity),
		done:   make(chan struct{}),
	}
}

// Send delivers an event, blocking while the queue is full. Returns
// ErrClosed once the queue has been shut down.
func (q *Queue) Send(event *types.Event) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.events <- event:
		metrics.QueueDepth.Set(float64(len(q.events)))
		return nil
	case <-q.done:
		return ErrClosed
	}
}

// Events is the receive side, read by the single consumer
func (q *Queue) Events() <-chan *types.Event {
	return q.events
}

// Done is closed when the queue shuts down
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Depth returns the number of events currently buffered
func (q *Queue) Depth() int {
	return len(q.events)
}

// Close shuts the queue down. The data channel is left open so racing
// senders never panic; they observe done instead.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
	})
}
