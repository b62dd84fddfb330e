package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/conductor/internal/metrics"
)

// emitTimeout is how long Emit waits on a full subscriber before dropping.
const emitTimeout = 100 * time.Millisecond

// EventEmitter fans events out to any number of subscribers.
// Each subscriber has its own buffered channel; a slow subscriber loses
// events rather than stalling the coordinator.
type EventEmitter struct {
	mu         sync.RWMutex
	subs       map[int]chan Event
	nextID     int
	bufferSize int
	closed     bool

	droppedCount atomic.Uint64
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewEventEmitter creates an EventEmitter whose subscriber channels hold
// bufferSize events.
func NewEventEmitter(bufferSize int, logger *zap.Logger, m *metrics.Metrics) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventEmitter{
		subs:       make(map[int]chan Event),
		bufferSize: bufferSize,
		logger:     logger,
		metrics:    metrics.OrNew(m),
	}
}

// Subscribe returns a channel of future events and a function that removes
// the subscription. The channel is closed on unsubscribe or Close.
func (e *EventEmitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, e.bufferSize)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if sub, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(sub)
			}
		})
	}
}

// Emit delivers the event to every subscriber.
// If a subscriber is full, it waits briefly before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	for _, ch := range e.subs {
		select {
		case ch <- event:
			continue
		default:
		}

		select {
		case ch <- event:
		case <-time.After(emitTimeout):
			count := e.droppedCount.Add(1)
			e.metrics.EventsDropped.Inc()
			if count%10 == 1 {
				e.logger.Warn("event subscriber full, dropped event",
					zap.Uint64("total_dropped", count),
					zap.String("type", string(event.Type)))
			}
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Close closes every subscriber channel. Later Emit calls are no-ops.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
}
