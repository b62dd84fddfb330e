package registry

import (
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// EventType identifies a directory change.
type EventType string

const (
	EventRegistered   EventType = "agent_registered"
	EventUnregistered EventType = "agent_unregistered"
	EventWentOffline  EventType = "agent_offline"
	EventCameOnline   EventType = "agent_online"
)

// Event describes a directory change. Agent is a snapshot taken at the
// time of the change.
type Event struct {
	Type      EventType
	AgentID   string
	Agent     *models.Agent
	Timestamp time.Time
}

// Observer receives directory events. Callbacks run synchronously on the
// goroutine that caused the change, after the directory lock is released,
// so observers may call back into the Registry.
type Observer interface {
	OnAgentEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnAgentEvent calls f(ev).
func (f ObserverFunc) OnAgentEvent(ev Event) { f(ev) }

// Subscribe adds an observer.
func (r *Registry) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) notify(ev Event) {
	r.obsMu.RLock()
	observers := append([]Observer(nil), r.observers...)
	r.obsMu.RUnlock()

	for _, o := range observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("agent observer panicked",
						zap.String("event", string(ev.Type)),
						zap.Any("panic", rec))
				}
			}()
			o.OnAgentEvent(ev)
		}()
	}
}
