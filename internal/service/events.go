package service

import (
	"sync"

	"gearboxd/internal/gearbox"
)

// EventType defines the type of event
type EventType string

const (
	EventModuleReady          EventType = gearbox.EventModuleReady
	EventModuleIgnored        EventType = gearbox.EventModuleIgnored
	EventTransactionCommitted EventType = "transaction_committed"
	EventTransactionAborted   EventType = "transaction_aborted"
	EventReconciled           EventType = "reconciled"
)

// Event represents an event that occurred in the system
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// EventBus allows publishing and subscribing to events
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

// EngineNotifier adapts the bus to the engine's notification hook
func (eb *EventBus) EngineNotifier() func(gearbox.Event) {
	return func(e gearbox.Event) {
		eb.Publish(Event{Type: EventType(e.Type), Payload: e.Payload})
	}
}
