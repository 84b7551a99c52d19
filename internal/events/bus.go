// Package events provides a non-blocking in-process pub/sub bus for
// governor events. Notification adapters subscribe to it; services publish
// through the wire-provided notifier.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventApprovalRequested is published when the gate records a new
	// pending approval.
	EventApprovalRequested EventType = "approval_requested"
	// EventApprovalResolved is published when a resolution wins the
	// compare-and-swap on a request.
	EventApprovalResolved EventType = "approval_resolved"
	// EventSafetyAlert is published for budget warnings and emergency
	// stop notifications.
	EventSafetyAlert EventType = "safety_alert"
	// EventEmergencyStop is published when a project transitions to HALTED.
	EventEmergencyStop EventType = "emergency_stop"
	// EventRecovery is published on recovery session transitions.
	EventRecovery EventType = "recovery"
)

// Event represents one governor event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	ProjectID string
	EntityID  string
	Message   string
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus. Events are delivered asynchronously via
// buffered channels; if a subscriber's channel is full the event is dropped
// rather than blocking the publisher. The ledgers, not the bus, are the
// audit trail.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for a specific event type.
// The subscriber function is called asynchronously in a goroutine.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					// A panicking subscriber must not take the bus down.
					_ = recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, c := range subs {
			if c == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// Publish delivers an event to all subscribers of its type. Never blocks:
// full subscriber channels drop the event.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
}
