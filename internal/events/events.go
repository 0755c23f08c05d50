// Package events is a small in-process pub/sub used to decouple the
// booking commit path from the availability cache and the notifier.
package events

import (
    "sync"
    "time"
)

// Event types published by the booking core.
const (
    BookingCommitted = "booking.committed"
    BookingRejected  = "booking.rejected"
)

// Event carries the facts subscribers need; no payload marshalling.
type Event struct {
    Type      string
    UserID    string
    UserEmail string
    Date      string // YYYY-MM-DD
    Time      string // HH:MM
    Duration  int
    BookingID string
    EventURL  string
    Reason    string // rejection reason code, if any
    At        time.Time
}

// Handler reacts to an event. Handlers run synchronously on the
// publisher's goroutine; a handler that blocks should spawn its own.
type Handler func(event Event)

// Bus provides in-process pub/sub.
type Bus struct {
    subscribers map[string][]Handler
    mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
    return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
    b.mu.Lock()
    defer b.mu.Unlock()
    b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *Bus) Publish(event Event) {
    b.mu.RLock()
    handlers := append([]Handler(nil), b.subscribers[event.Type]...)
    b.mu.RUnlock()

    if event.At.IsZero() {
        event.At = time.Now()
    }

    for _, handler := range handlers {
        handler(event)
    }
}
