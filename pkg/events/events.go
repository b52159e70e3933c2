// Package events is the small in-process event bus shared by the OAuth manager
// and the client facade.
package events

import (
	"slices"
	"sync"
	"time"
)

// EventType names a lifecycle event.
type EventType string

const (
	// AuthStarted is emitted before the authorization UX is opened.
	AuthStarted EventType = "auth:started"
	// AuthComplete is emitted after a token was exchanged and persisted.
	AuthComplete EventType = "auth:complete"
	// AuthError is emitted when an authorization attempt fails.
	AuthError EventType = "auth:error"
	// AuthDisconnect is emitted when a provider's token was cleared.
	AuthDisconnect EventType = "auth:disconnect"
	// AuthLogout is emitted after every provider was disconnected.
	AuthLogout EventType = "auth:logout"

	ClientConnected    EventType = "client:connected"
	ClientDisconnected EventType = "client:disconnected"
	ReauthRequired     EventType = "reauth:required"
	ReauthSucceeded    EventType = "reauth:succeeded"
	ReauthFailed       EventType = "reauth:failed"
)

// Event is a single notification delivered to subscribers.
type Event struct {
	Type      EventType
	Provider  string
	Err       error
	ExpiresAt time.Time
	Timestamp time.Time
	Data      map[string]any
}

// Handler receives events. Handlers run synchronously on the publishing
// goroutine and must not block.
type Handler func(Event)

// Bus fans events out to subscribers in the order they subscribed.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id      int
	filter  EventType
	handler Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers handler for all events and returns an unsubscribe func.
func (b *Bus) Subscribe(handler Handler) func() {
	return b.On("", handler)
}

// On registers handler for a single event type ("" means all).
func (b *Bus) On(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, filter: eventType, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every matching subscriber. A nil bus is a no-op.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter == "" || s.filter == ev.Type {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
