package events

import (
	"sync"
	"time"
)

// EventType names a push channel delivered to operator consoles.
type EventType string

const (
	EventBotStatus         EventType = "bot_status"
	EventAccountUpdate     EventType = "account_update"
	EventTradesUpdate      EventType = "trades_update"
	EventPositionUpdate    EventType = "position_update"
	EventScreenerUpdate    EventType = "screener_update"
	EventMultipliersUpdate EventType = "multipliers_update"
	EventConsoleLog        EventType = "console_log"
	EventError             EventType = "error"
	EventSuccess           EventType = "success"
)

// Event is a single push payload.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus fans events out from the engine to the API layer without the engine
// importing it. Delivery is synchronous per subscriber in registration order
// so console replays stay ordered.
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventType][]Subscriber
	allSubs []Subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for a specific event type.
func (b *Bus) Subscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], sub)
}

// SubscribeAll registers a subscriber for every event type.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish delivers an event to the matching subscribers.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.subs[event.Type]
	all := b.allSubs
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
	for _, sub := range all {
		sub(event)
	}
}

// Emit is shorthand for publishing a typed payload.
func (b *Bus) Emit(eventType EventType, data interface{}) {
	b.Publish(Event{Type: eventType, Data: data})
}

// EmitError pushes an operator-visible error message.
func (b *Bus) EmitError(source, message string) {
	b.Emit(EventError, map[string]string{"source": source, "message": message})
}

// EmitSuccess pushes an operator-visible confirmation.
func (b *Bus) EmitSuccess(message string) {
	b.Emit(EventSuccess, map[string]string{"message": message})
}
