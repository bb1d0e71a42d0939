package events

import (
	"sync"
	"time"
)

// Event types published by the engine.
const (
	TypeSpikeEmitted        = "spike.emitted"
	TypeSpikeWiped          = "spike.wiped"
	TypeActivationFired     = "activation.fired"
	TypeActivationCompleted = "activation.completed"
	TypeActivationFailed    = "activation.failed"
	TypeActivationAborted   = "activation.aborted"
)

// Event is the canonical event payload broadcast to websocket subscribers.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Broadcaster broadcasts events to in-process subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewBroadcaster creates a broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe subscribes to events with a buffered channel.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// SubscriberCount returns the number of open subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Broadcast broadcasts a generic event to all subscribers. Slow subscribers
// lose events instead of blocking the sender.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// BroadcastSpike emits a spike lifecycle event.
func (b *Broadcaster) BroadcastSpike(eventType, spikeID, signal string, age int64, group string) {
	b.Broadcast(Event{
		Type: eventType,
		Payload: map[string]any{
			"spike_id": spikeID,
			"signal":   signal,
			"age":      age,
			"group":    group,
		},
	})
}

// BroadcastActivation emits an activation lifecycle event. detail is
// omitted when empty.
func (b *Broadcaster) BroadcastActivation(eventType, activationID, state, detail string) {
	payload := map[string]any{
		"activation_id": activationID,
		"state":         state,
	}
	if detail != "" {
		payload["detail"] = detail
	}
	b.Broadcast(Event{
		Type:    eventType,
		Payload: payload,
	})
}

// Close closes all subscriber channels. Later subscriptions receive a
// closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
