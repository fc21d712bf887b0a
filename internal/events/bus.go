// Package events broadcasts turn lifecycle events to live observers such
// as the /v1/events WebSocket. Publishing never blocks: a subscriber that
// falls behind loses events. A nil *Bus accepts and drops everything.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent   = "agent"
	SourcePrompts = "prompts"
)

// Kinds published by the agent. Data keys are listed per kind.
const (
	// request_id, conversation_id, language, text
	KindTurnStart = "turn_start"
	// request_id, topic | error, error_kind
	KindTopicClassified = "topic_classified"
	// request_id, action | error, error_kind
	KindActionResolved = "action_resolved"
	// request_id, action, ok, error
	KindDeviceCall = "device_call"
	// request_id, outcome, reply, elapsed_ms
	KindTurnComplete = "turn_complete"
	// path, ok, error
	KindPromptsReloaded = "prompts_reloaded"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]*subscriber
	now  func() time.Time
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[<-chan Event]*subscriber),
		now:  time.Now,
	}
}

// Publish delivers e to every subscriber with buffer room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Emit stamps and publishes an event.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: b.now().UTC(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a receiver with a buffer of size buf. Release it
// with Unsubscribe.
func (b *Bus) Subscribe(buf int) <-chan Event {
	s := &subscriber{ch: make(chan Event, buf)}
	b.mu.Lock()
	b.subs[s.ch] = s
	b.mu.Unlock()
	return s.ch
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(s.ch)
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
