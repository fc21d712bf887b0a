package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/paavoai/paavo/internal/events"
)

// Tracker follows the event bus and remembers what the agent did last.
type Tracker struct {
	mu         sync.RWMutex
	lastTopic  string
	lastAction string
	lastTurn   time.Time
	turns      int64
}

// TurnSummary is a snapshot of a Tracker.
type TurnSummary struct {
	LastTopic  string
	LastAction string
	LastTurn   time.Time
	Turns      int64
}

// Follow consumes bus events until ctx ends.
func (t *Tracker) Follow(ctx context.Context, bus *events.Bus) {
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			t.Observe(e)
		}
	}
}

// Observe applies one event.
func (t *Tracker) Observe(e events.Event) {
	if e.Source != events.SourceAgent {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Kind {
	case events.KindTurnStart:
		t.lastTopic, t.lastAction = "", ""
	case events.KindTopicClassified:
		if topic, ok := e.Data["topic"].(string); ok {
			t.lastTopic = topic
		}
	case events.KindActionResolved:
		if action, ok := e.Data["action"].(string); ok {
			t.lastAction = action
		}
	case events.KindTurnComplete:
		t.turns++
		t.lastTurn = e.Timestamp
	}
}

// Summary returns the current values.
func (t *Tracker) Summary() TurnSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TurnSummary{
		LastTopic:  t.lastTopic,
		LastAction: t.lastAction,
		LastTurn:   t.lastTurn,
		Turns:      t.turns,
	}
}
