package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Kind: KindTurnStart})
	b.Emit(SourceAgent, KindTurnStart, nil)
	if b.SubscriberCount() != 0 {
		t.Error("nil bus reports subscribers")
	}
}

func TestEmit_DeliversToAll(t *testing.T) {
	b := New()
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	a, c := b.Subscribe(4), b.Subscribe(4)
	defer b.Unsubscribe(a)
	defer b.Unsubscribe(c)

	b.Emit(SourceAgent, KindTopicClassified, map[string]any{"topic": "music"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Kind != KindTopicClassified || e.Data["topic"] != "music" || !e.Timestamp.Equal(fixed) {
				t.Errorf("event = %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestPublish_DropsForSlowSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: KindTurnComplete, Data: map[string]any{"n": i}})
	}
	e := <-ch
	if e.Data["n"] != 0 {
		t.Errorf("first event n = %v, want 0", e.Data["n"])
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected buffered event %+v", extra)
	default:
	}
}

func TestUnsubscribe_ClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d", b.SubscriberCount())
	}
}

func TestPublish_ConcurrentWithSubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Emit(SourceAgent, KindTurnStart, nil)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				b.Unsubscribe(b.Subscribe(2))
			}
		}()
	}
	wg.Wait()
}
