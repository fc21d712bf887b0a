package connwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastSchedule() Schedule {
	return Schedule{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: time.Second,
	}
}

func quietManager() *Manager {
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWatcher_BecomesReady(t *testing.T) {
	m := quietManager()
	defer m.Stop()

	w := m.Watch(context.Background(), "ollama", func(context.Context) error { return nil }, fastSchedule(), nil)
	waitFor(t, w.IsReady)

	if !m.AllReady() {
		t.Error("AllReady = false")
	}
	st := m.Status()
	if len(st) != 1 || st[0].Name != "ollama" || st[0].LastCheck.IsZero() {
		t.Errorf("status = %+v", st)
	}
}

func TestWatcher_RecoversAndReportsTransitions(t *testing.T) {
	var calls atomic.Int32
	probe := func(context.Context) error {
		if calls.Add(1) <= 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	var mu sync.Mutex
	var flips []bool
	m := quietManager()
	defer m.Stop()
	w := m.Watch(context.Background(), "homeassistant", probe, fastSchedule(), func(ready bool, _ error) {
		mu.Lock()
		flips = append(flips, ready)
		mu.Unlock()
	})

	waitFor(t, w.IsReady)
	mu.Lock()
	defer mu.Unlock()
	if len(flips) != 1 || !flips[0] {
		t.Errorf("flips = %v, want [true]", flips)
	}
	if w.Status().Failures != 0 {
		t.Errorf("failures not reset: %+v", w.Status())
	}
}

func TestWatcher_GoesDown(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	probe := func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("timeout")
	}

	m := quietManager()
	defer m.Stop()
	w := m.Watch(context.Background(), "ollama", probe, fastSchedule(), nil)
	waitFor(t, w.IsReady)

	healthy.Store(false)
	waitFor(t, func() bool { return !w.IsReady() })
	if w.Status().LastError != "timeout" {
		t.Errorf("LastError = %q", w.Status().LastError)
	}
	if m.AllReady() {
		t.Error("AllReady = true while down")
	}
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := quietManager()
	w := m.Watch(ctx, "x", func(context.Context) error { return errors.New("down") }, fastSchedule(), nil)
	cancel()

	done := make(chan struct{})
	go func() { w.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestSchedule_Defaults(t *testing.T) {
	s := Schedule{}.withDefaults()
	if s != DefaultSchedule() {
		t.Errorf("withDefaults = %+v", s)
	}
}
