// Package connwatch probes Paavo's upstream services (Ollama, Home
// Assistant) in the background and tracks whether each is reachable.
// While a service is down it is re-probed with exponential backoff; once
// up it is polled at a steady interval.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ProbeFunc returns nil when the service is reachable.
type ProbeFunc func(ctx context.Context) error

// Schedule controls probe timing.
type Schedule struct {
	InitialDelay time.Duration // first retry after a failure
	MaxDelay     time.Duration // backoff ceiling
	Multiplier   float64
	PollInterval time.Duration // between probes while healthy
	ProbeTimeout time.Duration
}

// DefaultSchedule returns the production timing.
func DefaultSchedule() Schedule {
	return Schedule{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.InitialDelay <= 0 {
		s.InitialDelay = d.InitialDelay
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = d.MaxDelay
	}
	if s.Multiplier < 1 {
		s.Multiplier = d.Multiplier
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = d.ProbeTimeout
	}
	return s
}

// Status is a point-in-time view of one service.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"consecutive_failures"`
}

// Watcher tracks one service.
type Watcher struct {
	name     string
	probe    ProbeFunc
	schedule Schedule
	onChange func(ready bool, err error)
	logger   *slog.Logger

	mu     sync.Mutex
	status Status

	cancel context.CancelFunc
	done   chan struct{}
}

// IsReady reports whether the last probe succeeded.
func (w *Watcher) IsReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status.Ready
}

// Status returns a copy of the current status.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Stop ends probing and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	backoff := w.schedule.InitialDelay
	for {
		err := w.check(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := w.schedule.PollInterval
		if err != nil {
			wait = backoff
			backoff = time.Duration(float64(backoff) * w.schedule.Multiplier)
			if backoff > w.schedule.MaxDelay {
				backoff = w.schedule.MaxDelay
			}
		} else {
			backoff = w.schedule.InitialDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.schedule.ProbeTimeout)
	err := w.probe(probeCtx)
	cancel()

	w.mu.Lock()
	was := w.status.Ready
	w.status.LastCheck = time.Now()
	w.status.Ready = err == nil
	if err != nil {
		w.status.LastError = err.Error()
		w.status.Failures++
	} else {
		w.status.LastError = ""
		w.status.Failures = 0
	}
	first := w.status.Failures == 1 && !was
	w.mu.Unlock()

	switch {
	case err == nil && !was:
		w.logger.Info("service reachable", "service", w.name)
	case err != nil && was:
		w.logger.Warn("service unreachable", "service", w.name, "error", err)
	case err != nil && first:
		w.logger.Warn("service not reachable yet", "service", w.name, "error", err)
	case err != nil:
		w.logger.Debug("service still unreachable", "service", w.name, "error", err)
	}
	if w.onChange != nil && (err == nil) != was {
		w.onChange(err == nil, err)
	}
	return err
}

// Manager owns a set of watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager returns an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger.With("component", "connwatch"),
	}
}

// Watch starts probing a service under name. onChange, if non-nil, is
// called synchronously from the probe loop on every ready/down flip.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc, schedule Schedule, onChange func(ready bool, err error)) *Watcher {
	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		name:     name,
		probe:    probe,
		schedule: schedule.withDefaults(),
		onChange: onChange,
		logger:   m.logger,
		status:   Status{Name: name},
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	if old, ok := m.watchers[name]; ok {
		old.cancel()
	}
	m.watchers[name] = w
	m.mu.Unlock()

	go w.run(watchCtx)
	return w
}

// Get returns the watcher for name, or nil.
func (m *Manager) Get(name string) *Watcher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watchers[name]
}

// Status returns every watcher's status sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllReady reports whether every watched service is reachable.
func (m *Manager) AllReady() bool {
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}

// Stop stops every watcher.
func (m *Manager) Stop() {
	m.mu.Lock()
	ws := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.watchers = make(map[string]*Watcher)
	m.mu.Unlock()

	for _, w := range ws {
		w.Stop()
	}
}
