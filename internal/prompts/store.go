package prompts

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store hands out the current template set and swaps it atomically when
// the prompt file changes.
type Store struct {
	path     string
	current  atomic.Pointer[Set]
	logger   *slog.Logger
	onReload func(path string, err error)
}

// NewStore loads path (if non-empty) over the defaults. An unreadable or
// invalid file is an error so misconfiguration surfaces at startup.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger.With("component", "prompts")}
	if path == "" {
		s.current.Store(Defaults())
		return s, nil
	}
	set, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load prompts %s: %w", path, err)
	}
	s.current.Store(set)
	return s, nil
}

// NewStaticStore wraps a fixed set.
func NewStaticStore(set *Set) *Store {
	s := &Store{logger: slog.Default()}
	s.current.Store(set)
	return s
}

// OnReload registers fn to be called after every watched reload
// attempt. Must be called before Watch.
func (s *Store) OnReload(fn func(path string, err error)) {
	s.onReload = fn
}

// Current returns the active set. Callers must not modify it.
func (s *Store) Current() *Set {
	return s.current.Load()
}

// Reload re-reads the prompt file. On failure the previous set stays
// active.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	set, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.current.Store(set)
	return nil
}

// Watch reloads the prompt file whenever it is written or replaced,
// until ctx is cancelled. The parent directory is watched so editors
// that save via rename are picked up.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", s.path, err)
	}

	go s.watchLoop(ctx, w)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	target := filepath.Clean(s.path)
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce = time.After(200 * time.Millisecond)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("prompt watcher error", "error", err)
		case <-debounce:
			debounce = nil
			err := s.Reload()
			if err != nil {
				s.logger.Error("prompt reload failed, keeping previous templates",
					"path", s.path, "error", err)
			} else {
				s.logger.Info("prompts reloaded", "path", s.path)
			}
			if s.onReload != nil {
				s.onReload(s.path, err)
			}
		}
	}
}
