// Package watcher observes session log directories and reports files that
// have gone idle, meaning a session likely finished and is ready to analyze.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// OnIdleFunc is called once per idle window when a watched session file has
// stopped changing.
type OnIdleFunc func(sessionFile string)

// Watcher tracks write activity per session file. A write resets the file's
// idle timer; when the timer fires the OnIdle callback runs. Only .jsonl
// files are considered session logs.
type Watcher struct {
	dirs       []string
	idleWindow time.Duration
	onIdle     OnIdleFunc
	logger     *zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer

	fs *fsnotify.Watcher
}

func New(dirs []string, idleWindow time.Duration, onIdle OnIdleFunc, logger *zerolog.Logger) (*Watcher, error) {
	if idleWindow <= 0 {
		idleWindow = 2 * time.Minute
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		dirs:       dirs,
		idleWindow: idleWindow,
		onIdle:     onIdle,
		logger:     logger,
		timers:     make(map[string]*time.Timer),
		fs:         fs,
	}, nil
}

// Start watches all configured directories until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	defer w.fs.Close()

	watched := 0
	for _, dir := range w.dirs {
		if err := w.fs.Add(dir); err != nil {
			w.logger.Warn().Str("dir", dir).Err(err).Msg("Cannot watch session directory")
			continue
		}
		watched++
		w.logger.Info().Str("dir", dir).Msg("Watching session directory")
	}
	if watched == 0 {
		return fmt.Errorf("no watchable session directories among %v", w.dirs)
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !IsSessionFile(event.Name) {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
		w.resetTimer(event.Name)
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		w.cancelTimer(event.Name)
	}
}

// resetTimer (re)arms the idle timer for one session file.
func (w *Watcher) resetTimer(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.idleWindow)
		return
	}
	w.timers[path] = time.AfterFunc(w.idleWindow, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		w.logger.Debug().Str("session_file", path).Msg("Session file went idle")
		w.onIdle(path)
	})
}

func (w *Watcher) cancelTimer(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[path]; ok {
		timer.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
}

// IsSessionFile reports whether path names a .jsonl session log. The same
// rule gates the watcher's events and manual enqueues.
func IsSessionFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".jsonl")
}
