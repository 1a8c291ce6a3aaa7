// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides transcript persistence.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// TRANSCRIPT WATCHER
// =============================================================================

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reports changes to the transcript directory, including files
// written by other processes.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func()

	errMu   sync.Mutex
	onError func(error)

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Watch starts watching the transcript directory, creating it if absent.
// onChange runs on the watcher goroutine once per burst of changes to
// transcript files. The watcher stops when ctx is cancelled or Close is
// called.
func (s *Store) Watch(ctx context.Context, debounce time.Duration, onChange func()) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(s.Dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", s.Dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		store:    s,
		watcher:  fsw,
		debounce: debounce,
		onChange: onChange,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go w.processEvents(ctx)

	return w, nil
}

// OnError sets a handler for watcher errors. Errors are dropped when unset.
func (w *Watcher) OnError(fn func(error)) {
	w.errMu.Lock()
	w.onError = fn
	w.errMu.Unlock()
}

// processEvents coalesces events and fires onChange after the debounce
// window has been quiet.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	defer w.watcher.Close()

	// Reset discards stale expirations since Go 1.23.
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.store.matches(filepath.Base(event.Name)) {
				// temp files from atomic writes
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			if w.onChange != nil {
				w.onChange()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.errMu.Lock()
			onError := w.onError
			w.errMu.Unlock()
			if onError != nil {
				onError(err)
			}
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	w.once.Do(w.cancel)
	<-w.done
	return nil
}
