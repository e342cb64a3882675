// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces rapid editor write bursts into one reload.
const reloadDebounce = 300 * time.Millisecond

// Watcher reloads the config file on change and hands each valid new
// config to the registered callback. Invalid edits are logged and
// skipped; the last good config stays in effect.
type Watcher struct {
	path     string
	onReload func(*Config)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	pending time.Time
}

// NewWatcher watches path and calls onReload with each config that
// parses and validates after a change.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     path,
		onReload: onReload,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
	}

	// Watch the directory, not the file: editors replace files by
	// rename, which drops a direct file watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		cancel()
		return nil, err
	}

	go w.processEvents()
	go w.processPending()
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watch error: %v", err)
		}
	}
}

func (w *Watcher) processPending() {
	ticker := time.NewTicker(reloadDebounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= reloadDebounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if !due {
				continue
			}

			cfg, err := LoadPath(w.path)
			if err != nil {
				log.Printf("config reload skipped: %v", err)
				continue
			}
			w.onReload(cfg)
		}
	}
}
