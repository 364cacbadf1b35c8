// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Refresher watches the generation pipeline's snapshot file and reloads
// the index when it is rewritten.
//
// # Description
//
// The pipeline owns the snapshot; this engine only reacts to it. Reloads
// build a fresh index off to the side, then swap it in atomically via
// ReplaceAll, so in-flight questions never observe a half-loaded index.
// Events are debounced because pipelines typically write the file in
// several bursts.
//
// # Thread Safety
//
// Run is meant to be called once, from its own goroutine. The swapped
// index is safe for concurrent readers throughout.
type Refresher struct {
	index        *CodeIndex
	snapshotPath string
	debounce     time.Duration
	logger       *slog.Logger

	// onReload, if set, runs after every successful reload. Used by the
	// service wiring to bump metrics.
	onReload func(symbolCount int)
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRefresherLogger sets the logger.
func WithRefresherLogger(logger *slog.Logger) RefresherOption {
	return func(r *Refresher) { r.logger = logger }
}

// WithRefresherDebounce sets the event debounce window. Default 500ms.
func WithRefresherDebounce(d time.Duration) RefresherOption {
	return func(r *Refresher) { r.debounce = d }
}

// WithReloadCallback sets a hook invoked after each successful reload.
func WithReloadCallback(fn func(symbolCount int)) RefresherOption {
	return func(r *Refresher) { r.onReload = fn }
}

// NewRefresher creates a refresher bound to a live index and a snapshot
// path. It does not start watching; call Run.
func NewRefresher(ix *CodeIndex, snapshotPath string, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		index:        ix,
		snapshotPath: snapshotPath,
		debounce:     500 * time.Millisecond,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run watches the snapshot file until the context is cancelled.
//
// Watch errors are logged and retried on the next event; a reload
// failure keeps the previous index in place (the engine degrades to
// stale data rather than no data).
func (r *Refresher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors and pipelines commonly replace the
	// file via rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(r.snapshotPath)); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(r.debounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}

	r.logger.Info("Index refresher watching snapshot", "path", r.snapshotPath)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.snapshotPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("Snapshot watcher error", "error", err)
		case <-fire:
			r.reload()
		}
	}
}

// reload loads the snapshot and swaps it into the live index.
func (r *Refresher) reload() {
	start := time.Now()
	fresh, err := LoadSnapshot(r.snapshotPath)
	if err != nil {
		r.logger.Error("Index snapshot reload failed, keeping previous index",
			"path", r.snapshotPath, "error", err)
		return
	}
	r.index.ReplaceAll(fresh)
	count := r.index.SymbolCount()
	r.logger.Info("Index snapshot reloaded",
		"symbols", count,
		"duration", time.Since(start))
	if r.onReload != nil {
		r.onReload(count)
	}
}
