// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher triggers a rescan when files under the downloads root settle
// after a change, so manual copies and deletes show up in the catalog
// without an explicit bootstrap call.
type Watcher struct {
	root     string
	debounce time.Duration
	onChange func(ctx context.Context)
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
}

// NewWatcher creates a watcher over the downloads root. onChange runs once
// per quiet period, not per event.
func NewWatcher(root string, debounce time.Duration, onChange func(context.Context), logger zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		onChange: onChange,
		logger:   logger.With().Str("component", "catalog.watch").Logger(),
	}
}

// Start begins watching. fsnotify watches are per-directory, so the whole
// tree is registered up front and new directories are added as they appear.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = fsw

	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch downloads root: %w", err)
	}

	w.logger.Info().
		Str("event", "catalog.watcher_started").
		Msg("watching downloads root for changes")

	go w.loop(ctx)
	return nil
}

// Stop closes the watcher (if running).
func (w *Watcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
}

func (w *Watcher) loop(ctx context.Context) {
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Str("event", "catalog.watcher_stopped").Msg("watcher stopped")
			if w.watcher != nil {
				_ = w.watcher.Close()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.ignore(event.Name) {
				continue
			}

			// New subdirectories must be registered before their contents
			// produce events.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(event.Name)
				}
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				// Debounce: reset timer on each event
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(w.debounce, func() {
					w.logger.Debug().
						Str("event", "catalog.rescan_triggered").
						Msg("downloads root changed, rescanning")
					w.onChange(ctx)
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().
				Err(err).
				Str("event", "catalog.watcher_error").
				Msg("watcher error")
		}
	}
}

// ignore filters partial downloads and hidden paths that would otherwise
// cause a rescan per written chunk.
func (w *Watcher) ignore(path string) bool {
	if skipFileName(filepath.Base(path)) {
		return true
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return true
		}
	}
	return false
}
