// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher feeds externally-made workspace edits into the notifier, so
// out-of-band changes (editors, git, build tools) reach the indexing
// collaborator without a patch request.
//
// # Description
//
// Watches every workspace directory under the base directory.
// Directories created later are added as their create events arrive.
// Temp files from atomic writes (".tmp-" prefix) are ignored.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type Watcher struct {
	baseDir  string
	notifier *Notifier
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	done     chan struct{}
}

// NewWatcher creates and starts a workspace watcher.
func NewWatcher(baseDir string, notifier *Notifier, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		baseDir:  baseDir,
		notifier: notifier,
		watcher:  fsw,
		logger:   logger,
		done:     make(chan struct{}),
	}

	if err := w.addRecursive(baseDir); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.watchLoop()
	return w, nil
}

// Close stops the watch loop.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

// addRecursive watches dir and every subdirectory.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// watchLoop handles fsnotify events until the watcher closes.
func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// handleEvent converts one fsnotify event into an index notification.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".tmp-") || strings.HasPrefix(name, ".") {
		return
	}

	var op Op
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreated
		// New directories join the watch set.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory",
					"path", event.Name, "error", err)
			}
			return
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModified
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		op = OpDeleted
	default:
		return
	}

	workspace, rel, ok := w.split(event.Name)
	if !ok {
		return
	}
	w.notifier.Notify(Event{Workspace: workspace, Path: rel, Op: op})
}

// split derives (workspace, relative path) from an absolute event path.
func (w *Watcher) split(path string) (string, string, bool) {
	rel, err := filepath.Rel(w.baseDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	if len(parts) < 2 {
		// Event on the workspace directory itself.
		return "", "", false
	}
	return parts[0], parts[1], true
}
