// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index emits file-change notifications to the content-search
// indexing collaborator. The index itself lives outside this service;
// this package only produces events, never blocks producers, and never
// fails a file operation on notification problems.
package index

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Op is the kind of change an Event describes.
type Op string

const (
	OpCreated  Op = "created"
	OpModified Op = "modified"
	OpDeleted  Op = "deleted"
)

// Event is one file-change notification.
type Event struct {
	Workspace string    `json:"workspace"`
	Path      string    `json:"path"`
	Op        Op        `json:"op"`
	At        time.Time `json:"at"`
}

// Sink consumes change events. Implementations belong to the indexing
// collaborator; the notifier only guarantees ordered, single-goroutine
// delivery per notifier.
type Sink interface {
	Index(ctx context.Context, e Event) error
}

// LogSink is the default sink: it records events to the structured
// log. Useful when no indexer is attached.
type LogSink struct {
	Logger *slog.Logger
}

// Index implements Sink.
func (s *LogSink) Index(_ context.Context, e Event) error {
	s.Logger.Debug("index event",
		"workspace", e.Workspace,
		"path", e.Path,
		"op", string(e.Op))
	return nil
}

// Notifier queues change events and dispatches them to the sink from a
// background goroutine.
//
// # Description
//
// Notify is fire-and-forget: it enqueues and returns immediately. When
// the buffer is full the event is dropped with a warning, trading
// completeness for never stalling a file mutation. The indexing
// collaborator reconciles drops through periodic reindexing.
//
// # Thread Safety
//
// Safe for concurrent use.
type Notifier struct {
	events chan Event
	sink   Sink
	logger *slog.Logger
	stop   chan struct{}
	done   chan struct{}
}

// NewNotifier creates and starts a notifier.
//
// # Inputs
//
//   - sink: Event consumer. A LogSink is used when nil.
//   - buffer: Queue capacity. Defaults to 256 when non-positive.
//   - logger: Structured logger. Defaults to slog.Default() when nil.
func NewNotifier(sink Sink, buffer int, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = &LogSink{Logger: logger}
	}
	if buffer <= 0 {
		buffer = 256
	}
	n := &Notifier{
		events: make(chan Event, buffer),
		sink:   sink,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go n.dispatch()
	return n
}

// Notify enqueues an event without blocking. Events arriving after
// Close are discarded: the event channel is never closed, so an
// in-flight request racing shutdown cannot panic here.
func (n *Notifier) Notify(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case <-n.stop:
		return
	default:
	}
	select {
	case n.events <- e:
	default:
		n.logger.Warn("index notification dropped, queue full",
			"workspace", e.Workspace,
			"path", e.Path)
	}
}

// Close stops the dispatcher after draining queued events. Call once.
func (n *Notifier) Close() {
	close(n.stop)
	<-n.done
}

// dispatch drains the queue until Close, then delivers whatever is
// still buffered before signalling done.
func (n *Notifier) dispatch() {
	defer close(n.done)
	for {
		select {
		case e := <-n.events:
			n.deliver(e)
		case <-n.stop:
			for {
				select {
				case e := <-n.events:
					n.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(e Event) {
	if err := n.sink.Index(context.Background(), e); err != nil {
		n.logger.Warn("index sink rejected event",
			"workspace", e.Workspace,
			"path", e.Path,
			"error", err)
	}
}

// Reindex walks a workspace and emits a synthetic modified event for
// every regular file, letting the indexing collaborator rebuild its
// view after drops or external edits. File stat work runs on a bounded
// worker pool.
func Reindex(ctx context.Context, n *Notifier, workspace, root string) error {
	paths := make(chan string)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(paths)
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() != "." && len(d.Name()) > 0 && d.Name()[0] == '.' && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			select {
			case paths <- path:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	for i := 0; i < runtime.NumCPU(); i++ {
		g.Go(func() error {
			for path := range paths {
				rel, err := filepath.Rel(root, path)
				if err != nil {
					return err
				}
				n.Notify(Event{
					Workspace: workspace,
					Path:      filepath.ToSlash(rel),
					Op:        OpModified,
				})
			}
			return nil
		})
	}
	return g.Wait()
}
