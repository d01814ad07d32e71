// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package forge provides the workspace patch-application HTTP service.
//
// The service exposes endpoints for:
//   - Applying unified-diff and SEARCH/REPLACE patches to workspaces
//   - Managing workspace directories and their metadata
//   - Direct file CRUD within a workspace
//   - Workspace file tree listing
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/forge/services/forge/index"
	"github.com/AleutianAI/forge/services/forge/patch"
	"github.com/AleutianAI/forge/services/forge/storage"
	"github.com/AleutianAI/forge/services/forge/telemetry"
	"github.com/AleutianAI/forge/services/forge/workspace"
)

// ServiceConfig configures the forge service.
type ServiceConfig struct {
	// BaseDir holds one directory per workspace.
	BaseDir string

	// Store configures the workspace metadata store.
	Store storage.Config

	// IndexBuffer is the change-notification queue capacity.
	// Default: 256
	IndexBuffer int

	// Watch enables the fsnotify watcher so externally-made edits
	// also reach the indexing collaborator.
	Watch bool

	// Sink receives index events. A logging sink is used when nil.
	Sink index.Sink

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultServiceConfig returns sensible defaults rooted at dataDir.
func DefaultServiceConfig(dataDir string) ServiceConfig {
	return ServiceConfig{
		BaseDir:     dataDir + "/workspaces",
		Store:       storage.DefaultConfig(dataDir + "/meta"),
		IndexBuffer: 256,
		Watch:       true,
	}
}

// Service owns the patch engine and its supporting infrastructure.
//
// Thread Safety:
//
//	Service is safe for concurrent use. Requests against the same
//	workspace are serialized by the workspace's exclusive scope;
//	different workspaces proceed fully concurrently.
type Service struct {
	cfg      ServiceConfig
	logger   *slog.Logger
	store    *storage.MetaStore
	manager  *workspace.Manager
	notifier *index.Notifier
	watcher  *index.Watcher
	metrics  *telemetry.Metrics
}

// NewService creates and starts the forge service.
//
// # Description
//
//	Opens the metadata store, prepares the workspace base directory,
//	starts the index notifier, and (when configured) the filesystem
//	watcher. Callers own the returned service and must Close it.
//
// # Inputs
//
//	cfg - Service configuration.
//
// # Outputs
//
//	*Service - The running service.
//	error - Non-nil if the store or watcher cannot start.
func NewService(cfg ServiceConfig) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	storeCfg := cfg.Store
	if storeCfg.Logger == nil {
		storeCfg.Logger = logger
	}
	store, err := storage.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	manager, err := workspace.NewManager(cfg.BaseDir, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	notifier := index.NewNotifier(cfg.Sink, cfg.IndexBuffer, logger)

	svc := &Service{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		manager:  manager,
		notifier: notifier,
		metrics:  telemetry.NewMetrics(),
	}

	if cfg.Watch {
		watcher, err := index.NewWatcher(cfg.BaseDir, notifier, logger)
		if err != nil {
			notifier.Close()
			store.Close()
			return nil, err
		}
		svc.watcher = watcher
	}

	return svc, nil
}

// Close releases the watcher, drains the notifier, and closes the
// metadata store. Safe to call once.
func (s *Service) Close() error {
	var firstErr error
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			firstErr = err
		}
	}
	s.notifier.Close()
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Metrics exposes the Prometheus collectors for route registration.
func (s *Service) Metrics() *telemetry.Metrics { return s.metrics }

// ApplyPatch applies patch text to the named workspace.
//
// # Description
//
//	Acquires the workspace's exclusive scope, runs the patch engine,
//	and records metrics and index notifications for every mutated
//	file. The report is always non-nil when error is nil: syntax
//	errors and per-file application failures are carried inside it,
//	not as Go errors.
//
// # Inputs
//
//	ctx - Bounds surrounding I/O.
//	name - Workspace name.
//	patchText - Raw patch text in either accepted dialect.
//
// # Outputs
//
//	*patch.PatchApplyReport - Aggregated outcome.
//	error - workspace.ErrInvalidName or workspace.ErrNotFound.
func (s *Service) ApplyPatch(ctx context.Context, name, patchText string) (*patch.PatchApplyReport, error) {
	root, err := s.manager.Resolve(name)
	if err != nil {
		s.metrics.PatchRequests.WithLabelValues("workspace_error").Inc()
		return nil, err
	}

	scope := s.manager.Scope(name)
	scope.Lock()
	defer scope.Unlock()

	engine := patch.NewEngine(patch.EngineConfig{
		Logger: s.logger.With("workspace", name),
		OnFileChanged: func(path string, status patch.ApplyStatus) {
			if op, ok := statusOp(status); ok {
				s.notifier.Notify(index.Event{Workspace: name, Path: path, Op: op})
			}
		},
		OnHunkMatched: func(strategy patch.MatchStrategy, _ float64) {
			s.metrics.HunkMatches.WithLabelValues(strategy.String()).Inc()
		},
	})

	started := time.Now()
	report := engine.Apply(ctx, root, patchText)

	outcome := "applied"
	if !report.PatchApplied {
		outcome = "syntax_error"
	}
	s.metrics.ObserveApply(outcome, started)
	for i := range report.Results {
		s.metrics.PatchedFiles.WithLabelValues(report.Results[i].Status.String()).Inc()
	}

	if report.PatchApplied && report.SuccessfulFiles() > 0 {
		s.manager.RecordPatchApplied(ctx, name)
	}
	return report, nil
}

// CreateWorkspace creates a workspace directory and metadata record.
// The watcher picks up the new directory through its own create event.
func (s *Service) CreateWorkspace(ctx context.Context, name string) (*storage.WorkspaceRecord, error) {
	rec, err := s.manager.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	s.metrics.WorkspaceOps.WithLabelValues("create").Inc()
	return rec, nil
}

// ListWorkspaces returns metadata records for all workspaces.
func (s *Service) ListWorkspaces(ctx context.Context) ([]*storage.WorkspaceRecord, error) {
	return s.manager.List(ctx)
}

// GetWorkspace loads one workspace's metadata record.
func (s *Service) GetWorkspace(ctx context.Context, name string) (*storage.WorkspaceRecord, error) {
	return s.manager.Get(ctx, name)
}

// DeleteWorkspace removes a workspace directory and its metadata.
func (s *Service) DeleteWorkspace(ctx context.Context, name string) error {
	if err := s.manager.Delete(ctx, name); err != nil {
		return err
	}
	s.metrics.WorkspaceOps.WithLabelValues("delete").Inc()
	return nil
}

// Tree lists a workspace's files sorted by path.
func (s *Service) Tree(name string) ([]workspace.FileNode, error) {
	return s.manager.Tree(name)
}

// Reindex emits a synthetic modified event for every file in the
// workspace, letting the indexing collaborator rebuild its view.
func (s *Service) Reindex(ctx context.Context, name string) error {
	root, err := s.manager.Resolve(name)
	if err != nil {
		return err
	}
	return index.Reindex(ctx, s.notifier, name, root)
}

// WriteFile creates or replaces one file inside a workspace.
//
// # Outputs
//
//	bool - True when the file did not previously exist.
//	error - Workspace resolution or path-safety failures.
func (s *Service) WriteFile(ctx context.Context, name, rel, content string) (bool, error) {
	root, err := s.manager.Resolve(name)
	if err != nil {
		return false, err
	}

	scope := s.manager.Scope(name)
	scope.Lock()
	defer scope.Unlock()

	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	mutator := patch.NewMutator(root)
	created := !mutator.Exists(rel)
	if err := mutator.WriteFile(rel, content); err != nil {
		return false, err
	}

	op := index.OpModified
	if created {
		op = index.OpCreated
	}
	s.notifier.Notify(index.Event{Workspace: name, Path: rel, Op: op})
	return created, nil
}

// ReadFile returns the content of one workspace file.
func (s *Service) ReadFile(_ context.Context, name, rel string) (string, error) {
	root, err := s.manager.Resolve(name)
	if err != nil {
		return "", err
	}
	return patch.NewMutator(root).ReadFile(rel)
}

// DeleteFile removes one workspace file.
func (s *Service) DeleteFile(ctx context.Context, name, rel string) error {
	root, err := s.manager.Resolve(name)
	if err != nil {
		return err
	}

	scope := s.manager.Scope(name)
	scope.Lock()
	defer scope.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := patch.NewMutator(root).DeleteFile(rel); err != nil {
		return err
	}
	s.notifier.Notify(index.Event{Workspace: name, Path: rel, Op: index.OpDeleted})
	return nil
}

// statusOp maps a per-file apply status to its index event kind.
func statusOp(status patch.ApplyStatus) (index.Op, bool) {
	switch status {
	case patch.StatusCreated:
		return index.OpCreated, true
	case patch.StatusModified:
		return index.OpModified, true
	case patch.StatusDeleted:
		return index.OpDeleted, true
	default:
		return "", false
	}
}

// mapWorkspaceError classifies manager errors for the HTTP boundary.
func mapWorkspaceError(err error) (int, string) {
	switch {
	case errors.Is(err, workspace.ErrInvalidName):
		return 400, "INVALID_WORKSPACE_NAME"
	case errors.Is(err, workspace.ErrNotFound):
		return 404, "WORKSPACE_NOT_FOUND"
	case errors.Is(err, workspace.ErrAlreadyExists):
		return 409, "WORKSPACE_EXISTS"
	default:
		return 500, "INTERNAL_ERROR"
	}
}
