// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace manages named workspace directories: creation,
// lookup, deletion, file tree listing, and the per-workspace exclusive
// scope that serializes mutating operations.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/forge/services/forge/storage"
)

// Sentinel errors for workspace operations.
var (
	// ErrInvalidName indicates the workspace name fails validation.
	ErrInvalidName = errors.New("invalid workspace name")

	// ErrNotFound indicates no workspace exists with the given name.
	ErrNotFound = errors.New("workspace not found")

	// ErrAlreadyExists indicates a workspace with the name exists.
	ErrAlreadyExists = errors.New("workspace already exists")
)

// nameRegex constrains workspace names to a filesystem- and URL-safe
// alphabet.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// ValidName reports whether name is an acceptable workspace name.
func ValidName(name string) bool {
	return nameRegex.MatchString(name)
}

// FileNode is one entry in a workspace file tree listing.
type FileNode struct {
	// Path is the workspace-relative path using forward slashes.
	Path string `json:"path"`

	// IsDir marks directory entries.
	IsDir bool `json:"is_dir"`

	// Size is the file size in bytes, 0 for directories.
	Size int64 `json:"size"`
}

// Manager owns the workspace base directory and metadata store.
//
// # Description
//
// Each workspace is a directory named after the workspace under the
// base directory, with a metadata record in BadgerDB. The manager also
// hands out the per-workspace exclusive scope used to serialize
// patch application and direct file writes.
//
// # Thread Safety
//
// Safe for concurrent use.
type Manager struct {
	baseDir string
	store   *storage.MetaStore
	logger  *slog.Logger
	scopes  *ScopeSet
}

// NewManager creates a workspace manager.
//
// # Inputs
//
//   - baseDir: Directory holding all workspace directories. Created if
//     missing.
//   - store: Metadata store for workspace records.
//   - logger: Structured logger. Defaults to slog.Default() when nil.
func NewManager(baseDir string, store *storage.MetaStore, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace base directory %s: %w", baseDir, err)
	}
	return &Manager{
		baseDir: baseDir,
		store:   store,
		logger:  logger,
		scopes:  NewScopeSet(),
	}, nil
}

// BaseDir returns the workspace base directory.
func (m *Manager) BaseDir() string { return m.baseDir }

// Scope returns the exclusive scope for the named workspace. Callers
// hold it around any mutating operation on the workspace.
func (m *Manager) Scope(name string) *Scope {
	return m.scopes.Get(name)
}

// Create makes a new workspace directory and metadata record.
//
// # Outputs
//
//   - *storage.WorkspaceRecord: The created record.
//   - error: ErrInvalidName or ErrAlreadyExists on conflict.
func (m *Manager) Create(ctx context.Context, name string) (*storage.WorkspaceRecord, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	dir := filepath.Join(m.baseDir, name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	if _, err := m.store.GetWorkspace(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace directory: %w", err)
	}

	rec := &storage.WorkspaceRecord{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.PutWorkspace(ctx, rec); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("persisting workspace record: %w", err)
	}

	m.logger.Info("workspace created", "name", name, "id", rec.ID)
	return rec, nil
}

// Resolve returns the root directory of an existing workspace.
//
// # Outputs
//
//   - string: Absolute workspace root.
//   - error: ErrInvalidName or ErrNotFound.
func (m *Manager) Resolve(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	dir := filepath.Join(m.baseDir, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return dir, nil
}

// Get loads the metadata record for an existing workspace.
func (m *Manager) Get(ctx context.Context, name string) (*storage.WorkspaceRecord, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	rec, err := m.store.GetWorkspace(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return rec, nil
}

// List returns the metadata records of all workspaces.
func (m *Manager) List(ctx context.Context) ([]*storage.WorkspaceRecord, error) {
	return m.store.ListWorkspaces(ctx)
}

// Delete removes a workspace directory and its metadata record.
func (m *Manager) Delete(ctx context.Context, name string) error {
	dir, err := m.Resolve(name)
	if err != nil {
		return err
	}

	scope := m.Scope(name)
	scope.Lock()
	defer scope.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing workspace directory: %w", err)
	}
	if err := m.store.DeleteWorkspace(ctx, name); err != nil {
		return fmt.Errorf("removing workspace record: %w", err)
	}

	m.logger.Info("workspace deleted", "name", name)
	return nil
}

// RecordPatchApplied bumps the workspace's patch counters. Missing
// metadata is tolerated: directory-only workspaces still patch.
func (m *Manager) RecordPatchApplied(ctx context.Context, name string) {
	if err := m.store.RecordPatchApplied(ctx, name, time.Now().UTC()); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("failed to record patch application",
				"workspace", name, "error", err)
		}
	}
}

// Tree lists the files of a workspace, sorted by path. Hidden entries
// (dot-prefixed) are skipped.
func (m *Manager) Tree(name string) ([]FileNode, error) {
	dir, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}

	nodes := []FileNode{}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if d.Name()[0] == '.' {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		node := FileNode{Path: filepath.ToSlash(rel), IsDir: d.IsDir()}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				node.Size = info.Size()
			}
		}
		nodes = append(nodes, node)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking workspace %s: %w", name, err)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	return nodes, nil
}
