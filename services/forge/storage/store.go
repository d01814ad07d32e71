// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage provides the BadgerDB-backed metadata store for
// workspace records.
//
// BadgerDB gives low-latency embedded storage (~100µs) with no external
// service, which suits per-instance workspace bookkeeping: records
// survive restarts without a database dependency.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// workspaceKeyPrefix namespaces workspace records in the keyspace.
const workspaceKeyPrefix = "ws:"

// WorkspaceRecord is the persisted metadata for one workspace.
type WorkspaceRecord struct {
	// ID is the stable UUID assigned at creation.
	ID string `json:"id"`

	// Name is the validated workspace name, unique per instance.
	Name string `json:"name"`

	// CreatedAt is the creation timestamp (UTC).
	CreatedAt time.Time `json:"created_at"`

	// LastPatchedAt is the time of the most recent successful patch
	// application, zero if never patched.
	LastPatchedAt time.Time `json:"last_patched_at,omitempty"`

	// PatchCount is the number of successful patch requests applied.
	PatchCount int64 `json:"patch_count"`
}

// Config holds configuration for the metadata store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. If nil,
	// BadgerDB logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before
	// GC rewrites a value log file.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: durable writes and a
// 5-minute GC cadence.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// MetaStore persists workspace records in an embedded BadgerDB.
//
// Thread Safety: Safe for concurrent use; BadgerDB transactions
// provide isolation.
type MetaStore struct {
	db     *badger.DB
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open creates and opens the metadata store.
//
// Description:
//
//	Opens a BadgerDB database at the configured path, or in memory if
//	InMemory is true. Creates the directory if it doesn't exist and
//	starts the GC loop when GCInterval is positive.
//
// Outputs:
//
//	*MetaStore - The opened store. Caller must call Close() when done.
//	error - Non-nil if path is invalid or the database cannot open.
func Open(cfg Config) (*MetaStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &MetaStore{
		db:     db,
		logger: cfg.Logger,
		stopGC: make(chan struct{}),
		doneGC: make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.gcLoop(cfg.GCInterval, cfg.GCDiscardRatio)
	} else {
		close(s.doneGC)
	}
	return s, nil
}

// Close stops the GC loop and closes the database.
func (s *MetaStore) Close() error {
	select {
	case <-s.doneGC:
	default:
		close(s.stopGC)
		<-s.doneGC
	}
	return s.db.Close()
}

// PutWorkspace upserts a workspace record.
func (s *MetaStore) PutWorkspace(ctx context.Context, rec *WorkspaceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding workspace record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(workspaceKeyPrefix+rec.Name), data)
	})
}

// GetWorkspace loads a workspace record by name.
//
// Outputs:
//
//	*WorkspaceRecord - The record, nil on error.
//	error - ErrNotFound if no record exists for the name.
func (s *MetaStore) GetWorkspace(ctx context.Context, name string) (*WorkspaceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec WorkspaceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(workspaceKeyPrefix + name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: workspace %s", ErrNotFound, name)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteWorkspace removes a workspace record. Deleting a missing
// record is not an error.
func (s *MetaStore) DeleteWorkspace(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(workspaceKeyPrefix + name))
	})
}

// ListWorkspaces returns all workspace records, ordered by key.
func (s *MetaStore) ListWorkspaces(ctx context.Context) ([]*WorkspaceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []*WorkspaceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(workspaceKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec WorkspaceRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// RecordPatchApplied bumps the patch counters on a workspace record.
func (s *MetaStore) RecordPatchApplied(ctx context.Context, name string, at time.Time) error {
	rec, err := s.GetWorkspace(ctx, name)
	if err != nil {
		return err
	}
	rec.LastPatchedAt = at
	rec.PatchCount++
	return s.PutWorkspace(ctx, rec)
}

// gcLoop runs periodic value log garbage collection until Close.
func (s *MetaStore) gcLoop(interval time.Duration, ratio float64) {
	defer close(s.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing needed collecting.
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				if s.logger != nil {
					s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
				}
			}
		}
	}
}
