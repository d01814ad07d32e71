// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"sync"
)

// Scope is the exclusive lock serializing mutating operations on one
// workspace. Patch application and direct file writes take the scope
// for the whole resolve-and-write critical section; requests against
// different workspaces proceed fully concurrently.
type Scope struct {
	mu   sync.Mutex
	name string
}

// Name returns the workspace this scope guards.
func (s *Scope) Name() string { return s.name }

// Lock acquires the exclusive scope.
func (s *Scope) Lock() { s.mu.Lock() }

// Unlock releases the exclusive scope.
func (s *Scope) Unlock() { s.mu.Unlock() }

// ScopeSet lazily creates and retains one Scope per workspace name.
//
// Thread Safety: Safe for concurrent use. Get returns the same Scope
// for the same name across goroutines.
type ScopeSet struct {
	scopes sync.Map // workspace name -> *Scope
}

// NewScopeSet creates an empty scope set.
func NewScopeSet() *ScopeSet {
	return &ScopeSet{}
}

// Get returns the scope for the named workspace, creating it on first
// use. LoadOrStore guarantees all callers share one instance even when
// they race on the first request.
func (ss *ScopeSet) Get(name string) *Scope {
	if s, ok := ss.scopes.Load(name); ok {
		return s.(*Scope)
	}
	s, _ := ss.scopes.LoadOrStore(name, &Scope{name: name})
	return s.(*Scope)
}

// Forget drops the scope for a deleted workspace. Holders of the old
// scope finish their critical sections undisturbed.
func (ss *ScopeSet) Forget(name string) {
	ss.scopes.Delete(name)
}
