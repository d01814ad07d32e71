// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxRelPathLength bounds target paths to keep them well under
// filesystem limits after joining with the workspace root.
const maxRelPathLength = 500

// Mutator performs validated filesystem mutations inside one
// workspace root.
//
// # Description
//
// All paths are workspace-relative and pass safety checks before any
// I/O: no absolute paths, no parent traversal, no NUL bytes, bounded
// length, and the cleaned path must stay under the root. Writes are
// atomic per file: content lands in a temp file that is synced and
// renamed over the target, so readers never observe a partial write.
//
// # Thread Safety
//
// Safe for concurrent use across distinct files. Callers serialize
// writes to the same workspace at a higher level.
type Mutator struct {
	root string
}

// NewMutator creates a Mutator rooted at the given workspace directory.
func NewMutator(root string) *Mutator {
	return &Mutator{root: root}
}

// Root returns the workspace root directory.
func (m *Mutator) Root() string { return m.root }

// Resolve validates a workspace-relative path and returns its absolute
// location under the root.
//
// # Outputs
//
//   - string: Absolute path under the workspace root.
//   - error: Wraps ErrInvalidPath when the path fails safety checks.
func (m *Mutator) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if len(rel) > maxRelPathLength {
		return "", fmt.Errorf("%w: path exceeds %d characters", ErrInvalidPath, maxRelPathLength)
	}
	if strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("%w: path contains NUL byte", ErrInvalidPath)
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path not allowed: %s", ErrInvalidPath, rel)
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: parent traversal not allowed: %s", ErrInvalidPath, rel)
		}
	}

	abs := filepath.Join(m.root, filepath.Clean(rel))
	cleanRoot := filepath.Clean(m.root)
	if abs != cleanRoot && !strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes workspace root: %s", ErrInvalidPath, rel)
	}
	return abs, nil
}

// ReadFile reads the file at the given workspace-relative path.
func (m *Mutator) ReadFile(rel string) (string, error) {
	abs, err := m.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, rel)
		}
		return "", fmt.Errorf("reading %s: %w", rel, err)
	}
	return string(data), nil
}

// Exists reports whether a regular file exists at the given path.
func (m *Mutator) Exists(rel string) bool {
	abs, err := m.Resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// WriteFile atomically writes content to the given relative path,
// creating parent directories as needed.
func (m *Mutator) WriteFile(rel, content string) error {
	abs, err := m.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("creating parent directories for %s: %w", rel, err)
	}
	return atomicWriteFile(abs, []byte(content), 0o644)
}

// DeleteFile removes the file at the given relative path.
func (m *Mutator) DeleteFile(rel string) error {
	abs, err := m.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, rel)
		}
		return fmt.Errorf("deleting %s: %w", rel, err)
	}
	return nil
}

// atomicWriteFile writes data to a temp file in the target directory,
// syncs it, then renames it over the destination. On any failure the
// temp file is removed and the original is left untouched.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	// Preserve the mode of an existing target.
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return nil
}

// document is file content decomposed for line-level editing while
// preserving the original line-ending convention and trailing-newline
// state.
type document struct {
	lines           []string
	eol             string
	trailingNewline bool
}

// parseDocument decomposes raw content. CRLF is detected from the
// first occurrence; mixed-ending files are re-rendered with the
// detected convention.
func parseDocument(content string) *document {
	d := &document{eol: "\n", trailingNewline: true}
	if content == "" {
		d.lines = []string{}
		return d
	}
	if strings.Contains(content, "\r\n") {
		d.eol = "\r\n"
		content = strings.ReplaceAll(content, "\r\n", "\n")
	}
	d.trailingNewline = strings.HasSuffix(content, "\n")
	if d.trailingNewline {
		content = content[:len(content)-1]
	}
	d.lines = strings.Split(content, "\n")
	return d
}

// render reassembles the document into raw content.
func (d *document) render() string {
	if len(d.lines) == 0 {
		return ""
	}
	out := strings.Join(d.lines, d.eol)
	if d.trailingNewline {
		out += d.eol
	}
	return out
}

// splice replaces d.lines[pos:pos+removed] with repl.
func (d *document) splice(pos, removed int, repl []string) {
	out := make([]string, 0, len(d.lines)-removed+len(repl))
	out = append(out, d.lines[:pos]...)
	out = append(out, repl...)
	out = append(out, d.lines[pos+removed:]...)
	d.lines = out
}
