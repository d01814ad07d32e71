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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newTestMutator returns a Mutator rooted at a fresh temp workspace.
func newTestMutator(t *testing.T) *Mutator {
	t.Helper()
	return NewMutator(t.TempDir())
}

// writeWorkspaceFile seeds a file directly, bypassing the Mutator.
func writeWorkspaceFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestResolveRejectsUnsafePaths(t *testing.T) {
	m := newTestMutator(t)

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"parent traversal", "../outside.txt"},
		{"embedded traversal", "src/../../etc/passwd"},
		{"absolute", "/etc/passwd"},
		{"nul byte", "file\x00.txt"},
		{"too long", strings.Repeat("a", 501)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Resolve(tt.path); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("Resolve(%q) = %v, want ErrInvalidPath", tt.path, err)
			}
		})
	}
}

func TestResolveAcceptsSafePaths(t *testing.T) {
	m := newTestMutator(t)

	for _, p := range []string{"file.txt", "src/deep/nested/file.go", "./relative.txt"} {
		abs, err := m.Resolve(p)
		if err != nil {
			t.Errorf("Resolve(%q) returned error: %v", p, err)
			continue
		}
		if !strings.HasPrefix(abs, m.Root()) {
			t.Errorf("Resolve(%q) = %q, not under root %q", p, abs, m.Root())
		}
	}
}

func TestWriteFileCreatesParentsAtomically(t *testing.T) {
	m := newTestMutator(t)

	if err := m.WriteFile("a/b/c/file.txt", "content\n"); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}

	got, err := m.ReadFile("a/b/c/file.txt")
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if got != "content\n" {
		t.Errorf("content = %q, want %q", got, "content\n")
	}

	// No temp files may survive a successful write.
	entries, err := os.ReadDir(filepath.Join(m.Root(), "a/b/c"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestWriteFilePreservesMode(t *testing.T) {
	m := newTestMutator(t)
	writeWorkspaceFile(t, m.Root(), "script.sh", "#!/bin/sh\n")
	if err := os.Chmod(filepath.Join(m.Root(), "script.sh"), 0o755); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	if err := m.WriteFile("script.sh", "#!/bin/sh\necho hi\n"); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}

	info, err := os.Stat(filepath.Join(m.Root(), "script.sh"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755 preserved", info.Mode().Perm())
	}
}

func TestReadFileNotFound(t *testing.T) {
	m := newTestMutator(t)
	if _, err := m.ReadFile("missing.txt"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("err = %v, want ErrFileNotFound", err)
	}
}

func TestDeleteFile(t *testing.T) {
	m := newTestMutator(t)
	writeWorkspaceFile(t, m.Root(), "doomed.txt", "bye\n")

	if err := m.DeleteFile("doomed.txt"); err != nil {
		t.Fatalf("DeleteFile returned error: %v", err)
	}
	if m.Exists("doomed.txt") {
		t.Error("file still exists after DeleteFile")
	}
	if err := m.DeleteFile("doomed.txt"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("second delete err = %v, want ErrFileNotFound", err)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"lf with trailing newline", "a\nb\nc\n"},
		{"lf without trailing newline", "a\nb\nc"},
		{"crlf", "a\r\nb\r\nc\r\n"},
		{"crlf without trailing newline", "a\r\nb\r\nc"},
		{"single line", "only\n"},
		{"empty", ""},
		{"unicode", "héllo \U0001F30D\nwörld\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := parseDocument(tt.content)
			if got := d.render(); got != tt.content {
				t.Errorf("render() = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestDocumentSplice(t *testing.T) {
	d := parseDocument("a\nb\nc\nd\n")

	d.splice(1, 2, []string{"X", "Y", "Z"})
	if got := d.render(); got != "a\nX\nY\nZ\nd\n" {
		t.Errorf("render() = %q", got)
	}

	d.splice(0, 0, []string{"top"})
	if got := d.render(); got != "top\na\nX\nY\nZ\nd\n" {
		t.Errorf("render() = %q", got)
	}
}

func TestDocumentCRLFDetection(t *testing.T) {
	d := parseDocument("one\r\ntwo\r\n")
	if d.eol != "\r\n" {
		t.Errorf("eol = %q, want CRLF", d.eol)
	}
	d.splice(1, 1, []string{"TWO"})
	if got := d.render(); got != "one\r\nTWO\r\n" {
		t.Errorf("render() = %q, want CRLF preserved", got)
	}
}
