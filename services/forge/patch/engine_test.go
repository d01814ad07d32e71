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
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// newTestEngine returns an engine with a discarding logger and a fresh
// workspace root.
func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(EngineConfig{Logger: logger}), t.TempDir()
}

func readWorkspaceFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatalf("reading %s: %v", rel, err)
	}
	return string(data)
}

func TestApplyEmptyPatchSucceedsWithZeroResults(t *testing.T) {
	e, root := newTestEngine(t)

	for _, input := range []string{"", "   \n\t\n"} {
		report := e.Apply(context.Background(), root, input)
		if !report.PatchApplied {
			t.Errorf("PatchApplied = false for empty input, want true")
		}
		if len(report.Results) != 0 {
			t.Errorf("got %d results, want 0", len(report.Results))
		}
		if report.ErrorCode != "" {
			t.Errorf("ErrorCode = %q, want empty", report.ErrorCode)
		}
	}
}

func TestApplySyntaxErrorShortCircuits(t *testing.T) {
	e, root := newTestEngine(t)

	report := e.Apply(context.Background(), root, "@@ -1,1 +1,1 @@\n-a\n+b\n")
	if report.PatchApplied {
		t.Error("PatchApplied = true, want false for syntax error")
	}
	if report.ErrorCode != CodeMissingFileHeaders {
		t.Errorf("ErrorCode = %q, want %s", report.ErrorCode, CodeMissingFileHeaders)
	}
	if len(report.Results) != 0 {
		t.Errorf("got %d results, want 0 (no file is ever touched)", len(report.Results))
	}
}

func TestApplySimpleModification(t *testing.T) {
	e, root := newTestEngine(t)
	writeWorkspaceFile(t, root, "file.txt", "old\n")

	patch := "--- a/file.txt\n+++ b/file.txt\n@@ -1,1 +1,1 @@\n-old\n+new\n"
	report := e.Apply(context.Background(), root, patch)

	if !report.PatchApplied {
		t.Fatalf("PatchApplied = false: %s", report.ErrorMessage)
	}
	if report.SuccessfulFiles() != 1 || len(report.Results) != 1 {
		t.Fatalf("results = %+v", report.Results)
	}
	if report.Results[0].Status != StatusModified {
		t.Errorf("status = %v, want modified", report.Results[0].Status)
	}
	if got := readWorkspaceFile(t, root, "file.txt"); got != "new\n" {
		t.Errorf("content = %q, want %q", got, "new\n")
	}
}

func TestApplyCreateAndDelete(t *testing.T) {
	e, root := newTestEngine(t)

	t.Run("create", func(t *testing.T) {
		patch := "--- /dev/null\n+++ b/dir/new.txt\n@@ -0,0 +1,2 @@\n+hello\n+world\n"
		report := e.Apply(context.Background(), root, patch)
		if report.SuccessfulFiles() != 1 {
			t.Fatalf("results = %+v", report.Results)
		}
		if report.Results[0].Status != StatusCreated {
			t.Errorf("status = %v, want created", report.Results[0].Status)
		}
		if got := readWorkspaceFile(t, root, "dir/new.txt"); got != "hello\nworld\n" {
			t.Errorf("content = %q", got)
		}
	})

	t.Run("delete", func(t *testing.T) {
		writeWorkspaceFile(t, root, "old.txt", "contents\n")
		patch := "--- a/old.txt\n+++ /dev/null\n@@ -1,1 +0,0 @@\n-contents\n"
		report := e.Apply(context.Background(), root, patch)
		if report.SuccessfulFiles() != 1 {
			t.Fatalf("results = %+v", report.Results)
		}
		if report.Results[0].Status != StatusDeleted {
			t.Errorf("status = %v, want deleted", report.Results[0].Status)
		}
		if _, err := os.Stat(filepath.Join(root, "old.txt")); !os.IsNotExist(err) {
			t.Error("file still exists after deletion patch")
		}
	})
}

func TestApplyMultiHunkWithLineDelta(t *testing.T) {
	e, root := newTestEngine(t)
	writeWorkspaceFile(t, root, "multi.txt",
		"line1\nline2\nline3\nline4\nline5\nline6\nline7\nline8\n")

	// First hunk grows the file by two lines; the second hunk's
	// declared position is only correct after delta adjustment.
	patch := "--- a/multi.txt\n" +
		"+++ b/multi.txt\n" +
		"@@ -2,1 +2,3 @@\n" +
		"-line2\n" +
		"+line2a\n" +
		"+line2b\n" +
		"+line2c\n" +
		"@@ -7,1 +9,1 @@\n" +
		"-line7\n" +
		"+LINE7\n"

	report := e.Apply(context.Background(), root, patch)
	if report.SuccessfulFiles() != 1 {
		t.Fatalf("results = %+v", report.Results)
	}

	want := "line1\nline2a\nline2b\nline2c\nline3\nline4\nline5\nline6\nLINE7\nline8\n"
	if got := readWorkspaceFile(t, root, "multi.txt"); got != want {
		t.Errorf("content = %q, want %q", got, want)
	}
}

func TestApplyReApplicationFails(t *testing.T) {
	e, root := newTestEngine(t)
	writeWorkspaceFile(t, root, "file.txt", "old\n")

	patch := "--- a/file.txt\n+++ b/file.txt\n@@ -1,1 +1,1 @@\n-old\n+new\n"

	first := e.Apply(context.Background(), root, patch)
	if first.SuccessfulFiles() != 1 {
		t.Fatalf("first application failed: %+v", first.Results)
	}

	second := e.Apply(context.Background(), root, patch)
	if !second.PatchApplied {
		t.Fatal("PatchApplied = false, re-application is an application error not a syntax error")
	}
	if second.SuccessfulFiles() != 0 {
		t.Fatalf("second application succeeded, want failure: %+v", second.Results)
	}
	if second.Results[0].ErrorCode != CodeNoMatchingContext {
		t.Errorf("error code = %s, want %s", second.Results[0].ErrorCode, CodeNoMatchingContext)
	}
	if got := readWorkspaceFile(t, root, "file.txt"); got != "new\n" {
		t.Errorf("content corrupted by re-application: %q", got)
	}
}

func TestApplyMultiFilePartialSuccess(t *testing.T) {
	e, root := newTestEngine(t)
	writeWorkspaceFile(t, root, "good.txt", "alpha\n")

	// Second file does not exist: it fails while the first succeeds.
	patch := "--- a/good.txt\n" +
		"+++ b/good.txt\n" +
		"@@ -1,1 +1,1 @@\n" +
		"-alpha\n" +
		"+ALPHA\n" +
		"--- a/missing.txt\n" +
		"+++ b/missing.txt\n" +
		"@@ -1,1 +1,1 @@\n" +
		"-beta\n" +
		"+BETA\n"

	report := e.Apply(context.Background(), root, patch)
	if !report.PatchApplied {
		t.Fatalf("PatchApplied = false: %s", report.ErrorMessage)
	}
	if len(report.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(report.Results))
	}
	if report.SuccessfulFiles() != 1 {
		t.Errorf("successful = %d, want 1", report.SuccessfulFiles())
	}
	if report.Results[1].ErrorCode != CodeFileNotFound {
		t.Errorf("error code = %s, want %s", report.Results[1].ErrorCode, CodeFileNotFound)
	}
	if got := readWorkspaceFile(t, root, "good.txt"); got != "ALPHA\n" {
		t.Errorf("good.txt = %q, independent files must still apply", got)
	}
	if mods := report.ModifiedFiles(); len(mods) != 1 || mods[0] != "good.txt" {
		t.Errorf("ModifiedFiles() = %v", mods)
	}
}

func TestApplyUnicodeContentFidelity(t *testing.T) {
	e, root := newTestEngine(t)
	original := "première ligne\n🎉 emoji line\nnoël Étrange\nlast\n"
	writeWorkspaceFile(t, root, "uni.txt", original)

	patch := "--- a/uni.txt\n" +
		"+++ b/uni.txt\n" +
		"@@ -4,1 +4,1 @@\n" +
		"-last\n" +
		"+dernière\n"

	report := e.Apply(context.Background(), root, patch)
	if report.SuccessfulFiles() != 1 {
		t.Fatalf("results = %+v", report.Results)
	}

	want := "première ligne\n🎉 emoji line\nnoël Étrange\ndernière\n"
	if got := readWorkspaceFile(t, root, "uni.txt"); got != want {
		t.Errorf("untouched unicode bytes must round-trip exactly:\ngot  %q\nwant %q", got, want)
	}
}

func TestApplyPreservesCRLF(t *testing.T) {
	e, root := newTestEngine(t)
	writeWorkspaceFile(t, root, "win.txt", "one\r\ntwo\r\nthree\r\n")

	patch := "--- a/win.txt\n+++ b/win.txt\n@@ -2,1 +2,1 @@\n-two\n+TWO\n"
	report := e.Apply(context.Background(), root, patch)
	if report.SuccessfulFiles() != 1 {
		t.Fatalf("results = %+v", report.Results)
	}
	if got := readWorkspaceFile(t, root, "win.txt"); got != "one\r\nTWO\r\nthree\r\n" {
		t.Errorf("content = %q, want CRLF preserved", got)
	}
}

func TestApplyNoNewlineAtEOF(t *testing.T) {
	e, root := newTestEngine(t)
	writeWorkspaceFile(t, root, "file.txt", "old\n")

	patch := "--- a/file.txt\n" +
		"+++ b/file.txt\n" +
		"@@ -1,1 +1,1 @@\n" +
		"-old\n" +
		"+new\n" +
		"\\ No newline at end of file\n"

	report := e.Apply(context.Background(), root, patch)
	if report.SuccessfulFiles() != 1 {
		t.Fatalf("results = %+v", report.Results)
	}
	if got := readWorkspaceFile(t, root, "file.txt"); got != "new" {
		t.Errorf("content = %q, want %q (no trailing newline)", got, "new")
	}
}

func TestApplyFuzzyMatchedHunk(t *testing.T) {
	changed := false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var strategies []MatchStrategy
	e := NewEngine(EngineConfig{
		Logger: logger,
		OnFileChanged: func(path string, status ApplyStatus) {
			changed = true
		},
		OnHunkMatched: func(s MatchStrategy, confidence float64) {
			strategies = append(strategies, s)
		},
	})
	root := t.TempDir()

	// The file drifted: one context line differs from the patch, so
	// only the fuzzy tier can anchor the hunk.
	writeWorkspaceFile(t, root, "drift.txt",
		"func setup() {\n\tinit()\n\tconfigure()\n\tstart() // tweaked\n}\n")

	patch := "--- a/drift.txt\n" +
		"+++ b/drift.txt\n" +
		"@@ -1,5 +1,5 @@\n" +
		" func setup() {\n" +
		" \tinit()\n" +
		"-\tconfigure()\n" +
		"+\tconfigureAll()\n" +
		" \tstart()\n" +
		" }\n"

	report := e.Apply(context.Background(), root, patch)
	if report.SuccessfulFiles() != 1 {
		t.Fatalf("results = %+v", report.Results)
	}
	if len(strategies) != 1 || strategies[0] != MatchFuzzy {
		t.Errorf("strategies = %v, want [fuzzy]", strategies)
	}
	if !changed {
		t.Error("OnFileChanged was not invoked")
	}

	// Fuzzy application rewrites the whole window with the patch's
	// new side, so the drifted context line takes the patch's form.
	want := "func setup() {\n\tinit()\n\tconfigureAll()\n\tstart()\n}\n"
	if got := readWorkspaceFile(t, root, "drift.txt"); got != want {
		t.Errorf("content = %q, want %q", got, want)
	}
}

func TestApplySearchReplace(t *testing.T) {
	e, root := newTestEngine(t)

	t.Run("basic replacement", func(t *testing.T) {
		writeWorkspaceFile(t, root, "app.scala", "object App {\n  val x = 1\n}\n")
		patch := "app.scala\n<<<<<<< SEARCH\n  val x = 1\n=======\n  val x = 42\n>>>>>>> REPLACE\n"

		report := e.Apply(context.Background(), root, patch)
		if report.SuccessfulFiles() != 1 {
			t.Fatalf("results = %+v", report.Results)
		}
		if got := readWorkspaceFile(t, root, "app.scala"); got != "object App {\n  val x = 42\n}\n" {
			t.Errorf("content = %q", got)
		}
	})

	t.Run("first occurrence only", func(t *testing.T) {
		writeWorkspaceFile(t, root, "dup.txt", "token\nmiddle\ntoken\n")
		patch := "dup.txt\n<<<<<<< SEARCH\ntoken\n=======\nTOKEN\n>>>>>>> REPLACE\n"

		report := e.Apply(context.Background(), root, patch)
		if report.SuccessfulFiles() != 1 {
			t.Fatalf("results = %+v", report.Results)
		}
		if got := readWorkspaceFile(t, root, "dup.txt"); got != "TOKEN\nmiddle\ntoken\n" {
			t.Errorf("content = %q, second occurrence must stay untouched", got)
		}
	})

	t.Run("search not found", func(t *testing.T) {
		writeWorkspaceFile(t, root, "present.txt", "something\n")
		patch := "present.txt\n<<<<<<< SEARCH\nabsent text\n=======\nwhatever\n>>>>>>> REPLACE\n"

		report := e.Apply(context.Background(), root, patch)
		if !report.PatchApplied {
			t.Fatal("PatchApplied = false, want true")
		}
		if report.SuccessfulFiles() != 0 {
			t.Fatalf("results = %+v", report.Results)
		}
		if report.Results[0].ErrorCode != CodeSearchNotFound {
			t.Errorf("error code = %s, want %s", report.Results[0].ErrorCode, CodeSearchNotFound)
		}
	})

	t.Run("empty search creates file", func(t *testing.T) {
		patch := "brand/new.txt\n<<<<<<< SEARCH\n=======\nfresh content\n>>>>>>> REPLACE\n"

		report := e.Apply(context.Background(), root, patch)
		if report.SuccessfulFiles() != 1 {
			t.Fatalf("results = %+v", report.Results)
		}
		if report.Results[0].Status != StatusCreated {
			t.Errorf("status = %v, want created", report.Results[0].Status)
		}
		if got := readWorkspaceFile(t, root, "brand/new.txt"); got != "fresh content\n" {
			t.Errorf("content = %q", got)
		}
	})

	t.Run("empty search on existing file fails", func(t *testing.T) {
		writeWorkspaceFile(t, root, "exists.txt", "data\n")
		patch := "exists.txt\n<<<<<<< SEARCH\n=======\noverwrite\n>>>>>>> REPLACE\n"

		report := e.Apply(context.Background(), root, patch)
		if report.SuccessfulFiles() != 0 {
			t.Fatalf("results = %+v", report.Results)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		patch := "ghost.txt\n<<<<<<< SEARCH\nx\n=======\ny\n>>>>>>> REPLACE\n"

		report := e.Apply(context.Background(), root, patch)
		if report.Results[0].ErrorCode != CodeFileNotFound {
			t.Errorf("error code = %s, want %s", report.Results[0].ErrorCode, CodeFileNotFound)
		}
	})
}

func TestApplyRejectsUnsafeTargets(t *testing.T) {
	e, root := newTestEngine(t)

	patch := "--- a/../escape.txt\n+++ b/../escape.txt\n@@ -1,1 +1,1 @@\n-x\n+y\n"
	report := e.Apply(context.Background(), root, patch)
	if !report.PatchApplied {
		t.Fatal("PatchApplied = false, want true (path rejection is per-file)")
	}
	if report.Results[0].ErrorCode != CodeInvalidPath {
		t.Errorf("error code = %s, want %s", report.Results[0].ErrorCode, CodeInvalidPath)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "escape.txt")); !os.IsNotExist(err) {
		t.Error("file escaped the workspace root")
	}
}

func TestApplyStatsPopulatedForUnifiedDialect(t *testing.T) {
	e, root := newTestEngine(t)
	writeWorkspaceFile(t, root, "s.txt", "a\n")

	patch := "--- a/s.txt\n+++ b/s.txt\n@@ -1,1 +1,2 @@\n-a\n+b\n+c\n"
	report := e.Apply(context.Background(), root, patch)
	if report.Stats.FilesAffected != 1 || report.Stats.LinesAdded != 2 || report.Stats.LinesRemoved != 1 {
		t.Errorf("stats = %+v", report.Stats)
	}
}
