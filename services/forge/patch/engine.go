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
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// EngineConfig configures a patch Engine.
type EngineConfig struct {
	// Logger receives per-file application events. Defaults to
	// slog.Default() when nil.
	Logger *slog.Logger

	// OnFileChanged, when non-nil, is invoked after every successful
	// file mutation. Implementations must not block: change
	// notification is fire-and-forget.
	OnFileChanged func(path string, status ApplyStatus)

	// OnHunkMatched, when non-nil, is invoked for every resolved hunk
	// with the strategy and confidence that located it.
	OnHunkMatched func(strategy MatchStrategy, confidence float64)
}

// Engine runs the full patch pipeline: parse, validate, resolve,
// mutate, aggregate.
//
// # Description
//
// Application is per-file atomic and cross-file independent: a file is
// either fully patched via an atomic rename or left untouched, and one
// file's failure never aborts the remaining files in the same request.
// There is no cross-file rollback.
//
// # Thread Safety
//
// Safe for concurrent use across workspaces. Callers hold the
// workspace's exclusive scope around Apply for same-workspace requests.
type Engine struct {
	parser  *Parser
	matcher *Matcher
	logger  *slog.Logger
	cfg     EngineConfig
}

// NewEngine creates a patch engine.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		parser:  NewParser(),
		matcher: NewMatcher(),
		logger:  logger,
		cfg:     cfg,
	}
}

// Apply parses patchText and applies it inside the workspace root.
//
// # Inputs
//
//   - ctx: Bounds surrounding I/O; checked between files, never
//     mid-hunk.
//   - root: Absolute workspace root directory.
//   - patchText: Raw patch text in either accepted dialect.
//
// # Outputs
//
//   - *PatchApplyReport: Always non-nil. PatchApplied is false only
//     for syntax errors; application errors are per-file results.
func (e *Engine) Apply(ctx context.Context, root, patchText string) *PatchApplyReport {
	report := &PatchApplyReport{Results: []ApplyResult{}}

	set, err := e.parser.Parse(patchText)
	if err != nil {
		var synErr *SyntaxError
		if errors.As(err, &synErr) {
			report.ErrorCode = synErr.Code
			report.ErrorMessage = synErr.Error()
		} else {
			report.ErrorCode = CodeInvalidLinePrefix
			report.ErrorMessage = err.Error()
		}
		e.logger.Warn("patch rejected by syntax validation",
			"error_code", report.ErrorCode,
			"error", report.ErrorMessage)
		return report
	}

	report.PatchApplied = true
	if len(set.Files) > 0 && set.Files[0].Dialect == DialectUnified {
		report.Stats = ComputeStats(patchText)
	}

	mutator := NewMutator(root)
	for i := range set.Files {
		if ctx.Err() != nil {
			break
		}
		fp := &set.Files[i]
		result := e.applyFile(mutator, fp)
		report.Results = append(report.Results, result)

		if result.Succeeded() {
			e.logger.Info("file patched",
				"path", result.FilePath,
				"status", result.Status.String())
			if e.cfg.OnFileChanged != nil {
				e.cfg.OnFileChanged(result.FilePath, result.Status)
			}
		} else {
			e.logger.Warn("file patch failed",
				"path", result.FilePath,
				"error_code", result.ErrorCode,
				"error", result.ErrorMessage)
		}
	}
	return report
}

// applyFile applies one FilePatch and returns its result. Failures are
// mapped to stable per-file error codes.
func (e *Engine) applyFile(m *Mutator, fp *FilePatch) ApplyResult {
	path := fp.TargetPath()

	var (
		status ApplyStatus
		err    error
	)
	switch {
	case fp.Dialect == DialectSearchReplace:
		status, err = e.applySearchReplace(m, fp)
	case fp.IsDelete():
		status, err = StatusDeleted, m.DeleteFile(fp.OldPath)
	case fp.IsCreate():
		status, err = StatusCreated, e.createFile(m, fp)
	default:
		status, err = StatusModified, e.modifyFile(m, fp)
	}

	if err != nil {
		return applyFailure(path, err)
	}
	return ApplyResult{FilePath: path, Status: status}
}

// createFile materializes a new file from the patch's new-side lines.
func (e *Engine) createFile(m *Mutator, fp *FilePatch) error {
	var lines []string
	for i := range fp.Hunks {
		lines = append(lines, fp.Hunks[i].NewLines()...)
	}
	content := strings.Join(lines, "\n")
	if len(lines) > 0 && !fp.NoTrailingNewline {
		content += "\n"
	}
	return m.WriteFile(fp.NewPath, content)
}

// modifyFile resolves every hunk in memory, then persists the result
// with a single atomic write. Any unresolvable hunk leaves the file
// untouched.
func (e *Engine) modifyFile(m *Mutator, fp *FilePatch) error {
	if len(fp.Hunks) == 0 {
		return nil
	}
	content, err := m.ReadFile(fp.OldPath)
	if err != nil {
		return err
	}

	doc := parseDocument(content)
	delta := 0
	for i := range fp.Hunks {
		h := &fp.Hunks[i]
		oldLines := h.OldLines()
		newLines := h.NewLines()

		// For pure insertions the header names the line the new
		// content follows, so the insertion index is OldStart itself.
		hint := h.OldStart - 1 + delta
		if len(oldLines) == 0 {
			hint = h.OldStart + delta
		}

		match, err := e.matcher.Match(doc.lines, oldLines, hint)
		if err != nil {
			return &ApplyError{
				Code: CodeNoMatchingContext,
				Path: fp.TargetPath(),
				Err:  fmt.Errorf("hunk %d: %w", i+1, err),
			}
		}
		if e.cfg.OnHunkMatched != nil {
			e.cfg.OnHunkMatched(match.Strategy, match.Confidence)
		}

		doc.splice(match.Position, len(oldLines), newLines)
		delta += len(newLines) - len(oldLines)
	}

	if fp.NoTrailingNewline {
		doc.trailingNewline = false
	}
	return m.WriteFile(fp.NewPath, doc.render())
}

// applySearchReplace applies one normalized SEARCH/REPLACE block.
// Only the first occurrence of the search text is replaced.
func (e *Engine) applySearchReplace(m *Mutator, fp *FilePatch) (ApplyStatus, error) {
	path := fp.TargetPath()
	search := strings.Join(fp.Hunks[0].OldLines(), "\n")
	replace := strings.Join(fp.Hunks[0].NewLines(), "\n")

	if search == "" {
		if m.Exists(path) {
			return StatusFailed, &ApplyError{
				Code: CodeSearchNotFound,
				Path: path,
				Err:  errors.New("empty search text for existing file"),
			}
		}
		content := replace
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		if err := m.WriteFile(path, content); err != nil {
			return StatusFailed, err
		}
		return StatusCreated, nil
	}

	content, err := m.ReadFile(path)
	if err != nil {
		return StatusFailed, err
	}

	idx := strings.Index(content, search)
	if idx == -1 {
		return StatusFailed, &ApplyError{
			Code: CodeSearchNotFound,
			Path: path,
			Err:  fmt.Errorf("%w in %s", ErrSearchNotFound, path),
		}
	}

	updated := content[:idx] + replace + content[idx+len(search):]
	if err := m.WriteFile(path, updated); err != nil {
		return StatusFailed, err
	}
	return StatusModified, nil
}
