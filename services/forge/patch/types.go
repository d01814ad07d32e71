// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch implements the patch application engine: parsing of the
// two accepted patch dialects, structural validation, content matching,
// and atomic per-file mutation.
package patch

import (
	"encoding/json"
	"fmt"
)

// Dialect identifies which patch grammar a file block was written in.
type Dialect int

const (
	// DialectUnified is the standard unified diff format (diff -u, git diff).
	DialectUnified Dialect = iota

	// DialectSearchReplace is the block format consisting of a file path
	// line followed by SEARCH/REPLACE marker-delimited sections.
	DialectSearchReplace
)

// String returns the wire name of the dialect.
func (d Dialect) String() string {
	switch d {
	case DialectUnified:
		return "unified"
	case DialectSearchReplace:
		return "search_replace"
	default:
		return "unknown"
	}
}

// LineKind classifies a single line inside a hunk body.
type LineKind int

const (
	// LineContext is an unchanged line present on both sides.
	LineContext LineKind = iota

	// LineAdd is a line present only on the new side.
	LineAdd

	// LineRemove is a line present only on the old side.
	LineRemove

	// LineNoNewline is the "\ No newline at end of file" marker.
	LineNoNewline
)

// LineOp is a single hunk body line with its classification.
// Text carries the content with the prefix character stripped.
type LineOp struct {
	Kind LineKind
	Text string
}

// Hunk is one contiguous change region within a FilePatch.
//
// OldStart/NewStart are 1-based line numbers as declared in the hunk
// header. Counts are the declared extents; the resolver treats them as
// hints, never as authoritative, because real-world patches routinely
// carry stale counts.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []LineOp
}

// OldLines returns the old-side view of the hunk (context + removed).
func (h *Hunk) OldLines() []string {
	out := make([]string, 0, len(h.Lines))
	for _, l := range h.Lines {
		if l.Kind == LineContext || l.Kind == LineRemove {
			out = append(out, l.Text)
		}
	}
	return out
}

// NewLines returns the new-side view of the hunk (context + added).
func (h *Hunk) NewLines() []string {
	out := make([]string, 0, len(h.Lines))
	for _, l := range h.Lines {
		if l.Kind == LineContext || l.Kind == LineAdd {
			out = append(out, l.Text)
		}
	}
	return out
}

// DevNull is the sentinel path marking file creation (as old_path)
// or deletion (as new_path) in the unified dialect.
const DevNull = "/dev/null"

// FilePatch is the set of changes targeting a single file.
type FilePatch struct {
	// OldPath is the pre-patch path. DevNull signals file creation.
	OldPath string

	// NewPath is the post-patch path. DevNull signals file deletion.
	NewPath string

	// Dialect records which grammar produced this block.
	Dialect Dialect

	// Hunks are ordered by ascending OldStart and never overlap.
	Hunks []Hunk

	// NoTrailingNewline is set when the new side ends with the
	// "\ No newline at end of file" marker.
	NoTrailingNewline bool
}

// TargetPath returns the workspace-relative path the patch acts on.
func (fp *FilePatch) TargetPath() string {
	if fp.NewPath != "" && fp.NewPath != DevNull {
		return fp.NewPath
	}
	return fp.OldPath
}

// IsCreate reports whether the patch creates a new file.
func (fp *FilePatch) IsCreate() bool { return fp.OldPath == DevNull }

// IsDelete reports whether the patch deletes the file.
func (fp *FilePatch) IsDelete() bool { return fp.NewPath == DevNull }

// PatchSet is the ordered result of parsing one patch request.
type PatchSet struct {
	Files []FilePatch
}

// SearchReplaceBlock is one parsed SEARCH/REPLACE section before it is
// normalized into an equivalent FilePatch.
type SearchReplaceBlock struct {
	FilePath    string
	SearchText  string
	ReplaceText string
}

// MatchStrategy identifies which resolution tier located a hunk.
type MatchStrategy int

const (
	// MatchExact means the old-side lines matched byte-for-byte, either
	// at the declared position or elsewhere in the file.
	MatchExact MatchStrategy = iota

	// MatchWhitespaceNormalized means the lines matched after collapsing
	// whitespace runs and Unicode NFC normalization.
	MatchWhitespaceNormalized

	// MatchFuzzy means a sliding-window similarity search located the
	// best candidate above the acceptance threshold.
	MatchFuzzy
)

// String returns the metric label for the strategy.
func (s MatchStrategy) String() string {
	switch s {
	case MatchExact:
		return "exact"
	case MatchWhitespaceNormalized:
		return "whitespace_normalized"
	case MatchFuzzy:
		return "fuzzy"
	default:
		return "unknown"
	}
}

// MatchResult describes where and how a hunk's anchor content was found.
type MatchResult struct {
	// Strategy is the tier that produced the match.
	Strategy MatchStrategy

	// Position is the 0-based line index where the old-side begins.
	Position int

	// Confidence is 1.0 for exact and normalized matches, and the
	// similarity ratio for fuzzy matches.
	Confidence float64
}

// ApplyStatus is the per-file outcome of patch application.
type ApplyStatus int

const (
	StatusCreated ApplyStatus = iota
	StatusModified
	StatusDeleted
	StatusFailed
)

// String returns the wire name of the status.
func (s ApplyStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusModified:
		return "modified"
	case StatusDeleted:
		return "deleted"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the status as its wire name.
func (s ApplyStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a wire name back into its status constant.
func (s *ApplyStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "created":
		*s = StatusCreated
	case "modified":
		*s = StatusModified
	case "deleted":
		*s = StatusDeleted
	case "failed":
		*s = StatusFailed
	default:
		return fmt.Errorf("unknown apply status %q", name)
	}
	return nil
}

// ApplyResult is the outcome for a single target file.
type ApplyResult struct {
	FilePath     string      `json:"file_path"`
	Status       ApplyStatus `json:"status"`
	ErrorCode    string      `json:"error_code,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// Succeeded reports whether the file was created, modified, or deleted.
func (r *ApplyResult) Succeeded() bool { return r.Status != StatusFailed }

// PatchStats carries advisory statistics computed from the raw unified
// diff text. Stats are best-effort and never influence application.
type PatchStats struct {
	FilesAffected int `json:"files_affected"`
	LinesAdded    int `json:"lines_added"`
	LinesRemoved  int `json:"lines_removed"`
}

// PatchApplyReport is the top-level outcome of one patch request.
//
// PatchApplied is true whenever syntax validation passed and application
// was attempted, even if every file failed. Syntax errors leave it false
// with ErrorCode/ErrorMessage set and Results empty.
type PatchApplyReport struct {
	PatchApplied bool          `json:"patch_applied"`
	Results      []ApplyResult `json:"results"`
	Stats        PatchStats    `json:"stats"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// ModifiedFiles returns the paths of all files that were successfully
// created, modified, or deleted, in application order.
func (r *PatchApplyReport) ModifiedFiles() []string {
	out := make([]string, 0, len(r.Results))
	for i := range r.Results {
		if r.Results[i].Succeeded() {
			out = append(out, r.Results[i].FilePath)
		}
	}
	return out
}

// SuccessfulFiles returns the count of non-failed results.
func (r *PatchApplyReport) SuccessfulFiles() int {
	n := 0
	for i := range r.Results {
		if r.Results[i].Succeeded() {
			n++
		}
	}
	return n
}
