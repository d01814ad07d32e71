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
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Validator checks structural well-formedness of unified-diff text.
//
// # Description
//
// Runs a fail-fast, line-by-line scan over the patch shape: file header
// pairing, hunk header format, and body line prefixes. It never reads
// the target files, so it catches only grammar violations, not content
// mismatches. Declared hunk counts are treated as hints: stale counts
// are common in model-generated patches and are not a shape error.
//
// # Thread Safety
//
// Safe for concurrent use (stateless).
type Validator struct{}

// NewValidator creates a new syntax validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the unified-diff shape of the given text.
//
// # Outputs
//
//   - error: nil if well-formed, otherwise the first *SyntaxError
//     encountered, carrying a stable code, the 1-based line number,
//     and the offending raw text.
func (v *Validator) Validate(text string) error {
	return validateUnified(text)
}

// validator scan states.
const (
	vsPreamble = iota // before any file header pair
	vsOldSeen         // saw "--- ", expecting "+++ "
	vsBody            // inside a file block
)

// gitMetadataPrefixes are lines git interleaves between file blocks.
var gitMetadataPrefixes = []string{
	"diff ", "index ", "new file mode", "deleted file mode",
	"old mode", "new mode", "similarity index", "dissimilarity index",
	"rename from", "rename to", "copy from", "copy to", "Binary files",
}

func isGitMetadata(line string) bool {
	for _, p := range gitMetadataPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// validateUnified is the shape scan behind Validator.Validate.
func validateUnified(text string) error {
	state := vsPreamble
	oldRemain, newRemain := 0, 0
	oldHeaderLine, oldHeaderNum := "", 0

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		n := i + 1

		// Body lines shield structural lookalikes while the declared
		// hunk extent is still being consumed.
		if state == vsBody && (oldRemain > 0 || newRemain > 0) {
			if line == "" {
				oldRemain--
				newRemain--
				continue
			}
			switch line[0] {
			case ' ':
				oldRemain--
				newRemain--
			case '+':
				newRemain--
			case '-':
				oldRemain--
			case '\\':
				// no-newline marker, consumes nothing
			default:
				return &SyntaxError{
					Code: CodeInvalidLinePrefix, Line: n, Text: line,
					Detail: "invalid line prefix in hunk body",
				}
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "--- "):
			if state == vsOldSeen {
				return &SyntaxError{
					Code: CodeInvalidNewFileHeader, Line: n, Text: line,
					Detail: "expected new file header",
				}
			}
			if strings.TrimSpace(line[4:]) == "" {
				return &SyntaxError{
					Code: CodeInvalidOldFileHeader, Line: n, Text: line,
					Detail: "invalid old file header",
				}
			}
			state = vsOldSeen
			oldHeaderLine, oldHeaderNum = line, n

		case strings.HasPrefix(line, "+++ "):
			if state != vsOldSeen {
				return &SyntaxError{
					Code: CodeMissingOldFileHeader, Line: n, Text: line,
					Detail: "new file header without old file header",
				}
			}
			if strings.TrimSpace(line[4:]) == "" {
				return &SyntaxError{
					Code: CodeInvalidNewFileHeader, Line: n, Text: line,
					Detail: "invalid new file header",
				}
			}
			state = vsBody

		case strings.HasPrefix(line, "@@"):
			switch state {
			case vsPreamble:
				return &SyntaxError{
					Code: CodeMissingFileHeaders, Line: n, Text: line,
					Detail: "hunk header without file headers",
				}
			case vsOldSeen:
				return &SyntaxError{
					Code: CodeInvalidNewFileHeader, Line: n, Text: line,
					Detail: "expected new file header",
				}
			}
			m := hunkHeaderRegex.FindStringSubmatch(line)
			if m == nil {
				return &SyntaxError{
					Code: CodeInvalidHunkHeader, Line: n, Text: line,
					Detail: "invalid hunk header",
				}
			}
			h := parseHunkHeader(line)
			oldRemain, newRemain = h.OldCount, h.NewCount

		case state == vsOldSeen:
			return &SyntaxError{
				Code: CodeInvalidNewFileHeader, Line: n, Text: line,
				Detail: "expected new file header",
			}

		case state == vsBody:
			if line == "" || isGitMetadata(line) {
				continue
			}
			// Overflow past a stale declared count is tolerated for
			// the standard prefixes.
			switch line[0] {
			case ' ', '+', '-', '\\':
				continue
			}
			return &SyntaxError{
				Code: CodeInvalidLinePrefix, Line: n, Text: line,
				Detail: "invalid line prefix in hunk body",
			}
		}
	}

	if state == vsOldSeen {
		return &SyntaxError{
			Code: CodeInvalidNewFileHeader, Line: oldHeaderNum, Text: oldHeaderLine,
			Detail: "missing new file header after old file header",
		}
	}
	return nil
}

// ComputeStats derives advisory statistics from unified-diff text.
//
// # Description
//
// Runs the go-diff multi-file reader over the raw text and counts
// affected files and added/removed lines. Stats are best-effort: if
// go-diff rejects text our own validator accepted, zero stats are
// returned and application proceeds unaffected.
func ComputeStats(text string) PatchStats {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(text)).ReadAllFiles()
	if err != nil {
		return PatchStats{}
	}

	stats := PatchStats{FilesAffected: len(fileDiffs)}
	for _, fd := range fileDiffs {
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
					stats.LinesAdded++
				} else if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
					stats.LinesRemoved++
				}
			}
		}
	}
	return stats
}
