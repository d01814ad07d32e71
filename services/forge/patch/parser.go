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
	"regexp"
	"strconv"
	"strings"
)

// SEARCH/REPLACE block markers. Only a line that is exactly one of
// these terminates a section; marker-like strings embedded in content
// are treated as literal text.
const (
	searchMarker  = "<<<<<<< SEARCH"
	divideMarker  = "======="
	replaceMarker = ">>>>>>> REPLACE"
)

// Parser tokenizes raw patch text into a dialect-tagged PatchSet.
//
// # Description
//
// Accepts two grammars: standard unified diff (diff -u, git diff) and
// SEARCH/REPLACE blocks. Dialect is selected per request: the presence
// of unified-diff file headers takes precedence; otherwise SEARCH
// markers select the block dialect. Empty or whitespace-only input
// parses to an empty PatchSet, which is a valid zero-effect request.
//
// # Thread Safety
//
// Safe for concurrent use (stateless).
type Parser struct{}

// NewParser creates a new patch parser.
func NewParser() *Parser {
	return &Parser{}
}

// hunkHeaderRegex matches hunk headers like "@@ -1,5 +1,7 @@ func name".
var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

// Parse tokenizes patch text into a PatchSet.
//
// # Inputs
//
//   - text: Raw patch text in either accepted dialect.
//
// # Outputs
//
//   - *PatchSet: Parsed file patches, empty for blank input.
//   - error: *SyntaxError if the unified dialect is structurally invalid.
//
// Parsing is side-effect-free: no filesystem access occurs here.
func (p *Parser) Parse(text string) (*PatchSet, error) {
	if strings.TrimSpace(text) == "" {
		return &PatchSet{}, nil
	}

	if p.DetectDialect(text) == DialectSearchReplace {
		return p.parseSearchReplace(text), nil
	}

	if err := validateUnified(text); err != nil {
		return nil, err
	}
	return p.parseUnified(text), nil
}

// DetectDialect selects the grammar for the given patch text.
//
// Unified-diff tokens take precedence: if a file-header pair is present
// the text is treated as a unified diff even if SEARCH markers also
// appear (they could be literal content inside hunks).
func (p *Parser) DetectDialect(text string) Dialect {
	hasSearch := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") || strings.HasPrefix(line, "@@") {
			return DialectUnified
		}
		if line == searchMarker {
			hasSearch = true
		}
	}
	if hasSearch {
		return DialectSearchReplace
	}
	return DialectUnified
}

// parseUnified builds the PatchSet from validated unified-diff text.
// Structural errors were already rejected by validateUnified, so this
// pass can be a straight-line scan.
func (p *Parser) parseUnified(text string) *PatchSet {
	set := &PatchSet{}
	var current *FilePatch
	var hunk *Hunk

	flushHunk := func() {
		if current != nil && hunk != nil {
			current.Hunks = append(current.Hunks, *hunk)
		}
		hunk = nil
	}
	flushFile := func() {
		flushHunk()
		if current != nil {
			set.Files = append(set.Files, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "diff "):
			flushFile()

		case strings.HasPrefix(line, "--- ") && hunkExhausted(hunk):
			flushFile()
			current = &FilePatch{Dialect: DialectUnified, OldPath: parseHeaderPath(line[4:])}

		case strings.HasPrefix(line, "+++ ") && current != nil && hunkExhausted(hunk):
			flushHunk()
			current.NewPath = parseHeaderPath(line[4:])

		case strings.HasPrefix(line, "@@") && hunkExhausted(hunk):
			flushHunk()
			hunk = parseHunkHeader(line)

		case hunk != nil:
			op, ok := parseLineOp(line)
			if !ok {
				continue
			}
			if op.Kind == LineNoNewline {
				// The marker qualifies the preceding line. Only a
				// new-side line means the patched file must end
				// without a newline.
				if k := len(hunk.Lines); k > 0 {
					last := hunk.Lines[k-1].Kind
					if last == LineAdd || last == LineContext {
						current.NoTrailingNewline = true
					}
				}
				continue
			}
			if hunkExhausted(hunk) {
				// The hunk already consumed every line its header
				// declared. Whatever follows is a separator, most
				// commonly the empty string that splitting
				// newline-terminated text yields, never hunk body.
				continue
			}
			hunk.Lines = append(hunk.Lines, *op)
		}
	}
	flushFile()
	return set
}

// hunkExhausted reports whether the current hunk has consumed all lines
// its header declared. Structural tokens only begin a new section once
// the running hunk is complete, so removed lines that happen to start
// with "--" are never misread as file headers.
func hunkExhausted(h *Hunk) bool {
	if h == nil {
		return true
	}
	oldSeen, newSeen := 0, 0
	for _, l := range h.Lines {
		switch l.Kind {
		case LineContext:
			oldSeen++
			newSeen++
		case LineAdd:
			newSeen++
		case LineRemove:
			oldSeen++
		}
	}
	return oldSeen >= h.OldCount && newSeen >= h.NewCount
}

// parseLineOp classifies one hunk body line.
func parseLineOp(line string) (*LineOp, bool) {
	if line == "" {
		// Trailing-whitespace-stripped context line.
		return &LineOp{Kind: LineContext, Text: ""}, true
	}
	switch line[0] {
	case ' ':
		return &LineOp{Kind: LineContext, Text: line[1:]}, true
	case '+':
		return &LineOp{Kind: LineAdd, Text: line[1:]}, true
	case '-':
		return &LineOp{Kind: LineRemove, Text: line[1:]}, true
	case '\\':
		return &LineOp{Kind: LineNoNewline, Text: line}, true
	default:
		return nil, false
	}
}

// parseHeaderPath extracts the file path from a "--- " / "+++ " header
// remainder, stripping git's a/ b/ prefixes and timestamp suffixes.
func parseHeaderPath(rest string) string {
	path := rest
	if idx := strings.Index(path, "\t"); idx != -1 {
		path = path[:idx]
	}
	path = strings.TrimSpace(path)
	if path == DevNull {
		return path
	}
	path = strings.TrimPrefix(path, "a/")
	path = strings.TrimPrefix(path, "b/")
	return path
}

// parseHunkHeader parses a validated hunk header line.
func parseHunkHeader(line string) *Hunk {
	matches := hunkHeaderRegex.FindStringSubmatch(line)
	if matches == nil {
		return nil
	}

	hunk := &Hunk{OldCount: 1, NewCount: 1}
	hunk.OldStart, _ = strconv.Atoi(matches[1])
	if matches[2] != "" {
		hunk.OldCount, _ = strconv.Atoi(matches[2])
	}
	hunk.NewStart, _ = strconv.Atoi(matches[3])
	if matches[4] != "" {
		hunk.NewCount, _ = strconv.Atoi(matches[4])
	}
	return hunk
}

// parseSearchReplace parses SEARCH/REPLACE block text.
//
// Grammar per block: a file-path line, then the SEARCH marker, literal
// search lines, the divider, literal replace lines, and the REPLACE
// marker. Blocks are separated by blank lines. Content that does not
// form a complete block is skipped; the block dialect is deliberately
// lenient because callers routinely wrap blocks in prose.
func (p *Parser) parseSearchReplace(text string) *PatchSet {
	set := &PatchSet{}
	lines := strings.Split(text, "\n")

	for i := 0; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		block, next := scanBlock(lines, i)
		if block == nil {
			continue
		}
		set.Files = append(set.Files, normalizeBlock(block))
		i = next
	}
	return set
}

// scanBlock attempts to read one complete SEARCH/REPLACE block starting
// at index i (the file-path line). Returns nil if no complete block
// begins there; next is the index of the block's final marker line.
func scanBlock(lines []string, i int) (block *SearchReplaceBlock, next int) {
	path := strings.TrimSpace(lines[i])
	if path == searchMarker || path == divideMarker || path == replaceMarker {
		return nil, i
	}
	j := i + 1
	if j >= len(lines) || lines[j] != searchMarker {
		return nil, i
	}

	var search []string
	j++
	for ; j < len(lines) && lines[j] != divideMarker; j++ {
		search = append(search, lines[j])
	}
	if j >= len(lines) {
		return nil, i
	}

	var replace []string
	j++
	for ; j < len(lines) && lines[j] != replaceMarker; j++ {
		replace = append(replace, lines[j])
	}
	if j >= len(lines) {
		return nil, i
	}

	return &SearchReplaceBlock{
		FilePath:    path,
		SearchText:  strings.Join(search, "\n"),
		ReplaceText: strings.Join(replace, "\n"),
	}, j
}

// normalizeBlock converts a SEARCH/REPLACE block to the common
// FilePatch representation. The search and replace texts ride in a
// single synthetic hunk; the resolver locates the search text at apply
// time because block patches carry no line numbers.
func normalizeBlock(b *SearchReplaceBlock) FilePatch {
	fp := FilePatch{
		OldPath: b.FilePath,
		NewPath: b.FilePath,
		Dialect: DialectSearchReplace,
	}

	hunk := Hunk{OldStart: 1, NewStart: 1}
	if b.SearchText != "" {
		for _, l := range strings.Split(b.SearchText, "\n") {
			hunk.Lines = append(hunk.Lines, LineOp{Kind: LineRemove, Text: l})
			hunk.OldCount++
		}
	}
	if b.ReplaceText != "" {
		for _, l := range strings.Split(b.ReplaceText, "\n") {
			hunk.Lines = append(hunk.Lines, LineOp{Kind: LineAdd, Text: l})
			hunk.NewCount++
		}
	}
	fp.Hunks = append(fp.Hunks, hunk)
	return fp
}
