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

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/unicode/norm"
)

// FuzzyThreshold is the minimum similarity ratio at which a fuzzy
// sliding-window candidate is accepted. Candidates scoring below it
// fail resolution with a no-matching-context error.
const FuzzyThreshold = 0.70

// Matcher locates a hunk's old-side content within file content.
//
// # Description
//
// Resolution runs a strategy ladder, cheapest first:
//
//  1. Exact match at the declared position, adjusted by the cumulative
//     line delta of previously applied hunks in the same file.
//  2. Exact match anywhere in the file (full scan).
//  3. Whitespace-normalized match: whitespace runs collapsed, edges
//     trimmed, Unicode NFC-normalized.
//  4. Fuzzy match: every window of equal line count is scored by
//     similarity; the best window wins if it scores >= FuzzyThreshold.
//
// # Thread Safety
//
// Safe for concurrent use (stateless).
type Matcher struct{}

// NewMatcher creates a new hunk matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match locates oldLines within fileLines.
//
// # Inputs
//
//   - fileLines: Target file content split into lines.
//   - oldLines: The hunk's old-side view (context + removed lines).
//   - hint: 0-based expected position, already delta-adjusted.
//
// # Outputs
//
//   - *MatchResult: Strategy, position, and confidence of the match.
//   - error: ErrNoMatch if no tier produced an acceptable candidate.
func (m *Matcher) Match(fileLines, oldLines []string, hint int) (*MatchResult, error) {
	if len(oldLines) == 0 {
		// Pure insertion: anchors at the hint by definition.
		pos := clamp(hint, 0, len(fileLines))
		return &MatchResult{Strategy: MatchExact, Position: pos, Confidence: 1.0}, nil
	}

	if pos, ok := m.exactAt(fileLines, oldLines, hint); ok {
		return &MatchResult{Strategy: MatchExact, Position: pos, Confidence: 1.0}, nil
	}

	if pos, ok := m.exactScan(fileLines, oldLines); ok {
		return &MatchResult{Strategy: MatchExact, Position: pos, Confidence: 1.0}, nil
	}

	if pos, ok := m.normalizedScan(fileLines, oldLines); ok {
		return &MatchResult{Strategy: MatchWhitespaceNormalized, Position: pos, Confidence: 1.0}, nil
	}

	if pos, score, ok := m.fuzzyScan(fileLines, oldLines); ok {
		return &MatchResult{Strategy: MatchFuzzy, Position: pos, Confidence: score}, nil
	}

	return nil, ErrNoMatch
}

// exactAt checks for a byte-for-byte match at the hinted position.
func (m *Matcher) exactAt(fileLines, oldLines []string, hint int) (int, bool) {
	if hint < 0 || hint+len(oldLines) > len(fileLines) {
		return 0, false
	}
	for i, want := range oldLines {
		if fileLines[hint+i] != want {
			return 0, false
		}
	}
	return hint, true
}

// exactScan searches the whole file for a byte-for-byte match.
func (m *Matcher) exactScan(fileLines, oldLines []string) (int, bool) {
	for pos := 0; pos+len(oldLines) <= len(fileLines); pos++ {
		if pos, ok := m.exactAt(fileLines, oldLines, pos); ok {
			return pos, true
		}
	}
	return 0, false
}

// normalizedScan searches with whitespace-insensitive comparison.
func (m *Matcher) normalizedScan(fileLines, oldLines []string) (int, bool) {
	want := make([]string, len(oldLines))
	for i, l := range oldLines {
		want[i] = normalizeLine(l)
	}
	got := make([]string, len(fileLines))
	for i, l := range fileLines {
		got[i] = normalizeLine(l)
	}

	for pos := 0; pos+len(want) <= len(got); pos++ {
		match := true
		for i := range want {
			if got[pos+i] != want[i] {
				match = false
				break
			}
		}
		if match {
			return pos, true
		}
	}
	return 0, false
}

// fuzzyScan scores every equal-sized window and returns the best one
// if it clears FuzzyThreshold. Ties keep the earliest window so
// resolution stays deterministic.
func (m *Matcher) fuzzyScan(fileLines, oldLines []string) (int, float64, bool) {
	want := strings.Join(oldLines, "\n")
	bestPos, bestScore := -1, 0.0

	for pos := 0; pos+len(oldLines) <= len(fileLines); pos++ {
		window := strings.Join(fileLines[pos:pos+len(oldLines)], "\n")
		sm := difflib.NewMatcher(
			difflib.SplitLines(want+"\n"),
			difflib.SplitLines(window+"\n"),
		)
		if score := sm.Ratio(); score > bestScore {
			bestPos, bestScore = pos, score
		}
	}

	if bestPos < 0 || bestScore < FuzzyThreshold {
		return 0, 0, false
	}
	return bestPos, bestScore, true
}

// normalizeLine collapses whitespace runs to a single space, trims the
// edges, and applies Unicode NFC so visually identical sequences with
// different codepoint compositions still compare equal.
func normalizeLine(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
