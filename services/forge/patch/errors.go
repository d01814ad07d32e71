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
	"fmt"
)

// Syntax error codes. These are stable wire values: clients branch on
// them, so they must never be renamed.
const (
	CodeMissingFileHeaders   = "MISSING_FILE_HEADERS"
	CodeInvalidHunkHeader    = "INVALID_HUNK_HEADER"
	CodeMissingOldFileHeader = "MISSING_OLD_FILE_HEADER"
	CodeInvalidOldFileHeader = "INVALID_OLD_FILE_HEADER"
	CodeInvalidNewFileHeader = "INVALID_NEW_FILE_HEADER"
	CodeInvalidLinePrefix    = "INVALID_LINE_PREFIX"
)

// Application error codes, recorded per file in ApplyResult.
const (
	CodeFileNotFound      = "FILE_NOT_FOUND"
	CodeNoMatchingContext = "NO_MATCHING_CONTEXT"
	CodeInvalidPath       = "INVALID_PATH"
	CodeSearchNotFound    = "SEARCH_NOT_FOUND"
	CodeWriteFailed       = "WRITE_FAILED"
)

// Sentinel errors for errors.Is checks at package boundaries.
var (
	// ErrNoMatch indicates no resolution tier located the hunk's
	// anchor content in the target file.
	ErrNoMatch = errors.New("no matching context found")

	// ErrSearchNotFound indicates a SEARCH block's text does not occur
	// in the target file.
	ErrSearchNotFound = errors.New("search text not found")

	// ErrInvalidPath indicates the target path failed safety checks.
	ErrInvalidPath = errors.New("invalid file path")

	// ErrFileNotFound indicates the patch targets a file that does not
	// exist in the workspace.
	ErrFileNotFound = errors.New("file not found")
)

// SyntaxError is a structural violation of the unified-diff grammar,
// detected before any file is touched.
//
// Message formatting embeds the 1-based line number and the offending
// raw line verbatim so callers can surface the exact location.
type SyntaxError struct {
	// Code is one of the Code* syntax constants.
	Code string

	// Line is the 1-based line number of the offending text.
	Line int

	// Text is the raw offending line, unmodified.
	Text string

	// Detail is the human description of what was expected.
	Detail string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at line %d: '%s'", e.Detail, e.Line, e.Text)
}

// ApplyError is a per-file application failure. It wraps the underlying
// cause so errors.Is against the package sentinels keeps working.
type ApplyError struct {
	// Code is one of the application Code* constants.
	Code string

	// Path is the workspace-relative target path.
	Path string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *ApplyError) Unwrap() error { return e.Err }

// applyFailure builds a failed ApplyResult from an error, mapping known
// sentinels to their stable codes.
func applyFailure(path string, err error) ApplyResult {
	code := CodeWriteFailed
	var ae *ApplyError
	if errors.As(err, &ae) {
		code = ae.Code
	} else {
		switch {
		case errors.Is(err, ErrNoMatch):
			code = CodeNoMatchingContext
		case errors.Is(err, ErrSearchNotFound):
			code = CodeSearchNotFound
		case errors.Is(err, ErrInvalidPath):
			code = CodeInvalidPath
		case errors.Is(err, ErrFileNotFound):
			code = CodeFileNotFound
		}
	}
	return ApplyResult{
		FilePath:     path,
		Status:       StatusFailed,
		ErrorCode:    code,
		ErrorMessage: err.Error(),
	}
}
