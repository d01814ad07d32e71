// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package forge

import (
	"time"

	"github.com/AleutianAI/forge/services/forge/patch"
	"github.com/AleutianAI/forge/services/forge/storage"
	"github.com/AleutianAI/forge/services/forge/workspace"
)

// ApplyPatchRequest is the request body for PATCH /v1/files.
type ApplyPatchRequest struct {
	// WorkspaceName selects the target workspace.
	WorkspaceName string `json:"workspace_name" binding:"required,workspace_name"`

	// Patch is the raw patch text, unified diff or SEARCH/REPLACE.
	// Empty or whitespace-only text is valid and applies nothing.
	Patch string `json:"patch"`
}

// PatchResults summarizes per-file outcomes for the response envelope.
type PatchResults struct {
	// ModifiedFiles lists successfully mutated paths in application order.
	ModifiedFiles []string `json:"modified_files"`

	// TotalFiles is the number of files the patch addressed.
	TotalFiles int `json:"total_files"`

	// SuccessfulFiles is the number of non-failed results.
	SuccessfulFiles int `json:"successful_files"`

	// FileResults carries the full per-file detail.
	FileResults []patch.ApplyResult `json:"file_results,omitempty"`
}

// PatchData is the data payload of an apply-patch response.
type PatchData struct {
	WorkspaceName string `json:"workspace_name,omitempty"`

	// PatchApplied is false only when syntax validation rejected the
	// patch before any file was touched.
	PatchApplied bool `json:"patch_applied"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Results PatchResults `json:"results"`

	// Stats are advisory line counts from the raw diff text.
	Stats patch.PatchStats `json:"stats"`
}

// ApplyPatchResponse is the full envelope for PATCH /v1/files.
type ApplyPatchResponse struct {
	// Status is "success" or "error".
	Status string `json:"status"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Data PatchData `json:"data"`
}

// SuccessResponse is the generic success envelope for the CRUD surface.
type SuccessResponse struct {
	// Status is always "success".
	Status string `json:"status"`

	Data any `json:"data,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// CreateWorkspaceRequest is the request body for POST /v1/workspaces.
type CreateWorkspaceRequest struct {
	Name string `json:"name" binding:"required,workspace_name"`
}

// WorkspaceInfo is the wire form of a workspace metadata record.
type WorkspaceInfo struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	CreatedAt     time.Time  `json:"created_at"`
	LastPatchedAt *time.Time `json:"last_patched_at,omitempty"`
	PatchCount    int64      `json:"patch_count"`
}

// workspaceInfoFromRecord converts a stored record to its wire form.
func workspaceInfoFromRecord(rec *storage.WorkspaceRecord) WorkspaceInfo {
	info := WorkspaceInfo{
		ID:         rec.ID,
		Name:       rec.Name,
		CreatedAt:  rec.CreatedAt,
		PatchCount: rec.PatchCount,
	}
	if !rec.LastPatchedAt.IsZero() {
		t := rec.LastPatchedAt
		info.LastPatchedAt = &t
	}
	return info
}

// FileWriteRequest is the request body for POST and PUT /v1/files.
type FileWriteRequest struct {
	WorkspaceName string `json:"workspace_name" binding:"required,workspace_name"`

	// Path is the workspace-relative file path.
	Path string `json:"path" binding:"required"`

	Content string `json:"content"`
}

// FileData describes one file in CRUD responses.
type FileData struct {
	WorkspaceName string `json:"workspace_name"`
	Path          string `json:"path"`
	Content       string `json:"content,omitempty"`
	Size          int    `json:"size"`
}

// TreeData is the data payload for GET /v1/workspaces/:name/tree.
type TreeData struct {
	WorkspaceName string               `json:"workspace_name"`
	Files         []workspace.FileNode `json:"files"`
}

// HealthResponse is the response for GET /v1/health.
type HealthResponse struct {
	// Status is "healthy".
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`
}

// ReadyResponse is the response for GET /v1/ready.
type ReadyResponse struct {
	// Ready is true if the service is ready to accept requests.
	Ready bool `json:"ready"`

	// WorkspaceCount is the number of known workspaces.
	WorkspaceCount int `json:"workspace_count"`
}
