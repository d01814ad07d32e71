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
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/forge/services/forge/patch"
	"github.com/AleutianAI/forge/services/forge/workspace"
)

// Version is the service version reported by the health endpoint.
const Version = "0.1.0"

// registerValidations installs the workspace_name binding rule once.
var registerValidations sync.Once

// Handlers contains the HTTP handlers for the forge service.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the forge service.
//
// # Inputs
//
//	svc - The forge service. Must not be nil.
//
// # Outputs
//
//	*Handlers - The configured handlers.
func NewHandlers(svc *Service) *Handlers {
	registerValidations.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterValidation("workspace_name", func(fl validator.FieldLevel) bool {
				return workspace.ValidName(fl.Field().String())
			})
		}
	})
	return &Handlers{svc: svc}
}

// HandleApplyPatch handles PATCH /v1/files.
//
// Description:
//
//	Applies patch text to a workspace. Syntax errors reject the whole
//	request with 400 before any file is touched; application errors
//	are reported per file inside a 200 response, so partial success
//	is visible to the caller.
//
// Request Body:
//
//	ApplyPatchRequest
//
// Response:
//
//	200 OK: ApplyPatchResponse (patch applied, possibly with per-file failures)
//	400 Bad Request: ApplyPatchResponse (syntax error) or ErrorResponse
//	404 Not Found: Workspace does not exist
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleApplyPatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleApplyPatch")

	var req ApplyPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	logger.Info("Applying patch",
		"workspace", req.WorkspaceName,
		"patch_len", len(req.Patch))

	report, err := h.svc.ApplyPatch(c.Request.Context(), req.WorkspaceName, req.Patch)
	if err != nil {
		status, code := mapWorkspaceError(err)
		logger.Warn("Patch request rejected", "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	if !report.PatchApplied {
		logger.Warn("Patch rejected by syntax validation",
			"error_code", report.ErrorCode)
		c.JSON(http.StatusBadRequest, ApplyPatchResponse{
			Status:       "error",
			ErrorCode:    report.ErrorCode,
			ErrorMessage: report.ErrorMessage,
			Data: PatchData{
				PatchApplied: false,
				ErrorCode:    report.ErrorCode,
				ErrorMessage: report.ErrorMessage,
				Results:      PatchResults{ModifiedFiles: []string{}},
			},
		})
		return
	}

	logger.Info("Patch applied",
		"workspace", req.WorkspaceName,
		"total_files", len(report.Results),
		"successful_files", report.SuccessfulFiles())

	c.JSON(http.StatusOK, ApplyPatchResponse{
		Status: "success",
		Data: PatchData{
			WorkspaceName: req.WorkspaceName,
			PatchApplied:  true,
			Results: PatchResults{
				ModifiedFiles:   report.ModifiedFiles(),
				TotalFiles:      len(report.Results),
				SuccessfulFiles: report.SuccessfulFiles(),
				FileResults:     report.Results,
			},
			Stats: report.Stats,
		},
	})
}

// HandleCreateWorkspace handles POST /v1/workspaces.
//
// Response:
//
//	201 Created: SuccessResponse with WorkspaceInfo
//	400 Bad Request: Invalid workspace name
//	409 Conflict: Workspace already exists
func (h *Handlers) HandleCreateWorkspace(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCreateWorkspace")

	var req CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	rec, err := h.svc.CreateWorkspace(c.Request.Context(), req.Name)
	if err != nil {
		status, code := mapWorkspaceError(err)
		logger.Warn("Workspace creation failed", "name", req.Name, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Workspace created", "name", rec.Name, "id", rec.ID)
	c.JSON(http.StatusCreated, SuccessResponse{
		Status: "success",
		Data:   workspaceInfoFromRecord(rec),
	})
}

// HandleListWorkspaces handles GET /v1/workspaces.
func (h *Handlers) HandleListWorkspaces(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListWorkspaces")

	recs, err := h.svc.ListWorkspaces(c.Request.Context())
	if err != nil {
		logger.Error("Workspace listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "LIST_FAILED",
		})
		return
	}

	infos := make([]WorkspaceInfo, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, workspaceInfoFromRecord(rec))
	}
	c.JSON(http.StatusOK, SuccessResponse{Status: "success", Data: infos})
}

// HandleDeleteWorkspace handles DELETE /v1/workspaces/:name.
func (h *Handlers) HandleDeleteWorkspace(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteWorkspace")

	name := c.Param("name")
	if err := h.svc.DeleteWorkspace(c.Request.Context(), name); err != nil {
		status, code := mapWorkspaceError(err)
		logger.Warn("Workspace deletion failed", "name", name, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Workspace deleted", "name", name)
	c.JSON(http.StatusOK, SuccessResponse{
		Status: "success",
		Data:   gin.H{"workspace_name": name},
	})
}

// HandleTree handles GET /v1/workspaces/:name/tree.
func (h *Handlers) HandleTree(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleTree")

	name := c.Param("name")
	nodes, err := h.svc.Tree(name)
	if err != nil {
		status, code := mapWorkspaceError(err)
		logger.Warn("Tree listing failed", "name", name, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Status: "success",
		Data:   TreeData{WorkspaceName: name, Files: nodes},
	})
}

// HandleReindex handles POST /v1/workspaces/:name/reindex.
//
// Description:
//
//	Emits a synthetic modified event for every file in the workspace.
//	The indexing collaborator uses this to rebuild its view after
//	dropped notifications or bulk external edits.
func (h *Handlers) HandleReindex(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleReindex")

	name := c.Param("name")
	if err := h.svc.Reindex(c.Request.Context(), name); err != nil {
		status, code := mapWorkspaceError(err)
		logger.Warn("Reindex failed", "name", name, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Workspace reindex triggered", "name", name)
	c.JSON(http.StatusOK, SuccessResponse{
		Status: "success",
		Data:   gin.H{"workspace_name": name},
	})
}

// HandleCreateFile handles POST /v1/files and PUT /v1/files.
//
// Description:
//
//	Writes one file inside a workspace, creating parent directories
//	as needed. Both verbs upsert; the response distinguishes created
//	from modified.
//
// Response:
//
//	201 Created: File did not previously exist
//	200 OK: Existing file replaced
//	400 Bad Request: Unsafe path or invalid body
//	404 Not Found: Workspace does not exist
func (h *Handlers) HandleCreateFile(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCreateFile")

	var req FileWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	created, err := h.svc.WriteFile(c.Request.Context(), req.WorkspaceName, req.Path, req.Content)
	if err != nil {
		status, code := mapFileError(err)
		logger.Warn("File write failed",
			"workspace", req.WorkspaceName, "path", req.Path, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	httpStatus := http.StatusOK
	if created {
		httpStatus = http.StatusCreated
	}
	logger.Info("File written",
		"workspace", req.WorkspaceName, "path", req.Path, "created", created)
	c.JSON(httpStatus, SuccessResponse{
		Status: "success",
		Data: FileData{
			WorkspaceName: req.WorkspaceName,
			Path:          req.Path,
			Size:          len(req.Content),
		},
	})
}

// HandleReadFile handles GET /v1/files/:workspace/*path.
func (h *Handlers) HandleReadFile(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleReadFile")

	name := c.Param("workspace")
	rel := strings.TrimPrefix(c.Param("path"), "/")

	content, err := h.svc.ReadFile(c.Request.Context(), name, rel)
	if err != nil {
		status, code := mapFileError(err)
		logger.Warn("File read failed",
			"workspace", name, "path", rel, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Status: "success",
		Data: FileData{
			WorkspaceName: name,
			Path:          rel,
			Content:       content,
			Size:          len(content),
		},
	})
}

// HandleDeleteFile handles DELETE /v1/files/:workspace/*path.
func (h *Handlers) HandleDeleteFile(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteFile")

	name := c.Param("workspace")
	rel := strings.TrimPrefix(c.Param("path"), "/")

	if err := h.svc.DeleteFile(c.Request.Context(), name, rel); err != nil {
		status, code := mapFileError(err)
		logger.Warn("File deletion failed",
			"workspace", name, "path", rel, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("File deleted", "workspace", name, "path", rel)
	c.JSON(http.StatusOK, SuccessResponse{
		Status: "success",
		Data:   gin.H{"workspace_name": name, "path": rel},
	})
}

// HandleHealth handles GET /v1/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: Version,
	})
}

// HandleReady handles GET /v1/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	recs, err := h.svc.ListWorkspaces(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{Ready: false})
		return
	}
	c.JSON(http.StatusOK, ReadyResponse{
		Ready:          true,
		WorkspaceCount: len(recs),
	})
}

// mapFileError classifies file CRUD errors for the HTTP boundary.
func mapFileError(err error) (int, string) {
	switch {
	case errors.Is(err, patch.ErrInvalidPath):
		return http.StatusBadRequest, patch.CodeInvalidPath
	case errors.Is(err, patch.ErrFileNotFound):
		return http.StatusNotFound, patch.CodeFileNotFound
	default:
		return mapWorkspaceError(err)
	}
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
