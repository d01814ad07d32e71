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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/forge/services/forge/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		BaseDir: filepath.Join(t.TempDir(), "workspaces"),
		Store:   storage.InMemoryConfig(),
		Watch:   false,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func setupTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(svc, false)
}

func postJSON(t *testing.T, router *gin.Engine, method, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	req, _ := http.NewRequest(method, url, bytes.NewBuffer(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlers_HandleCreateWorkspace(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	w := postJSON(t, router, "POST", "/v1/workspaces", CreateWorkspaceRequest{Name: "alpha"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var resp struct {
		Status string        `json:"status"`
		Data   WorkspaceInfo `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Status != "success" {
		t.Errorf("expected status success, got %q", resp.Status)
	}
	if resp.Data.Name != "alpha" || resp.Data.ID == "" {
		t.Errorf("unexpected workspace data: %+v", resp.Data)
	}

	// Duplicate creation conflicts.
	w = postJSON(t, router, "POST", "/v1/workspaces", CreateWorkspaceRequest{Name: "alpha"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d", http.StatusConflict, w.Code)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "WORKSPACE_EXISTS" {
		t.Errorf("expected code WORKSPACE_EXISTS, got %q", errResp.Code)
	}
}

func TestHandlers_HandleCreateWorkspace_InvalidName(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	// Slashes fail the workspace_name binding rule.
	w := postJSON(t, router, "POST", "/v1/workspaces", CreateWorkspaceRequest{Name: "bad/name"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Code != "INVALID_REQUEST" {
		t.Errorf("expected code INVALID_REQUEST, got %q", resp.Code)
	}
}

func TestHandlers_HandleApplyPatch(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)
	ctx := context.Background()

	if _, err := svc.CreateWorkspace(ctx, "proj"); err != nil {
		t.Fatalf("CreateWorkspace returned error: %v", err)
	}
	if _, err := svc.WriteFile(ctx, "proj", "hello.txt", "old line\n"); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}

	patchText := "--- a/hello.txt\n" +
		"+++ b/hello.txt\n" +
		"@@ -1,1 +1,1 @@\n" +
		"-old line\n" +
		"+new line\n"

	w := postJSON(t, router, "PATCH", "/v1/files", ApplyPatchRequest{
		WorkspaceName: "proj",
		Patch:         patchText,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp ApplyPatchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Status != "success" {
		t.Errorf("expected status success, got %q", resp.Status)
	}
	if !resp.Data.PatchApplied {
		t.Error("expected patch_applied true")
	}
	if resp.Data.Results.TotalFiles != 1 || resp.Data.Results.SuccessfulFiles != 1 {
		t.Errorf("unexpected results: %+v", resp.Data.Results)
	}
	if len(resp.Data.Results.ModifiedFiles) != 1 || resp.Data.Results.ModifiedFiles[0] != "hello.txt" {
		t.Errorf("modified_files = %v", resp.Data.Results.ModifiedFiles)
	}

	content, err := svc.ReadFile(ctx, "proj", "hello.txt")
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if content != "new line\n" {
		t.Errorf("file content = %q, want %q", content, "new line\n")
	}
}

func TestHandlers_HandleApplyPatch_SyntaxError(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	if _, err := svc.CreateWorkspace(context.Background(), "proj"); err != nil {
		t.Fatalf("CreateWorkspace returned error: %v", err)
	}

	// A hunk header with no file headers before it.
	w := postJSON(t, router, "PATCH", "/v1/files", ApplyPatchRequest{
		WorkspaceName: "proj",
		Patch:         "@@ -1,1 +1,1 @@\n-old\n+new\n",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d: %s", http.StatusBadRequest, w.Code, w.Body.String())
	}

	var resp ApplyPatchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Status != "error" {
		t.Errorf("expected status error, got %q", resp.Status)
	}
	if resp.ErrorCode != "MISSING_FILE_HEADERS" {
		t.Errorf("expected code MISSING_FILE_HEADERS, got %q", resp.ErrorCode)
	}
	if resp.Data.PatchApplied {
		t.Error("expected patch_applied false")
	}
	if len(resp.Data.Results.ModifiedFiles) != 0 {
		t.Errorf("expected no modified files, got %v", resp.Data.Results.ModifiedFiles)
	}
}

func TestHandlers_HandleApplyPatch_WorkspaceNotFound(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	w := postJSON(t, router, "PATCH", "/v1/files", ApplyPatchRequest{
		WorkspaceName: "missing",
		Patch:         "",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Code != "WORKSPACE_NOT_FOUND" {
		t.Errorf("expected code WORKSPACE_NOT_FOUND, got %q", resp.Code)
	}
}

func TestHandlers_HandleApplyPatch_EmptyPatch(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	if _, err := svc.CreateWorkspace(context.Background(), "proj"); err != nil {
		t.Fatalf("CreateWorkspace returned error: %v", err)
	}

	w := postJSON(t, router, "PATCH", "/v1/files", ApplyPatchRequest{
		WorkspaceName: "proj",
		Patch:         "   \n  ",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp ApplyPatchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Status != "success" || !resp.Data.PatchApplied {
		t.Errorf("empty patch should succeed: %+v", resp)
	}
	if resp.Data.Results.TotalFiles != 0 {
		t.Errorf("expected zero files, got %d", resp.Data.Results.TotalFiles)
	}
}

func TestHandlers_FileCRUD(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	if _, err := svc.CreateWorkspace(context.Background(), "proj"); err != nil {
		t.Fatalf("CreateWorkspace returned error: %v", err)
	}

	// Create.
	w := postJSON(t, router, "POST", "/v1/files", FileWriteRequest{
		WorkspaceName: "proj",
		Path:          "src/main.scala",
		Content:       "object Main\n",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	// Upsert over an existing file reports 200.
	w = postJSON(t, router, "PUT", "/v1/files", FileWriteRequest{
		WorkspaceName: "proj",
		Path:          "src/main.scala",
		Content:       "object Main extends App\n",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected status %d, got %d", http.StatusOK, w.Code)
	}

	// Read.
	req, _ := http.NewRequest("GET", "/v1/files/proj/src/main.scala", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("read: expected status %d, got %d", http.StatusOK, w.Code)
	}
	var readResp struct {
		Status string   `json:"status"`
		Data   FileData `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &readResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if readResp.Data.Content != "object Main extends App\n" {
		t.Errorf("content = %q", readResp.Data.Content)
	}

	// Delete.
	req, _ = http.NewRequest("DELETE", "/v1/files/proj/src/main.scala", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected status %d, got %d", http.StatusOK, w.Code)
	}

	// Read after delete.
	req, _ = http.NewRequest("GET", "/v1/files/proj/src/main.scala", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("read after delete: expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "FILE_NOT_FOUND" {
		t.Errorf("expected code FILE_NOT_FOUND, got %q", errResp.Code)
	}
}

func TestHandlers_HandleCreateFile_UnsafePath(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	if _, err := svc.CreateWorkspace(context.Background(), "proj"); err != nil {
		t.Fatalf("CreateWorkspace returned error: %v", err)
	}

	w := postJSON(t, router, "POST", "/v1/files", FileWriteRequest{
		WorkspaceName: "proj",
		Path:          "../escape.txt",
		Content:       "nope",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d: %s", http.StatusBadRequest, w.Code, w.Body.String())
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Code != "INVALID_PATH" {
		t.Errorf("expected code INVALID_PATH, got %q", resp.Code)
	}
}

func TestHandlers_HandleTree(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)
	ctx := context.Background()

	if _, err := svc.CreateWorkspace(ctx, "proj"); err != nil {
		t.Fatalf("CreateWorkspace returned error: %v", err)
	}
	if _, err := svc.WriteFile(ctx, "proj", "src/a.scala", "a\n"); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	if _, err := svc.WriteFile(ctx, "proj", "build.sbt", "name := \"x\"\n"); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}

	req, _ := http.NewRequest("GET", "/v1/workspaces/proj/tree", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp struct {
		Status string   `json:"status"`
		Data   TreeData `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	paths := make([]string, len(resp.Data.Files))
	for i, f := range resp.Data.Files {
		paths[i] = f.Path
	}
	want := []string{"build.sbt", "src", "src/a.scala"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestHandlers_HandleDeleteWorkspace(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	if _, err := svc.CreateWorkspace(context.Background(), "gone"); err != nil {
		t.Fatalf("CreateWorkspace returned error: %v", err)
	}

	req, _ := http.NewRequest("DELETE", "/v1/workspaces/gone", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	// Deleting again is a 404.
	req, _ = http.NewRequest("DELETE", "/v1/workspaces/gone", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandlers_HealthAndReady(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	req, _ := http.NewRequest("GET", "/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health: expected status %d, got %d", http.StatusOK, w.Code)
	}
	var health HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("status = %q", health.Status)
	}

	req, _ = http.NewRequest("GET", "/v1/ready", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("ready: expected status %d, got %d", http.StatusOK, w.Code)
	}
	var ready ReadyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &ready); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !ready.Ready {
		t.Error("expected ready true")
	}
}

func TestHandlers_MetricsEndpoint(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	req, _ := http.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}
