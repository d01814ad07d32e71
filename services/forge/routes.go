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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all forge routes with the router group.
//
// Description:
//
//	Registers the /v1 endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	PATCH  /v1/files - Apply a patch to a workspace
//	POST   /v1/files - Create a file
//	PUT    /v1/files - Update a file (upsert)
//	GET    /v1/files/:workspace/*path - Read a file
//	DELETE /v1/files/:workspace/*path - Delete a file
//	POST   /v1/workspaces - Create a workspace
//	GET    /v1/workspaces - List workspaces
//	DELETE /v1/workspaces/:name - Delete a workspace
//	GET    /v1/workspaces/:name/tree - List the workspace file tree
//	POST   /v1/workspaces/:name/reindex - Rebuild index notifications
//	GET    /v1/health - Health check
//	GET    /v1/ready - Readiness check
//
// Example:
//
//	service, _ := forge.NewService(forge.DefaultServiceConfig("./data"))
//	handlers := forge.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	forge.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	// Patch application and file CRUD
	files := rg.Group("/files")
	{
		files.PATCH("", handlers.HandleApplyPatch)
		files.POST("", handlers.HandleCreateFile)
		files.PUT("", handlers.HandleCreateFile)
		files.GET("/:workspace/*path", handlers.HandleReadFile)
		files.DELETE("/:workspace/*path", handlers.HandleDeleteFile)
	}

	// Workspace lifecycle
	workspaces := rg.Group("/workspaces")
	{
		workspaces.POST("", handlers.HandleCreateWorkspace)
		workspaces.GET("", handlers.HandleListWorkspaces)
		workspaces.DELETE("/:name", handlers.HandleDeleteWorkspace)
		workspaces.GET("/:name/tree", handlers.HandleTree)
		workspaces.POST("/:name/reindex", handlers.HandleReindex)
	}

	// Health checks
	rg.GET("/health", handlers.HandleHealth)
	rg.GET("/ready", handlers.HandleReady)
}

// NewRouter assembles the full HTTP router for the service.
//
// Description:
//
//	Builds a gin engine with recovery middleware, the /v1 API group,
//	and the Prometheus /metrics endpoint. Debug mode controls gin's
//	request logging.
func NewRouter(svc *Service, debug bool) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if debug {
		router.Use(gin.Logger())
	}

	handlers := NewHandlers(svc)
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	router.GET("/metrics", gin.WrapH(svc.Metrics().Handler()))
	return router
}
