// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command forge starts the workspace patch-application server.
//
// Usage:
//
//	forge serve
//	forge serve --config forge.yaml
//	FORGE_PORT=9090 forge serve
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/health
//
//	# Create a workspace
//	curl -X POST http://localhost:8080/v1/workspaces \
//	  -H "Content-Type: application/json" \
//	  -d '{"name": "myproject"}'
//
//	# Apply a patch
//	curl -X PATCH http://localhost:8080/v1/files \
//	  -H "Content-Type: application/json" \
//	  -d '{"workspace_name": "myproject", "patch": "--- a/f.txt\n..."}'
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/forge/pkg/logging"
	"github.com/AleutianAI/forge/services/forge"
	"github.com/AleutianAI/forge/services/forge/config"
	"github.com/AleutianAI/forge/services/forge/storage"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "forge",
		Short: "A workspace patch-application service",
		Long: `Forge applies unified-diff and SEARCH/REPLACE patches to named
workspaces, with syntax validation, fuzzy context matching, and
per-file atomic writes.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the forge HTTP server",
		Long: `Starts the HTTP server with the configured workspace base
directory and metadata store. Configuration comes from an optional
YAML file plus FORGE_* environment overrides.`,
		RunE: runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the forge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(forge.Version)
		},
	}
)

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "forge",
	})
	defer logger.Close()

	storeCfg := storage.DefaultConfig(cfg.Store.Path)
	if cfg.Store.InMemory {
		storeCfg = storage.InMemoryConfig()
	}

	svc, err := forge.NewService(forge.ServiceConfig{
		BaseDir:     cfg.Workspaces.BaseDir,
		Store:       storeCfg,
		IndexBuffer: cfg.Index.Buffer,
		Watch:       cfg.Index.Watch,
		Logger:      logger.Slog(),
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	router := forge.NewRouter(svc, cfg.Server.Debug)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("forge server starting",
			"addr", addr,
			"base_dir", cfg.Workspaces.BaseDir)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("forge server stopped")
	return nil
}
