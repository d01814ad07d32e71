// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads service configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Workspaces WorkspacesConfig `yaml:"workspaces"`
	Store      StoreConfig      `yaml:"store"`
	Index      IndexConfig      `yaml:"index"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"`
}

// WorkspacesConfig configures workspace storage on disk.
type WorkspacesConfig struct {
	// BaseDir holds one directory per workspace.
	BaseDir string `yaml:"base_dir"`
}

// StoreConfig configures the metadata store.
type StoreConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is true.
	Path string `yaml:"path"`

	// InMemory disables persistence. For tests.
	InMemory bool `yaml:"in_memory"`
}

// IndexConfig configures change notification to the indexing
// collaborator.
type IndexConfig struct {
	// Buffer is the notification queue capacity.
	Buffer int `yaml:"buffer"`

	// Watch enables the fsnotify watcher for external edits.
	Watch bool `yaml:"watch"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Dir, when set, receives a dated JSON log file in addition to
	// stderr output.
	Dir string `yaml:"dir"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server:     ServerConfig{Host: "0.0.0.0", Port: 8080},
		Workspaces: WorkspacesConfig{BaseDir: "./data/workspaces"},
		Store:      StoreConfig{Path: "./data/meta"},
		Index:      IndexConfig{Buffer: 256, Watch: true},
		Logging:    LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides and validates the result.
//
// Inputs:
//
//	path - YAML file path. Empty means defaults + environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides fields from FORGE_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("FORGE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("FORGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("FORGE_BASE_DIR"); v != "" {
		c.Workspaces.BaseDir = v
	}
	if v := os.Getenv("FORGE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("FORGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FORGE_LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Workspaces.BaseDir == "" {
		return fmt.Errorf("workspaces.base_dir is required")
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for persistent store")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	return nil
}
