// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for huanhuan.
//
// Supports TOML, JSON and YAML configuration formats, with sensible defaults,
// .env files, environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - OllamaConfig: Endpoint, model and timeouts
//   - HistoryConfig: Transcript directory and file prefix
//   - ServerConfig: Web chat page listen address, CORS and rate limit
//   - PersonaConfig: Title, introduction, profile and example questions
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Command line flags
//   - Environment variables (HUANHUAN_*), including a .env file
//   - ~/.huanhuan/config.toml
//   - ~/.huanhuan/config.json
//   - ~/.huanhuan/config.yaml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	client := ollama.NewClientWithConfig(cfg.ClientConfig())
//	store := cfg.NewStore()
package config
