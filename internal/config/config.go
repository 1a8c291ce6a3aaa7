// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for huanhuan.
//
// Supports TOML, JSON and YAML configuration formats, with sensible defaults,
// .env files, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.huanhuan/config.toml
//   - ~/.huanhuan/config.json
//   - ~/.huanhuan/config.yaml
//   - Built-in defaults
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/huanhuan-chat/internal/model"
	"github.com/jeranaias/huanhuan-chat/internal/ollama"
	"github.com/jeranaias/huanhuan-chat/internal/storage"
	"github.com/jeranaias/huanhuan-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete huanhuan configuration.
type Config struct {
	// Ollama endpoint configuration
	Ollama OllamaConfig `toml:"ollama" json:"ollama" yaml:"ollama"`

	// Generation holds the sampling parameters a new session starts with
	Generation model.Params `toml:"generation" json:"generation" yaml:"generation"`

	// History configures where transcripts are stored
	History HistoryConfig `toml:"history" json:"history" yaml:"history"`

	// Server configures the web chat page
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Persona holds the texts shown around the conversation
	Persona PersonaConfig `toml:"persona" json:"persona" yaml:"persona"`

	// Log configures structured logging
	Log LogConfig `toml:"log" json:"log" yaml:"log"`
}

// OllamaConfig contains local Ollama configuration.
type OllamaConfig struct {
	// URL is the base URL of the Ollama server
	URL string `toml:"url" json:"url" yaml:"url"`
	// Model is the persona model to chat with
	Model string `toml:"model" json:"model" yaml:"model"`
	// ProbeTimeoutSecs bounds the connection check and model listing
	ProbeTimeoutSecs int `toml:"probe_timeout_secs" json:"probe_timeout_secs" yaml:"probe_timeout_secs"`
	// TimeoutSecs bounds a generation request
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs" yaml:"timeout_secs"`
}

// HistoryConfig contains transcript storage configuration.
type HistoryConfig struct {
	// Dir is the transcript directory
	Dir string `toml:"dir" json:"dir" yaml:"dir"`
	// Prefix starts every transcript file name
	Prefix string `toml:"prefix" json:"prefix" yaml:"prefix"`
}

// ServerConfig contains web surface configuration.
type ServerConfig struct {
	// Addr is the listen address
	Addr string `toml:"addr" json:"addr" yaml:"addr"`
	// CORSOrigins lists allowed cross-origin callers. Empty allows none.
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins" yaml:"cors_origins"`
	// RatePerMinute limits generation requests. 0 disables the limit.
	RatePerMinute int `toml:"rate_per_minute" json:"rate_per_minute" yaml:"rate_per_minute"`
}

// PersonaConfig contains the persona's page texts.
type PersonaConfig struct {
	Title    string   `toml:"title" json:"title" yaml:"title"`
	Intro    string   `toml:"intro" json:"intro" yaml:"intro"`
	Profile  []string `toml:"profile" json:"profile" yaml:"profile"`
	Traits   []string `toml:"traits" json:"traits" yaml:"traits"`
	Examples []string `toml:"examples" json:"examples" yaml:"examples"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `toml:"level" json:"level" yaml:"level"`
	// Format is "console" or "json"
	Format string `toml:"format" json:"format" yaml:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a new Config with all default values.
func Default() *Config {
	return &Config{
		Ollama: OllamaConfig{
			URL:              ollama.DefaultBaseURL,
			Model:            ollama.DefaultModel,
			ProbeTimeoutSecs: int(ollama.DefaultProbeTimeout / time.Second),
			TimeoutSecs:      int(ollama.DefaultTimeout / time.Second),
		},
		Generation: model.DefaultParams(),
		History: HistoryConfig{
			Dir:    storage.DefaultDir,
			Prefix: storage.DefaultPrefix,
		},
		Server: ServerConfig{
			Addr:          "127.0.0.1:8501",
			RatePerMinute: 30,
		},
		Persona: PersonaConfig{
			Title: "Chat-嬛嬛",
			Intro: "欢迎来到甄嬛传角色对话系统！我是甄嬛，大理寺少卿甄远道之女。\n臣妾愿与您畅谈宫廷生活、诗词歌赋，分享人生感悟。",
			Profile: []string{
				"姓名：甄嬛（甄玉嬛）",
				"身份：熹贵妃",
				"出身：大理寺少卿甄远道之女",
				"特长：诗词歌赋、琴棋书画",
			},
			Traits: []string{
				"聪慧机智，善于应变",
				"温婉贤淑，知书达理",
				"坚韧不拔，重情重义",
				"语言典雅，谦逊有礼",
			},
			Examples: []string{
				"你好，请介绍一下自己",
				"你觉得宫廷生活如何？",
				"如何看待友情？",
				"能为我作一首诗吗？",
				"给后人一些人生建议",
				"你最喜欢什么？",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ClientConfig converts the Ollama section for the API client.
func (c *Config) ClientConfig() *ollama.ClientConfig {
	return &ollama.ClientConfig{
		BaseURL:      c.Ollama.URL,
		Model:        c.Ollama.Model,
		ProbeTimeout: time.Duration(c.Ollama.ProbeTimeoutSecs) * time.Second,
		Timeout:      time.Duration(c.Ollama.TimeoutSecs) * time.Second,
	}
}

// NewStore returns the transcript store described by the history section.
func (c *Config) NewStore() *storage.Store {
	store := storage.NewStore(c.History.Dir)
	if c.History.Prefix != "" {
		store.Prefix = c.History.Prefix
	}
	return store
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the huanhuan configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".huanhuan"), nil
}

// configPath returns the path of a config file in the config directory.
func configPath(name string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	return configPath("config.toml")
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the first config file found, trying TOML,
// then JSON, then YAML, and falls back to defaults. A .env file in the
// working directory is read first; environment overrides are applied last.
func Load() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	for _, name := range []string{"config.toml", "config.json", "config.yaml"} {
		path, err := configPath(name)
		if err != nil {
			break
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		return LoadFromPath(path)
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file without overriding ones
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadJSON loads configuration from a JSON file.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadYAML loads configuration from a YAML file.
func LoadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode YAML file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadFromPath loads configuration from a specific file path with full
// validation. The format follows the file extension; anything else is read
// as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = LoadJSON(cfg, path)
	case ".yaml", ".yml":
		err = LoadYAML(cfg, path)
	default:
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	// Ollama
	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = defaults.Ollama.URL
	}
	if cfg.Ollama.Model == "" {
		cfg.Ollama.Model = defaults.Ollama.Model
	}
	if cfg.Ollama.ProbeTimeoutSecs == 0 {
		cfg.Ollama.ProbeTimeoutSecs = defaults.Ollama.ProbeTimeoutSecs
	}
	if cfg.Ollama.TimeoutSecs == 0 {
		cfg.Ollama.TimeoutSecs = defaults.Ollama.TimeoutSecs
	}

	// Generation
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = defaults.Generation.Temperature
	}
	if cfg.Generation.TopP == 0 {
		cfg.Generation.TopP = defaults.Generation.TopP
	}
	if cfg.Generation.TopK == 0 {
		cfg.Generation.TopK = defaults.Generation.TopK
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = defaults.Generation.MaxTokens
	}

	// History
	if cfg.History.Dir == "" {
		cfg.History.Dir = defaults.History.Dir
	}
	if cfg.History.Prefix == "" {
		cfg.History.Prefix = defaults.History.Prefix
	}

	// Server
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}

	// Persona
	if cfg.Persona.Title == "" {
		cfg.Persona.Title = defaults.Persona.Title
	}
	if cfg.Persona.Intro == "" {
		cfg.Persona.Intro = defaults.Persona.Intro
	}
	if len(cfg.Persona.Profile) == 0 {
		cfg.Persona.Profile = defaults.Persona.Profile
	}
	if len(cfg.Persona.Traits) == 0 {
		cfg.Persona.Traits = defaults.Persona.Traits
	}
	if len(cfg.Persona.Examples) == 0 {
		cfg.Persona.Examples = defaults.Persona.Examples
	}

	// Log
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}

	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer

	// Write header comment
	fmt.Fprintln(&buf, "# huanhuan configuration file")
	fmt.Fprintln(&buf, "# Generated by huanhuan - edit with care")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.WriteFileAtomic(path, buf.Bytes(), 0644, 0755); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Ollama
	if u, err := url.Parse(c.Ollama.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "ollama.url",
			Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[:port]", c.Ollama.URL),
		})
	}
	if strings.TrimSpace(c.Ollama.Model) == "" {
		errs = append(errs, ValidationError{Field: "ollama.model", Message: "must not be empty"})
	}
	if c.Ollama.ProbeTimeoutSecs < 1 || c.Ollama.ProbeTimeoutSecs > 300 {
		errs = append(errs, ValidationError{
			Field:   "ollama.probe_timeout_secs",
			Message: fmt.Sprintf("%d out of range, must be between 1 and 300", c.Ollama.ProbeTimeoutSecs),
		})
	}
	if c.Ollama.TimeoutSecs < 1 || c.Ollama.TimeoutSecs > 3600 {
		errs = append(errs, ValidationError{
			Field:   "ollama.timeout_secs",
			Message: fmt.Sprintf("%d out of range, must be between 1 and 3600", c.Ollama.TimeoutSecs),
		})
	}

	// Generation
	if err := c.Generation.Validate(); err != nil {
		var paramErr *model.ParamError
		field := "generation"
		if errors.As(err, &paramErr) {
			field += "." + paramErr.Name
		}
		errs = append(errs, ValidationError{Field: field, Message: err.Error()})
	}

	// History
	if strings.ContainsAny(c.History.Prefix, `/\`) {
		errs = append(errs, ValidationError{Field: "history.prefix", Message: "must not contain path separators"})
	}

	// Server
	if c.Server.RatePerMinute < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_per_minute", Message: "must not be negative"})
	}

	// Log
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: console, json", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - HUANHUAN_OLLAMA_URL: overrides ollama.url
//   - HUANHUAN_MODEL: overrides ollama.model
//   - HUANHUAN_HISTORY_DIR: overrides history.dir
//   - HUANHUAN_ADDR: overrides server.addr
//   - HUANHUAN_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if u := os.Getenv("HUANHUAN_OLLAMA_URL"); u != "" {
		c.Ollama.URL = u
	}
	if m := os.Getenv("HUANHUAN_MODEL"); m != "" {
		c.Ollama.Model = m
	}
	if dir := os.Getenv("HUANHUAN_HISTORY_DIR"); dir != "" {
		c.History.Dir = dir
	}
	if addr := os.Getenv("HUANHUAN_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if level := os.Getenv("HUANHUAN_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value by its file key (e.g., "ollama.model").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set parses value into the field named by key (e.g., "server.addr").
// List fields take comma-separated values.
func (c *Config) Set(key string, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks the struct tree following toml tag names.
func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// fieldByTag finds the struct field whose toml tag matches name. Dashes are
// accepted for underscores.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	name = strings.ReplaceAll(strings.ToLower(name), "-", "_")
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue parses a string into the field's kind.
func setFieldValue(field reflect.Value, value string) error {
	value = strings.TrimSpace(value)
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer '%s'", value)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number '%s'", value)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean '%s'", value)
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list type %s", field.Type())
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

// String renders the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("error encoding config: %v", err)
	}
	return buf.String()
}
