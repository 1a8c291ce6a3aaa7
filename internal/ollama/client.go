// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/huanhuan-chat/internal/model"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type       ErrorType
	StatusCode int // set for ErrTypeStatus
	Message    string
	Cause      error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeConnection
	ErrTypeTimeout
	ErrTypeStatus
	ErrTypeDecode
	ErrTypeNoResponse
)

// String returns a short name for the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeConnection:
		return "connection"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeStatus:
		return "status"
	case ErrTypeDecode:
		return "decode"
	case ErrTypeNoResponse:
		return "no_response"
	default:
		return "unknown"
	}
}

// ErrNoResponse is returned when a successful reply carries no response field.
var ErrNoResponse = &ClientError{Type: ErrTypeNoResponse, Message: "reply has no response field"}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

const (
	// DefaultBaseURL uses an explicit IPv4 address to avoid IPv6 resolution of localhost.
	DefaultBaseURL = "http://127.0.0.1:11434"

	// DefaultModel is the persona model served by the local Ollama instance.
	DefaultModel = "huanhuan-qwen"

	// DefaultProbeTimeout bounds the connection probe and model listing.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultTimeout bounds non-streaming generation, and the wait for
	// response headers when streaming.
	DefaultTimeout = 30 * time.Second
)

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	BaseURL string

	// Model used for generation (default: "huanhuan-qwen")
	Model string

	// ProbeTimeout for /api/tags requests (default: 5s)
	ProbeTimeout time.Duration

	// Timeout for generation requests (default: 30s)
	Timeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      DefaultBaseURL,
		Model:        DefaultModel,
		ProbeTimeout: DefaultProbeTimeout,
		Timeout:      DefaultTimeout,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is safe for concurrent use. It never retries a request.
type Client struct {
	config     ClientConfig
	httpClient *http.Client

	mu    sync.RWMutex
	model string
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
// Zero values are replaced by defaults.
func NewClientWithConfig(config *ClientConfig) *Client {
	cfg := *DefaultConfig()
	if config != nil {
		if config.BaseURL != "" {
			cfg.BaseURL = strings.TrimRight(config.BaseURL, "/")
		}
		if config.Model != "" {
			cfg.Model = config.Model
		}
		if config.ProbeTimeout > 0 {
			cfg.ProbeTimeout = config.ProbeTimeout
		}
		if config.Timeout > 0 {
			cfg.Timeout = config.Timeout
		}
	}

	// Streaming bodies stay open past the timeout, so only the header wait is
	// bounded at the transport. Streams bound each line read themselves.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Transport: transport},
		model:      cfg.Model,
	}
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Model returns the model used for generation.
func (c *Client) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// SetModel changes the model used for generation.
func (c *Client) SetModel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = name
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckConnection reports whether the model listing route answers 200
// within the probe timeout. It never returns an error.
func (c *Client) CheckConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	drainAndClose(resp.Body)

	return resp.StatusCode == http.StatusOK
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all available models from Ollama.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "failed to list models")
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeDecode, Message: "failed to decode model list", Cause: err}
	}

	return result.Models, nil
}

// ModelNames returns the names of the available models, or an empty slice
// on any failure.
func (c *Client) ModelNames(ctx context.Context) []string {
	models, err := c.ListModels(ctx)
	if err != nil {
		return []string{}
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names
}

// =============================================================================
// GENERATION
// =============================================================================

// Generate sends a non-streaming generation request and returns the
// response text. A 200 reply without a response field yields ErrNoResponse.
func (c *Client) Generate(ctx context.Context, prompt string, params model.Params) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.postGenerate(ctx, prompt, params, false)
	if err != nil {
		return "", err
	}
	defer drainAndClose(resp.Body)

	var result GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &ClientError{Type: ErrTypeDecode, Message: "failed to decode response", Cause: err}
	}
	if result.Response == nil {
		return "", ErrNoResponse
	}

	return *result.Response, nil
}

// GenerateStream sends a streaming generation request. On success the
// caller owns the returned Stream and must Close it. The client timeout
// bounds the wait for the headers and then each wait for the next line.
func (c *Client) GenerateStream(ctx context.Context, prompt string, params model.Params) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	resp, err := c.postGenerate(ctx, prompt, params, true)
	if err != nil {
		cancel()
		return nil, err
	}
	return newStream(resp.Body, c.config.Timeout, cancel), nil
}

// postGenerate issues the /api/generate request and checks the status.
// The body of a returned response is unread.
func (c *Client) postGenerate(ctx context.Context, prompt string, params model.Params, stream bool) (*http.Response, error) {
	reqBody := GenerateRequest{
		Model:   c.Model(),
		Prompt:  prompt,
		Stream:  stream,
		Options: OptionsFromParams(params),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeDecode, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "application/x-ndjson")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer drainAndClose(resp.Body)
		return nil, statusError(resp, "generate request failed")
	}

	return resp, nil
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func transportError(err error) *ClientError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	return &ClientError{Type: ErrTypeConnection, Message: "connection failed", Cause: err}
}

// statusError builds an ErrTypeStatus error, using the server's error body
// as detail when it has one.
func statusError(resp *http.Response, prefix string) *ClientError {
	msg := prefix + ": status " + strconv.Itoa(resp.StatusCode)
	var ollamaErr OllamaError
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&ollamaErr); err == nil && ollamaErr.Error != "" {
		msg += " (" + ollamaErr.Error + ")"
	}
	return &ClientError{Type: ErrTypeStatus, StatusCode: resp.StatusCode, Message: msg}
}

// IsStatus reports whether err is a non-200 reply, and returns its code.
func IsStatus(err error) (int, bool) {
	var clientErr *ClientError
	if errors.As(err, &clientErr) && clientErr.Type == ErrTypeStatus {
		return clientErr.StatusCode, true
	}
	return 0, false
}

// IsConnection checks if an error means the server could not be reached,
// including timeouts.
func IsConnection(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeConnection || clientErr.Type == ErrTypeTimeout
	}
	return false
}

// IsDecode checks if an error is a malformed reply.
func IsDecode(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeDecode
	}
	return false
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, 64<<10))
	r.Close()
}
