// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"github.com/jeranaias/huanhuan-chat/internal/model"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Options contains model parameters for inference.
type Options struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	NumPredict  int     `json:"num_predict"` // Max tokens to generate
}

// OptionsFromParams maps session sampling parameters onto request options.
func OptionsFromParams(p model.Params) *Options {
	return &Options{
		Temperature: p.Temperature,
		TopP:        p.TopP,
		TopK:        p.TopK,
		NumPredict:  p.MaxTokens,
	}
}

// GenerateRequest is the request body for /api/generate endpoint.
type GenerateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	Options *Options `json:"options,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// GenerateResponse is the response from /api/generate endpoint, and also the
// shape of each line of a streaming response. Response is a pointer so that
// an absent field can be told apart from an empty one. Timestamps are kept
// as sent so that an odd one never costs a fragment.
type GenerateResponse struct {
	Model      string  `json:"model"`
	CreatedAt  string  `json:"created_at,omitempty"`
	Response   *string `json:"response"`
	Done       bool    `json:"done"`
	DoneReason string  `json:"done_reason,omitempty"`
	EvalCount  int     `json:"eval_count,omitempty"`
}

// =============================================================================
// MODEL TYPES
// =============================================================================

// ModelInfo contains information about a model.
type ModelInfo struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at,omitempty"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// ListModelsResponse is the response from /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// OllamaError represents an error body from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}
