// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Parameter names as they appear in transcripts, config files and the REPL.
const (
	ParamTemperature = "temperature"
	ParamTopP        = "top_p"
	ParamTopK        = "top_k"
	ParamMaxTokens   = "max_tokens"
)

// Accepted ranges, matching the controls of the chat page.
const (
	MinTemperature = 0.1
	MaxTemperature = 2.0
	MinTopP        = 0.1
	MaxTopP        = 1.0
	MinTopK        = 1
	MaxTopK        = 100
	MinMaxTokens   = 50
	MaxMaxTokens   = 500
)

// Params holds the sampling parameters for a generation request.
// The JSON form is the "params" object of a transcript entry.
type Params struct {
	Temperature float64 `json:"temperature" toml:"temperature" yaml:"temperature"`
	TopP        float64 `json:"top_p" toml:"top_p" yaml:"top_p"`
	TopK        int     `json:"top_k" toml:"top_k" yaml:"top_k"`
	MaxTokens   int     `json:"max_tokens" toml:"max_tokens" yaml:"max_tokens"`
}

// DefaultParams returns the parameters a new session starts with.
func DefaultParams() Params {
	return Params{
		Temperature: 0.7,
		TopP:        0.9,
		TopK:        40,
		MaxTokens:   256,
	}
}

// ParamError reports a sampling parameter outside its accepted range.
type ParamError struct {
	Name  string
	Value string
	Rule  string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Name, e.Value, e.Rule)
}

// Validate checks every parameter against its accepted range.
// The first violation is returned. NaN is outside every range.
func (p Params) Validate() error {
	if !(p.Temperature >= MinTemperature && p.Temperature <= MaxTemperature) {
		return &ParamError{Name: ParamTemperature, Value: formatFloat(p.Temperature), Rule: "must be between 0.1 and 2.0"}
	}
	if !(p.TopP >= MinTopP && p.TopP <= MaxTopP) {
		return &ParamError{Name: ParamTopP, Value: formatFloat(p.TopP), Rule: "must be between 0.1 and 1.0"}
	}
	if p.TopK < MinTopK || p.TopK > MaxTopK {
		return &ParamError{Name: ParamTopK, Value: strconv.Itoa(p.TopK), Rule: "must be between 1 and 100"}
	}
	if p.MaxTokens < MinMaxTokens || p.MaxTokens > MaxMaxTokens {
		return &ParamError{Name: ParamMaxTokens, Value: strconv.Itoa(p.MaxTokens), Rule: "must be between 50 and 500"}
	}
	return nil
}

// With returns a copy of p with the named parameter parsed from value.
// The result is validated as a whole.
func (p Params) With(name, value string) (Params, error) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.ReplaceAll(name, "-", "_")) {
	case ParamTemperature, "temp":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return p, &ParamError{Name: ParamTemperature, Value: value, Rule: "not a number"}
		}
		p.Temperature = f
	case ParamTopP:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return p, &ParamError{Name: ParamTopP, Value: value, Rule: "not a number"}
		}
		p.TopP = f
	case ParamTopK:
		n, err := strconv.Atoi(value)
		if err != nil {
			return p, &ParamError{Name: ParamTopK, Value: value, Rule: "not an integer"}
		}
		p.TopK = n
	case ParamMaxTokens:
		n, err := strconv.Atoi(value)
		if err != nil {
			return p, &ParamError{Name: ParamMaxTokens, Value: value, Rule: "not an integer"}
		}
		p.MaxTokens = n
	default:
		return p, &ParamError{Name: name, Value: value, Rule: "unknown parameter"}
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// String formats the parameters on one line.
func (p Params) String() string {
	return fmt.Sprintf("temperature=%s top_p=%s top_k=%d max_tokens=%d",
		formatFloat(p.Temperature), formatFloat(p.TopP), p.TopK, p.MaxTokens)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
