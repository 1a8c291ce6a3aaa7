// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// PARAMS TESTS
// =============================================================================

func TestDefaultParams_Valid(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Params)
		wantErr string
	}{
		{"temperature too low", func(p *Params) { p.Temperature = 0 }, ParamTemperature},
		{"temperature too high", func(p *Params) { p.Temperature = 2.5 }, ParamTemperature},
		{"top_p zero", func(p *Params) { p.TopP = 0 }, ParamTopP},
		{"top_p above one", func(p *Params) { p.TopP = 1.1 }, ParamTopP},
		{"top_k zero", func(p *Params) { p.TopK = 0 }, ParamTopK},
		{"max_tokens small", func(p *Params) { p.MaxTokens = 10 }, ParamMaxTokens},
		{"temperature NaN", func(p *Params) { p.Temperature = math.NaN() }, ParamTemperature},
		{"temperature +Inf", func(p *Params) { p.Temperature = math.Inf(1) }, ParamTemperature},
		{"top_p NaN", func(p *Params) { p.TopP = math.NaN() }, ParamTopP},
		{"top_p -Inf", func(p *Params) { p.TopP = math.Inf(-1) }, ParamTopP},
		{"upper bounds ok", func(p *Params) { p.Temperature, p.TopP, p.TopK, p.MaxTokens = 2.0, 1.0, 100, 500 }, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultParams()
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var perr *ParamError
			require.True(t, errors.As(err, &perr), "want *ParamError, got %v", err)
			assert.Equal(t, tc.wantErr, perr.Name)
		})
	}
}

func TestParams_With(t *testing.T) {
	p, err := DefaultParams().With("temperature", "1.2")
	require.NoError(t, err)
	assert.Equal(t, 1.2, p.Temperature)

	p, err = p.With("max-tokens", " 300 ")
	require.NoError(t, err)
	assert.Equal(t, 300, p.MaxTokens)

	_, err = p.With("top_k", "abc")
	assert.Error(t, err)

	_, err = p.With("top_k", "101")
	assert.Error(t, err)

	_, err = p.With("seed", "1")
	assert.ErrorContains(t, err, "unknown parameter")

	for _, v := range []string{"NaN", "nan", "Inf", "-inf"} {
		_, err = DefaultParams().With("temperature", v)
		assert.Error(t, err, v)
		_, err = DefaultParams().With("top_p", v)
		assert.Error(t, err, v)
	}
}

func TestParams_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(DefaultParams())
	require.NoError(t, err)
	assert.JSONEq(t, `{"temperature":0.7,"top_p":0.9,"top_k":40,"max_tokens":256}`, string(data))
}

// =============================================================================
// ENTRY TESTS
// =============================================================================

func TestMessagesFromEntries(t *testing.T) {
	entries := []Entry{
		NewEntry("你好", "臣妾在此", DefaultParams()),
		NewEntry("宫廷生活如何？", "如履薄冰。", DefaultParams()),
	}

	got := MessagesFromEntries(entries)
	want := []Message{
		{Role: RoleUser, Content: "你好"},
		{Role: RoleAssistant, Content: "臣妾在此"},
		{Role: RoleUser, Content: "宫廷生活如何？"},
		{Role: RoleAssistant, Content: "如履薄冰。"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MessagesFromEntries mismatch (-want +got):\n%s", diff)
	}
}

func TestMessagesFromEntries_Empty(t *testing.T) {
	got := MessagesFromEntries(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestEntry_Time(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 890000000, time.Local)
	e := NewEntryAt(at, "u", "a", DefaultParams())
	assert.Equal(t, "2025-03-04T05:06:07.890000", e.Timestamp)

	got, err := e.Time()
	require.NoError(t, err)
	assert.True(t, got.Equal(at))

	e.Timestamp = "2025-03-04T05:06:07+08:00"
	_, err = e.Time()
	assert.NoError(t, err)
}

func TestRole_DisplayName(t *testing.T) {
	assert.Equal(t, "You", RoleUser.DisplayName())
	assert.Equal(t, "嬛嬛", RoleAssistant.DisplayName())
	assert.Equal(t, "system", Role("system").DisplayName())
}
