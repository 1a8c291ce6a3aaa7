// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the chat client,
// the transcript store and the session.
//
// # Key Types
//
//   - Message: one role/content pair of the visible conversation
//   - Params: sampling parameters sent with every generation request
//   - Entry: one saved exchange (timestamp, user text, reply, params snapshot)
//
// # Usage
//
//	params := model.DefaultParams()
//	entry := model.NewEntry("你好", "臣妾在此", params)
//	msgs := model.MessagesFromEntries([]model.Entry{entry})
package model
