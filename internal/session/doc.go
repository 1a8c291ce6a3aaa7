// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the state of one conversation with the persona.
//
// A Session keeps the visible messages, the transcript entries, the selected
// model and the sampling parameters. It turns each prompt into one exchange:
// the user message, the streamed reply and a transcript entry.
//
// # Key Types
//
//   - Session: conversation state and exchange bookkeeping
//   - Generator: the inference calls a session needs (*ollama.Client)
//   - Exchange: the outcome of one prompt
//
// # Usage
//
//	sess := session.New(client, storage.NewStore("chat_history"), logger)
//	ex, err := sess.Send(ctx, "你好", func(fragment string) {
//	    fmt.Print(fragment)
//	})
//
// # Failures
//
// A failed generation still completes the exchange: the failure is rendered
// with DescribeError, delivered as a fragment and recorded as the reply. The
// typed error is returned alongside for logging.
package session
