// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server serves the persona chat page and its JSON API.
//
// The page is a single embedded HTML file. It talks to the API below, which
// drives one shared session.
//
// # Endpoints
//
//   - GET    /                  - Chat page
//   - GET    /api/status        - Connection state, model and round count
//   - GET    /api/models        - Available models and the selected one
//   - PUT    /api/model         - Select a model
//   - GET    /api/params        - Sampling parameters
//   - PUT    /api/params        - Replace sampling parameters
//   - GET    /api/persona       - Title, introduction and example questions
//   - GET    /api/messages      - Visible conversation
//   - DELETE /api/messages      - Clear the conversation
//   - POST   /api/chat          - Send a prompt (NDJSON stream by default)
//   - GET    /api/history       - Saved transcripts
//   - POST   /api/history/save  - Save the conversation
//   - POST   /api/history/load  - Load the latest or a named transcript
//   - GET    /api/export        - Download the conversation (?format=md|html)
//
// # Middleware
//
//   - Panic recovery with zap logging
//   - Request IDs (X-Request-ID)
//   - Access logging
//   - CORS for configured origins
//   - Per-IP rate limiting on /api/chat
//
// # Usage
//
//	srv := server.New(server.OptionsFromConfig(cfg), client, sess, logger)
//	if err := srv.Start(ctx); err != nil {
//		return err
//	}
package server
