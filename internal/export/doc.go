// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders saved transcripts as Markdown or HTML documents.
//
// # Supported Formats
//
//   - Markdown: front matter plus one section per exchange
//   - HTML: standalone page; replies are rendered from Markdown and sanitized
//
// # Usage
//
//	exp, err := export.New("html", nil)
//	path, err := export.ExportToFile(&export.Transcript{Name: name, Entries: entries}, exp, nil)
package export
