// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversation transcripts as JSON files.
//
// Every save writes a new file named after the time of the save; loading
// picks whichever transcript was modified most recently.
//
// # Key Types
//
//   - Store: transcript directory with save, load, list and watch
//   - TranscriptInfo: listing metadata for one transcript file
//   - DecodeError: a transcript file that is not a valid JSON array of entries
//
// # Usage
//
//	store := storage.NewStore("chat_history")
//	path, err := store.Save(entries)
//
//	entries, file, err := store.Load()
//	msgs := storage.ToMessages(entries)
//
// # File Format
//
// Files are named huanhuan_chat_YYYYMMDD_HHMMSS.json and hold a JSON array of
// {"timestamp", "user", "assistant", "params"} objects. Two saves within the
// same second write the same file and the later one wins.
package storage
