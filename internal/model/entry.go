// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// TimestampLayout is the ISO-8601 layout used for entry timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Entry is one saved exchange of a transcript.
type Entry struct {
	Timestamp string `json:"timestamp"`
	User      string `json:"user"`
	Assistant string `json:"assistant"`
	Params    Params `json:"params"`
}

// NewEntry records an exchange with the current local time.
func NewEntry(user, assistant string, params Params) Entry {
	return NewEntryAt(time.Now(), user, assistant, params)
}

// NewEntryAt records an exchange at the given time.
func NewEntryAt(at time.Time, user, assistant string, params Params) Entry {
	return Entry{
		Timestamp: at.Format(TimestampLayout),
		User:      user,
		Assistant: assistant,
		Params:    params,
	}
}

// Time parses the entry timestamp. Timestamps with a zone offset are
// accepted as well.
func (e Entry) Time() (time.Time, error) {
	if t, err := time.ParseInLocation(TimestampLayout, e.Timestamp, time.Local); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// MessagesFromEntries expands each entry into a user message followed by
// an assistant message, preserving order.
func MessagesFromEntries(entries []Entry) []Message {
	msgs := make([]Message, 0, len(entries)*2)
	for _, e := range entries {
		msgs = append(msgs, NewUserMessage(e.User), NewAssistantMessage(e.Assistant))
	}
	return msgs
}
