// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides transcript persistence.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/huanhuan-chat/internal/model"
	"github.com/jeranaias/huanhuan-chat/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultDir is the transcript directory relative to the data root.
	DefaultDir = "chat_history"

	// DefaultPrefix starts every transcript file name.
	DefaultPrefix = "huanhuan_chat_"

	// FileTimeLayout is the compact timestamp in transcript file names.
	FileTimeLayout = "20060102_150405"

	fileExt = ".json"
)

// =============================================================================
// TYPES
// =============================================================================

// TranscriptInfo describes one transcript file for listings.
type TranscriptInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
	Entries int       `json:"entries"` // -1 when the file cannot be decoded
	Preview string    `json:"preview"` // first user message, truncated
}

// Store saves and loads transcripts in one directory.
// It does no locking; callers serialize Save calls.
type Store struct {
	// Dir holds the transcript files. It is created on first save.
	Dir string

	// Prefix starts every transcript file name.
	Prefix string

	// now is replaceable in tests.
	now func() time.Time
}

// NewStore creates a store for dir using the default file prefix.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{
		Dir:    dir,
		Prefix: DefaultPrefix,
		now:    time.Now,
	}
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes entries as one JSON array to a new file named by the current
// time and returns its path. The directory is created if absent. A save in
// the same second as a previous one replaces that file.
func (s *Store) Save(entries []model.Entry) (string, error) {
	if entries == nil {
		entries = []model.Entry{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}

	path := filepath.Join(s.Dir, s.fileName(s.clock()))
	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.WriteFileAtomic(path, buf.Bytes(), 0644, 0755); err != nil {
		return "", fmt.Errorf("save transcript: %w", err)
	}

	return path, nil
}

// fileName returns the transcript file name for a save at t.
func (s *Store) fileName(t time.Time) string {
	return s.prefix() + t.Format(FileTimeLayout) + fileExt
}

// =============================================================================
// LOAD
// =============================================================================

// Load reads the transcript with the latest modification time. A missing
// directory or an empty one yields no entries and no error. A file that
// does not decode fails the whole load with a *DecodeError.
func (s *Store) Load() ([]model.Entry, string, error) {
	files, err := s.scan()
	if err != nil {
		return nil, "", err
	}
	if len(files) == 0 {
		return []model.Entry{}, "", nil
	}

	latest := files[0]
	for _, f := range files[1:] {
		// ties keep the earlier listing position
		if f.ModTime.After(latest.ModTime) {
			latest = f
		}
	}

	entries, err := readTranscript(latest.Path)
	if err != nil {
		return nil, latest.Path, err
	}
	return entries, latest.Path, nil
}

// LoadFile reads one named transcript from the store directory.
func (s *Store) LoadFile(name string) ([]model.Entry, error) {
	if name == "" || name != filepath.Base(name) || !s.matches(name) {
		return nil, ErrTranscriptNotFound
	}
	entries, err := readTranscript(filepath.Join(s.Dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrTranscriptNotFound
	}
	return entries, err
}

// readTranscript decodes a transcript file.
func readTranscript(path string) ([]model.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []model.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if err := checkEntryKeys(data); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if entries == nil {
		// a literal null
		entries = []model.Entry{}
	}
	return entries, nil
}

// checkEntryKeys rejects entries without a user or assistant field, which
// would otherwise load as empty messages.
func checkEntryKeys(data []byte) error {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for i, fields := range raw {
		for _, key := range []string{"user", "assistant"} {
			if _, ok := fields[key]; !ok {
				return fmt.Errorf("entry %d: missing %q", i, key)
			}
		}
	}
	return nil
}

// ToMessages rebuilds the visible conversation from loaded entries.
func ToMessages(entries []model.Entry) []model.Message {
	return model.MessagesFromEntries(entries)
}

// =============================================================================
// LIST
// =============================================================================

// List returns all transcripts, most recently modified first.
func (s *Store) List() ([]TranscriptInfo, error) {
	files, err := s.scan()
	if err != nil {
		return nil, err
	}

	for i := range files {
		entries, err := readTranscript(files[i].Path)
		if err != nil {
			files[i].Entries = -1
			continue
		}
		files[i].Entries = len(entries)
		for _, e := range entries {
			if strings.TrimSpace(e.User) != "" {
				files[i].Preview = util.TruncateWidth(e.User, 40)
				break
			}
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// scan lists matching files in directory order without decoding them.
func (s *Store) scan() ([]TranscriptInfo, error) {
	dirEntries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript directory: %w", err)
	}

	var files []TranscriptInfo
	for _, de := range dirEntries {
		if de.IsDir() || !s.matches(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// removed between listing and stat
			continue
		}
		files = append(files, TranscriptInfo{
			Name:    de.Name(),
			Path:    filepath.Join(s.Dir, de.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return files, nil
}

// matches reports whether name is a transcript file of this store.
func (s *Store) matches(name string) bool {
	return strings.HasPrefix(name, s.prefix()) && strings.HasSuffix(name, fileExt)
}

func (s *Store) prefix() string {
	if s.Prefix == "" {
		return DefaultPrefix
	}
	return s.Prefix
}

func (s *Store) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrTranscriptNotFound is returned when a named transcript doesn't exist.
var ErrTranscriptNotFound = errors.New("transcript not found")

// DecodeError reports a transcript file that is not a JSON array of entries.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return "decode " + filepath.Base(e.Path) + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatList renders transcripts as a table for terminal output.
func FormatList(files []TranscriptInfo) string {
	if len(files) == 0 {
		return "No transcripts found."
	}

	var sb strings.Builder
	sb.WriteString(util.PadRight("File", 36) + " " + util.PadRight("Modified", 17) + " " + util.PadRight("Rounds", 6) + " Preview\n")
	sb.WriteString(strings.Repeat("-", 80) + "\n")
	for _, f := range files {
		rounds := "?"
		if f.Entries >= 0 {
			rounds = fmt.Sprint(f.Entries)
		}
		sb.WriteString(util.PadRight(f.Name, 36) + " " +
			util.PadRight(f.ModTime.Format("2006-01-02 15:04"), 17) + " " +
			util.PadRight(rounds, 6) + " " +
			f.Preview + "\n")
	}
	return sb.String()
}
