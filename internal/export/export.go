// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/huanhuan-chat/internal/model"
	"github.com/jeranaias/huanhuan-chat/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a transcript in one document format.
type Exporter interface {
	// Export converts a transcript to the target format.
	Export(t *Transcript) ([]byte, error)

	// FileExtension returns the file extension (e.g., ".md", ".html").
	FileExtension() string

	// MimeType returns the MIME type of the exported document.
	MimeType() string
}

// Transcript is a saved or in-progress conversation to export.
type Transcript struct {
	// Name is the transcript file name; empty for an unsaved conversation.
	Name string

	// Title heads the document. Defaults to DefaultTitle.
	Title string

	Entries []model.Entry
}

// DefaultTitle heads documents whose transcript has no title.
const DefaultTitle = "Chat-嬛嬛"

// ErrEmptyTranscript is returned for a transcript without exchanges.
var ErrEmptyTranscript = errors.New("transcript has no exchanges")

func (t *Transcript) title() string {
	if t.Title != "" {
		return t.Title
	}
	return DefaultTitle
}

// validate rejects transcripts that would produce an empty document.
func (t *Transcript) validate() error {
	if t == nil || len(t.Entries) == 0 {
		return ErrEmptyTranscript
	}
	return nil
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files are written.
	// Default: current working directory
	OutputDir string

	// IncludeParams adds the sampling parameters of each exchange.
	IncludeParams bool

	// IncludeTimestamps adds the time of each exchange.
	IncludeTimestamps bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeParams:     true,
		IncludeTimestamps: true,
	}
}

// New returns the exporter for a format name: "md", "markdown" or "html".
func New(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "html", "htm":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (use md or html)", format)
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile exports a transcript to a file in opts.OutputDir and returns
// its path. A saved transcript keeps its base name; an unsaved one is named
// after the current time.
func ExportToFile(t *Transcript, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(t)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(t.Name), filepath.Ext(t.Name))
	if t.Name == "" || base == "" || base == "." {
		base = "huanhuan_chat_" + time.Now().Format("20060102_150405")
	}
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	outputPath := filepath.Join(dir, base+exporter.FileExtension())

	if err := util.WriteFileAtomic(outputPath, content, 0644, 0755); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// formatTimestamp formats an entry timestamp for display. Unparseable
// timestamps are shown as stored.
func formatTimestamp(e model.Entry) string {
	t, err := e.Time()
	if err != nil {
		return e.Timestamp
	}
	return t.Format("2006-01-02 15:04:05")
}

// formatParams renders sampling parameters on one line.
func formatParams(p model.Params) string {
	return fmt.Sprintf("temperature=%.1f top_p=%.1f top_k=%d max_tokens=%d",
		p.Temperature, p.TopP, p.TopK, p.MaxTokens)
}
