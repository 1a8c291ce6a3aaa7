// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/huanhuan-chat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts to Markdown format.
type MarkdownExporter struct {
	options *Options
	now     func() time.Time
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts, now: time.Now}
}

// Export converts a transcript to Markdown. Replies are copied verbatim
// since the model already answers in Markdown.
func (e *MarkdownExporter) Export(t *Transcript) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder

	// YAML front matter
	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "title: %s\n", escapeYAML(t.title()))
	if t.Name != "" {
		fmt.Fprintf(&sb, "source: %s\n", escapeYAML(t.Name))
	}
	fmt.Fprintf(&sb, "rounds: %d\n", len(t.Entries))
	fmt.Fprintf(&sb, "exported: %s\n", e.now().Format(time.RFC3339))
	sb.WriteString("---\n\n")

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(t.title()))

	for i, entry := range t.Entries {
		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "## %d <sub>%s</sub>\n\n", i+1, formatTimestamp(entry))
		} else {
			fmt.Fprintf(&sb, "## %d\n\n", i+1)
		}

		fmt.Fprintf(&sb, "**%s:** %s\n\n", model.RoleUser.DisplayName(), quoteLines(entry.User))
		fmt.Fprintf(&sb, "**%s:**\n\n%s\n\n", model.RoleAssistant.DisplayName(), strings.TrimSpace(entry.Assistant))

		if e.options.IncludeParams {
			fmt.Fprintf(&sb, "*%s*\n\n", formatParams(entry.Params))
		}
		if i < len(t.Entries)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown files.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// quoteLines keeps a multi-line prompt inside its paragraph.
func quoteLines(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "  \n")
}

// escapeMarkdown escapes characters that would start Markdown syntax in a
// heading.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		"*", "\\*",
		"_", "\\_",
		"`", "\\`",
		"#", "\\#",
		"[", "\\[",
		"]", "\\]",
	)
	return replacer.Replace(s)
}

// escapeYAML quotes a front matter value when it contains YAML syntax.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#{}[]&*!|>'\"%@`\n") {
		return "\"" + strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n").Replace(s) + "\""
	}
	return s
}
