// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/jeranaias/huanhuan-chat/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports transcripts to a standalone HTML page with embedded
// CSS.
type HTMLExporter struct {
	options  *Options
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
	now      func() time.Time
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{
		options: opts,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
		policy: bluemonday.UGCPolicy(),
		now:    time.Now,
	}
}

type htmlPage struct {
	Title    string
	Source   string
	Rounds   int
	Exported string
	Entries  []htmlEntry
}

type htmlEntry struct {
	Index     int
	Time      string
	UserName  string
	User      string
	ModelName string
	Reply     template.HTML
	Params    string
}

// Export converts a transcript to HTML. Prompts are escaped as text;
// replies are rendered from Markdown and sanitized.
func (e *HTMLExporter) Export(t *Transcript) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	page := htmlPage{
		Title:    t.title(),
		Source:   t.Name,
		Rounds:   len(t.Entries),
		Exported: e.now().Format(time.RFC3339),
	}
	for i, entry := range t.Entries {
		reply, err := e.renderReply(entry.Assistant)
		if err != nil {
			return nil, fmt.Errorf("render reply %d: %w", i+1, err)
		}
		he := htmlEntry{
			Index:     i + 1,
			UserName:  model.RoleUser.DisplayName(),
			User:      entry.User,
			ModelName: model.RoleAssistant.DisplayName(),
			Reply:     reply,
		}
		if e.options.IncludeTimestamps {
			he.Time = formatTimestamp(entry)
		}
		if e.options.IncludeParams {
			he.Params = formatParams(entry.Params)
		}
		page.Entries = append(page.Entries, he)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, page); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileExtension returns the file extension for HTML files.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// renderReply converts reply Markdown to sanitized HTML.
func (e *HTMLExporter) renderReply(content string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := e.markdown.Convert([]byte(strings.TrimSpace(content)), &buf); err != nil {
		return "", err
	}
	return template.HTML(e.policy.SanitizeBytes(buf.Bytes())), nil
}

var pageTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<meta name="generator" content="huanhuan">
<title>{{.Title}}</title>
<style>
  :root { --accent: #a0406a; --muted: #8a8a8a; }
  body { font-family: -apple-system, "PingFang SC", "Microsoft YaHei", sans-serif; line-height: 1.6; background: #fdf8f5; color: #2b2b2b; margin: 0; padding: 20px; }
  .container { max-width: 860px; margin: 0 auto; background: #fff; border-radius: 12px; padding: 24px 32px; box-shadow: 0 4px 6px rgba(0,0,0,.08); }
  h1 { color: var(--accent); margin-top: 0; }
  .metadata { color: var(--muted); font-size: 14px; }
  .exchange { border-top: 1px solid #eee; padding: 16px 0; }
  .exchange .time { color: var(--muted); font-size: 12px; }
  .user, .assistant { padding: 10px 12px; border-radius: 8px; margin: 8px 0; }
  .user { background: #eef3fb; white-space: pre-wrap; }
  .assistant { background: #fbeef3; }
  .role { font-size: 12px; color: var(--muted); display: block; }
  .params { color: var(--muted); font-size: 12px; font-style: italic; }
  pre { background: #f6f8fa; padding: 12px; border-radius: 6px; overflow-x: auto; }
</style>
</head>
<body>
<div class="container">
<header>
<h1>{{.Title}}</h1>
<div class="metadata">{{if .Source}}{{.Source}} · {{end}}对话轮数: {{.Rounds}} · {{.Exported}}</div>
</header>
<main>
{{- range .Entries}}
<section class="exchange" id="round-{{.Index}}">
{{- if .Time}}
<div class="time">{{.Time}}</div>
{{- end}}
<div class="user"><span class="role">{{.UserName}}</span>{{.User}}</div>
<div class="assistant"><span class="role">{{.ModelName}}</span>{{.Reply}}</div>
{{- if .Params}}
<div class="params">{{.Params}}</div>
{{- end}}
</section>
{{- end}}
</main>
</div>
</body>
</html>
`))
