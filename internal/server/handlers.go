// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jeranaias/huanhuan-chat/internal/export"
	"github.com/jeranaias/huanhuan-chat/internal/model"
	"github.com/jeranaias/huanhuan-chat/internal/ollama"
	"github.com/jeranaias/huanhuan-chat/internal/session"
	"github.com/jeranaias/huanhuan-chat/internal/storage"
)

// ============================================================================
// REQUEST/RESPONSE TYPES
// ============================================================================

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Prompt string `json:"prompt"`
	// Stream defaults to true when absent.
	Stream *bool `json:"stream,omitempty"`
}

// ChatResponse is the reply to a non-streaming chat request.
type ChatResponse struct {
	Reply     string `json:"reply"`
	Rounds    int    `json:"rounds"`
	Failed    bool   `json:"failed"`
	ErrorType string `json:"error_type,omitempty"`
}

// StreamLine is one line of a streamed chat reply.
type StreamLine struct {
	Fragment  *string `json:"fragment,omitempty"`
	Done      bool    `json:"done,omitempty"`
	Rounds    int     `json:"rounds,omitempty"`
	Failed    bool    `json:"failed,omitempty"`
	ErrorType string  `json:"error_type,omitempty"`
}

// StatusResponse is the reply to GET /api/status.
type StatusResponse struct {
	Connected bool   `json:"connected"`
	Model     string `json:"model"`
	Rounds    int    `json:"rounds"`
	Session   string `json:"session"`
	Started   string `json:"started"`
}

// ModelRequest is the body of PUT /api/model.
type ModelRequest struct {
	Name string `json:"name"`
}

// LoadRequest is the optional body of POST /api/history/load.
type LoadRequest struct {
	File string `json:"file"`
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// errorType names the kind of a generation failure for API clients.
func errorType(err error) string {
	var clientErr *ollama.ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type.String()
	}
	return "unknown"
}

// ============================================================================
// STATUS AND MODELS
// ============================================================================

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Connected: s.backend.CheckConnection(c.Request.Context()),
		Model:     s.sess.Model(),
		Rounds:    s.sess.Rounds(),
		Session:   s.sess.ID(),
		Started:   s.sess.StartTime().Format(model.TimestampLayout),
	})
}

// handleModels lists available models and settles the selection on one
// of them.
func (s *Server) handleModels(c *gin.Context) {
	names := s.backend.ModelNames(c.Request.Context())
	available := s.sess.SelectModel(names)
	c.JSON(http.StatusOK, gin.H{
		"models":    names,
		"selected":  s.sess.Model(),
		"available": available,
	})
}

func (s *Server) handleSetModel(c *gin.Context) {
	var req ModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "Could not parse request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		errorJSON(c, http.StatusBadRequest, "model name is required")
		return
	}

	// An unreachable server cannot list models, so the name is taken as given.
	if names := s.backend.ModelNames(c.Request.Context()); len(names) > 0 && !slices.Contains(names, name) {
		errorJSON(c, http.StatusNotFound, "model not available: "+name)
		return
	}

	s.sess.SetModel(name)
	c.JSON(http.StatusOK, gin.H{"selected": name})
}

// ============================================================================
// PARAMETERS AND PERSONA
// ============================================================================

func (s *Server) handleGetParams(c *gin.Context) {
	c.JSON(http.StatusOK, s.sess.Params())
}

func (s *Server) handleSetParams(c *gin.Context) {
	var p model.Params
	if err := c.ShouldBindJSON(&p); err != nil {
		errorJSON(c, http.StatusBadRequest, "Could not parse request body")
		return
	}
	if err := s.sess.SetParams(p); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, s.sess.Params())
}

func (s *Server) handlePersona(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Persona)
}

// ============================================================================
// CONVERSATION
// ============================================================================

func (s *Server) handleMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"messages": s.sess.Messages(),
		"rounds":   s.sess.Rounds(),
	})
}

func (s *Server) handleClear(c *gin.Context) {
	s.sess.Clear()
	c.JSON(http.StatusOK, gin.H{"rounds": 0})
}

// handleChat runs one exchange. Streaming replies are newline-delimited
// JSON: fragment lines followed by one done line.
func (s *Server) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "Could not parse request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		errorJSON(c, http.StatusBadRequest, "请输入您的问题")
		return
	}
	if utf8.RuneCountInString(req.Prompt) > MaxPromptLength {
		errorJSON(c, http.StatusRequestEntityTooLarge, "prompt too long")
		return
	}

	if req.Stream != nil && !*req.Stream {
		ex, err := s.sess.Ask(c.Request.Context(), req.Prompt)
		if errors.Is(err, session.ErrEmptyPrompt) {
			errorJSON(c, http.StatusBadRequest, "请输入您的问题")
			return
		}
		resp := ChatResponse{Reply: ex.Reply, Rounds: s.sess.Rounds(), Failed: ex.Failed()}
		if ex.Failed() {
			resp.ErrorType = errorType(ex.Err)
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	c.Header("Content-Type", "application/x-ndjson; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	enc.SetEscapeHTML(false)
	writeLine := func(line StreamLine) {
		if err := enc.Encode(line); err != nil {
			s.logger.Debug("stream write failed", zap.Error(err))
			return
		}
		c.Writer.Flush()
	}

	ex, _ := s.sess.Send(c.Request.Context(), req.Prompt, func(fragment string) {
		writeLine(StreamLine{Fragment: &fragment})
	})

	done := StreamLine{Done: true, Rounds: s.sess.Rounds(), Failed: ex.Failed()}
	if ex.Failed() {
		done.ErrorType = errorType(ex.Err)
	}
	writeLine(done)
}

// ============================================================================
// HISTORY
// ============================================================================

func (s *Server) handleHistoryList(c *gin.Context) {
	files, err := s.historyFiles()
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if files == nil {
		files = []storage.TranscriptInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (s *Server) handleHistorySave(c *gin.Context) {
	path, err := s.sess.Save()
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "保存失败: "+err.Error())
		return
	}
	s.refreshHistory()
	c.JSON(http.StatusOK, gin.H{
		"path":    path,
		"file":    filepath.Base(path),
		"message": "对话历史已保存: " + path,
	})
}

// handleHistoryLoad loads the named transcript, or the most recent one when
// no name is given.
func (s *Server) handleHistoryLoad(c *gin.Context) {
	var req LoadRequest
	// an empty body loads the latest transcript
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		errorJSON(c, http.StatusBadRequest, "Could not parse request body")
		return
	}

	var (
		file string
		err  error
	)
	if req.File != "" {
		file = req.File
		err = s.sess.LoadFile(req.File)
	} else {
		file, err = s.sess.Load()
	}

	switch {
	case errors.Is(err, session.ErrNoHistory), errors.Is(err, storage.ErrTranscriptNotFound):
		errorJSON(c, http.StatusNotFound, "没有找到历史记录文件")
		return
	case err != nil:
		errorJSON(c, http.StatusUnprocessableEntity, "加载失败: "+err.Error())
		return
	}

	name := filepath.Base(file)
	c.JSON(http.StatusOK, gin.H{
		"file":     name,
		"messages": s.sess.Messages(),
		"rounds":   s.sess.Rounds(),
		"message":  "对话历史已加载: " + name,
	})
}

// handleExport returns the current conversation as a Markdown or HTML
// download.
func (s *Server) handleExport(c *gin.Context) {
	exp, err := export.New(c.DefaultQuery("format", "md"), nil)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	t := &export.Transcript{Title: s.opts.Persona.Title, Entries: s.sess.Entries()}
	data, err := exp.Export(t)
	if errors.Is(err, export.ErrEmptyTranscript) {
		errorJSON(c, http.StatusNotFound, "暂无对话")
		return
	}
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "导出失败: "+err.Error())
		return
	}

	name := "huanhuan_chat_" + time.Now().Format(storage.FileTimeLayout) + exp.FileExtension()
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, exp.MimeType()+"; charset=utf-8", data)
}
