// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"embed"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jeranaias/huanhuan-chat/internal/config"
	"github.com/jeranaias/huanhuan-chat/internal/session"
	"github.com/jeranaias/huanhuan-chat/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8501"

	// MaxPromptLength is the maximum prompt length in runes.
	MaxPromptLength = 4000

	// MaxRequestBodySize is the maximum size for a request body (64KB).
	MaxRequestBodySize = 64 << 10

	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 10 * time.Second
)

//go:embed static
var staticFiles embed.FS

// ============================================================================
// SERVER
// ============================================================================

// Backend is the part of the Ollama client the server calls directly.
type Backend interface {
	CheckConnection(ctx context.Context) bool
	ModelNames(ctx context.Context) []string
}

// Options configures a Server.
type Options struct {
	Addr          string
	CORSOrigins   []string
	RatePerMinute int
	Persona       config.PersonaConfig
	Debug         bool
}

// OptionsFromConfig builds server options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:          cfg.Server.Addr,
		CORSOrigins:   cfg.Server.CORSOrigins,
		RatePerMinute: cfg.Server.RatePerMinute,
		Persona:       cfg.Persona,
		Debug:         cfg.Log.Level == "debug",
	}
}

// Server is the web chat surface. It serves one conversation shared by all
// callers; the session serializes exchanges.
type Server struct {
	opts    Options
	engine  *gin.Engine
	server  *http.Server
	backend Backend
	sess    *session.Session
	logger  *zap.Logger

	history historyCache
}

// historyCache holds the transcript listing between directory changes.
type historyCache struct {
	mu     sync.RWMutex
	files  []storage.TranscriptInfo
	err    error
	loaded bool
}

// New creates a Server. A nil logger discards logs.
func New(opts Options, backend Backend, sess *session.Session, logger *zap.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !opts.Debug && gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		opts:    opts,
		engine:  gin.New(),
		backend: backend,
		sess:    sess,
		logger:  logger,
	}

	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures middleware and all HTTP routes.
func (s *Server) setupRoutes() {
	e := s.engine
	e.SetTrustedProxies(nil)

	e.Use(
		RecoveryMiddleware(s.logger),
		RequestIDMiddleware(),
		LoggingMiddleware(s.logger),
		SecurityHeadersMiddleware(),
	)
	if len(s.opts.CORSOrigins) > 0 {
		// Add CORS using gin-contrib/cors
		e.Use(cors.New(cors.Config{
			AllowOrigins:     s.opts.CORSOrigins,
			AllowMethods:     []string{"OPTIONS", "GET", "POST", "PUT", "DELETE"},
			AllowHeaders:     []string{"Origin", "Content-Type", RequestIDHeader},
			ExposeHeaders:    []string{"Content-Length", RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}
	e.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)
		c.Next()
	})

	e.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	index, _ := staticFiles.ReadFile("static/index.html")
	e.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	})

	api := e.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/models", s.handleModels)
	api.PUT("/model", s.handleSetModel)
	api.GET("/params", s.handleGetParams)
	api.PUT("/params", s.handleSetParams)
	api.GET("/persona", s.handlePersona)
	api.GET("/messages", s.handleMessages)
	api.DELETE("/messages", s.handleClear)
	api.GET("/history", s.handleHistoryList)
	api.POST("/history/save", s.handleHistorySave)
	api.POST("/history/load", s.handleHistoryLoad)
	api.GET("/export", s.handleExport)

	chat := api.Group("")
	if s.opts.RatePerMinute > 0 {
		chat.Use(RateLimitMiddleware(NewRateLimiter(s.opts.RatePerMinute), s.logger))
	}
	chat.POST("/chat", s.handleChat)
}

// ============================================================================
// HISTORY CACHE
// ============================================================================

// refreshHistory re-reads the transcript listing.
func (s *Server) refreshHistory() {
	files, err := s.sess.Store().List()
	if err != nil {
		s.logger.Warn("history listing failed", zap.Error(err))
	}

	s.history.mu.Lock()
	s.history.files = files
	s.history.err = err
	s.history.loaded = true
	s.history.mu.Unlock()
}

// historyFiles returns the cached listing, reading it on first use.
func (s *Server) historyFiles() ([]storage.TranscriptInfo, error) {
	s.history.mu.RLock()
	loaded := s.history.loaded
	s.history.mu.RUnlock()
	if !loaded {
		s.refreshHistory()
	}

	s.history.mu.RLock()
	defer s.history.mu.RUnlock()
	return s.history.files, s.history.err
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start serves until ctx is cancelled, then shuts down gracefully. The
// transcript directory is watched so the history listing follows files
// saved by other processes.
func (s *Server) Start(ctx context.Context) error {
	watcher, err := s.sess.Store().Watch(ctx, storage.DefaultDebounce, s.refreshHistory)
	if err != nil {
		s.logger.Warn("history watcher unavailable", zap.Error(err))
	} else {
		watcher.OnError(func(err error) {
			s.logger.Warn("history watcher error", zap.Error(err))
		})
		defer watcher.Close()
	}

	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// streamed replies stay open while the model generates
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server started",
			zap.String("addr", s.opts.Addr),
			zap.String("model", s.sess.Model()))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
