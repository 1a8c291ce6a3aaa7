// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the state of one conversation with the persona.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/huanhuan-chat/internal/model"
	"github.com/jeranaias/huanhuan-chat/internal/ollama"
	"github.com/jeranaias/huanhuan-chat/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyPrompt is returned for a prompt that is empty or whitespace.
	ErrEmptyPrompt = errors.New("empty prompt")

	// ErrNoHistory is returned by Load when there is no transcript to load.
	ErrNoHistory = errors.New("没有找到历史记录文件")
)

// DescribeError renders a generation failure as the text shown in place of
// a reply.
func DescribeError(err error) string {
	if code, ok := ollama.IsStatus(err); ok {
		return fmt.Sprintf("请求失败，状态码: %d", code)
	}
	var clientErr *ollama.ClientError
	if errors.As(err, &clientErr) && clientErr.Type == ollama.ErrTypeNoResponse {
		return "抱歉，臣妾暂时无法回应。"
	}
	return "对话出错: " + err.Error()
}

// =============================================================================
// TYPES
// =============================================================================

// Generator is the inference backend of a session.
type Generator interface {
	Generate(ctx context.Context, prompt string, params model.Params) (string, error)
	GenerateStream(ctx context.Context, prompt string, params model.Params) (*ollama.Stream, error)
	Model() string
	SetModel(name string)
}

// Exchange is the outcome of one prompt.
type Exchange struct {
	Prompt    string
	Reply     string // rendered error text when Err is set
	Entry     model.Entry
	Fragments int
	Duration  time.Duration
	Err       error
}

// Failed reports whether the reply is a rendered failure.
func (e Exchange) Failed() bool {
	return e.Err != nil
}

// Session tracks one conversation.
//
// Session is safe for concurrent use. Exchanges are serialized: a second
// Send waits for the first to finish, while readers such as Messages and
// Rounds never wait on a running exchange.
type Session struct {
	// turn serializes exchanges, loads and clears.
	turn sync.Mutex

	mu           sync.RWMutex
	id           string
	startTime    time.Time
	lastActivity time.Time
	params       model.Params
	messages     []model.Message
	entries      []model.Entry

	gen    Generator
	store  *storage.Store
	logger *zap.Logger

	// Render turns a generation failure into reply text. Defaults to
	// DescribeError.
	Render func(error) string
}

// New creates a session with default parameters. A nil logger discards logs.
func New(gen Generator, store *storage.Store, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now()
	id := "sess_" + uuid.NewString()
	return &Session{
		id:           id,
		startTime:    now,
		lastActivity: now,
		params:       model.DefaultParams(),
		messages:     []model.Message{},
		entries:      []model.Entry{},
		gen:          gen,
		store:        store,
		logger:       logger.With(zap.String("session", id)),
		Render:       DescribeError,
	}
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// StartTime returns when the session started.
func (s *Session) StartTime() time.Time {
	return s.startTime
}

// LastActivity returns the time of the last exchange, load or clear.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Messages returns a copy of the visible conversation.
func (s *Session) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Entries returns a copy of the transcript entries.
func (s *Session) Entries() []model.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries)
}

// Rounds returns the number of completed exchanges shown, counted as
// message pairs.
func (s *Session) Rounds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages) / 2
}

// Params returns the current sampling parameters.
func (s *Session) Params() model.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// SetParams replaces all sampling parameters after validating them.
func (s *Session) SetParams(p model.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()
	return nil
}

// SetParam parses and sets one sampling parameter by name.
func (s *Session) SetParam(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.params.With(name, value)
	if err != nil {
		return err
	}
	s.params = p
	return nil
}

// =============================================================================
// MODEL SELECTION
// =============================================================================

// Model returns the model used for generation.
func (s *Session) Model() string {
	return s.gen.Model()
}

// SetModel changes the model used for generation.
func (s *Session) SetModel(name string) {
	s.gen.SetModel(name)
	s.logger.Info("model selected", zap.String("model", name))
}

// SelectModel keeps the current model if it is available and otherwise
// switches to the first available one. It returns false, leaving the model
// unchanged, when nothing is available.
func (s *Session) SelectModel(available []string) bool {
	if len(available) == 0 {
		return false
	}
	current := s.gen.Model()
	if slices.Contains(available, current) {
		return true
	}
	s.logger.Warn("configured model not available",
		zap.String("model", current),
		zap.Strings("available", available))
	s.SetModel(available[0])
	return true
}

// =============================================================================
// EXCHANGES
// =============================================================================

// Send streams a reply to prompt, calling onFragment for each fragment as it
// arrives. The exchange is recorded whether or not generation succeeds; on
// failure the rendered error is delivered as a final fragment and the typed
// error is returned with the exchange.
func (s *Session) Send(ctx context.Context, prompt string, onFragment func(string)) (Exchange, error) {
	if strings.TrimSpace(prompt) == "" {
		return Exchange{}, ErrEmptyPrompt
	}
	if onFragment == nil {
		onFragment = func(string) {}
	}

	s.turn.Lock()
	defer s.turn.Unlock()

	params := s.begin(prompt)
	start := time.Now()

	var (
		reply     strings.Builder
		fragments int
		genErr    error
	)

	stream, err := s.gen.GenerateStream(ctx, prompt, params)
	if err != nil {
		genErr = err
	} else {
		for fragment := range stream.All() {
			reply.WriteString(fragment)
			fragments++
			onFragment(fragment)
		}
		genErr = stream.Err()
		stream.Close()
	}

	if genErr != nil {
		// Partial text is kept and the failure follows it.
		text := s.render(genErr)
		reply.WriteString(text)
		fragments++
		onFragment(text)
	}

	ex := s.finish(prompt, reply.String(), params, fragments, time.Since(start), genErr)
	return ex, genErr
}

// Ask requests a complete reply to prompt without streaming. Bookkeeping
// matches Send.
func (s *Session) Ask(ctx context.Context, prompt string) (Exchange, error) {
	if strings.TrimSpace(prompt) == "" {
		return Exchange{}, ErrEmptyPrompt
	}

	s.turn.Lock()
	defer s.turn.Unlock()

	params := s.begin(prompt)
	start := time.Now()

	reply, genErr := s.gen.Generate(ctx, prompt, params)
	if genErr != nil {
		reply = s.render(genErr)
	}

	ex := s.finish(prompt, reply, params, 1, time.Since(start), genErr)
	return ex, genErr
}

// begin records the user message and snapshots the parameters.
func (s *Session) begin(prompt string) model.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, model.NewUserMessage(prompt))
	return s.params
}

// finish records the assistant message and the transcript entry.
func (s *Session) finish(prompt, reply string, params model.Params, fragments int, elapsed time.Duration, genErr error) Exchange {
	entry := model.NewEntry(prompt, reply, params)

	s.mu.Lock()
	s.messages = append(s.messages, model.NewAssistantMessage(reply))
	s.entries = append(s.entries, entry)
	s.lastActivity = time.Now()
	s.mu.Unlock()

	fields := []zap.Field{
		zap.String("model", s.gen.Model()),
		zap.Int("prompt_len", len([]rune(prompt))),
		zap.Int("fragments", fragments),
		zap.Duration("duration", elapsed),
	}
	if genErr != nil {
		s.logger.Warn("exchange failed", append(fields, zap.Error(genErr))...)
	} else {
		s.logger.Debug("exchange complete", fields...)
	}

	return Exchange{
		Prompt:    prompt,
		Reply:     reply,
		Entry:     entry,
		Fragments: fragments,
		Duration:  elapsed,
		Err:       genErr,
	}
}

func (s *Session) render(err error) string {
	if s.Render != nil {
		return s.Render(err)
	}
	return DescribeError(err)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Clear empties the conversation and its transcript entries.
func (s *Session) Clear() {
	s.turn.Lock()
	defer s.turn.Unlock()

	s.mu.Lock()
	s.messages = []model.Message{}
	s.entries = []model.Entry{}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.logger.Debug("conversation cleared")
}

// Save writes the transcript entries to a new file and returns its path.
// An empty conversation is saved as an empty transcript.
func (s *Session) Save() (string, error) {
	s.turn.Lock()
	defer s.turn.Unlock()

	path, err := s.store.Save(s.Entries())
	if err != nil {
		s.logger.Error("save failed", zap.Error(err))
		return "", err
	}
	s.logger.Info("transcript saved", zap.String("path", path))
	return path, nil
}

// Load replaces the conversation with the most recent transcript and
// returns its path. When no transcript has entries it returns ErrNoHistory
// and leaves the session unchanged.
func (s *Session) Load() (string, error) {
	entries, path, err := s.store.Load()
	if err != nil {
		s.logger.Warn("load failed", zap.String("path", path), zap.Error(err))
		return path, err
	}
	// An empty transcript reports no history instead of wiping the
	// current conversation.
	if len(entries) == 0 {
		return path, ErrNoHistory
	}
	s.replace(entries)
	s.logger.Info("transcript loaded", zap.String("path", path), zap.Int("entries", len(entries)))
	return path, nil
}

// LoadFile replaces the conversation with the named transcript.
func (s *Session) LoadFile(name string) error {
	entries, err := s.store.LoadFile(name)
	if err != nil {
		return err
	}
	s.replace(entries)
	return nil
}

func (s *Session) replace(entries []model.Entry) {
	s.turn.Lock()
	defer s.turn.Unlock()

	s.mu.Lock()
	s.entries = entries
	s.messages = storage.ToMessages(entries)
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Store returns the transcript store.
func (s *Session) Store() *storage.Store {
	return s.store
}
