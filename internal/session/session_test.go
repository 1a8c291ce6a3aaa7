// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/huanhuan-chat/internal/model"
	"github.com/jeranaias/huanhuan-chat/internal/ollama"
	"github.com/jeranaias/huanhuan-chat/internal/storage"
)

// =============================================================================
// FAKE GENERATOR
// =============================================================================

type fakeGenerator struct {
	model string

	// ndjson is the streamed body; streamErr fails the request instead.
	ndjson    string
	streamErr error

	reply    string
	replyErr error

	prompts []string
	params  []model.Params
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, params model.Params) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.params = append(f.params, params)
	return f.reply, f.replyErr
}

func (f *fakeGenerator) GenerateStream(_ context.Context, prompt string, params model.Params) (*ollama.Stream, error) {
	f.prompts = append(f.prompts, prompt)
	f.params = append(f.params, params)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return ollama.NewStream(io.NopCloser(strings.NewReader(f.ndjson))), nil
}

func (f *fakeGenerator) Model() string        { return f.model }
func (f *fakeGenerator) SetModel(name string) { f.model = name }

// failingBody yields some data and then a read error.
type failingBody struct {
	r io.Reader
}

func (b *failingBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF {
		return n, errors.New("connection reset")
	}
	return n, err
}

func (b *failingBody) Close() error { return nil }

type brokenStreamGenerator struct {
	fakeGenerator
	partial string
}

func (g *brokenStreamGenerator) GenerateStream(context.Context, string, model.Params) (*ollama.Stream, error) {
	return ollama.NewStream(&failingBody{r: strings.NewReader(g.partial)}), nil
}

func newTestSession(t *testing.T, gen Generator) *Session {
	t.Helper()
	return New(gen, storage.NewStore(filepath.Join(t.TempDir(), "chat_history")), nil)
}

// =============================================================================
// ERROR RENDERING TESTS
// =============================================================================

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"status", &ollama.ClientError{Type: ollama.ErrTypeStatus, StatusCode: 404, Message: "x"}, "请求失败，状态码: 404"},
		{"no response", ollama.ErrNoResponse, "抱歉，臣妾暂时无法回应。"},
		{"connection", &ollama.ClientError{Type: ollama.ErrTypeConnection, Message: "connection failed"}, "对话出错: connection failed"},
		{"other", errors.New("boom"), "对话出错: boom"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DescribeError(tc.err))
		})
	}
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSend_StreamsAndRecords(t *testing.T) {
	gen := &fakeGenerator{
		model:  "huanhuan-qwen",
		ndjson: "{\"response\":\"臣妾\"}\n{\"response\":\"在此\"}\n{\"response\":\"\",\"done\":true}\n",
	}
	s := newTestSession(t, gen)

	var got []string
	ex, err := s.Send(context.Background(), "你好", func(f string) { got = append(got, f) })
	require.NoError(t, err)

	assert.Equal(t, []string{"臣妾", "在此", ""}, got)
	assert.Equal(t, "臣妾在此", ex.Reply)
	assert.False(t, ex.Failed())
	assert.Equal(t, 3, ex.Fragments)

	want := []model.Message{
		model.NewUserMessage("你好"),
		model.NewAssistantMessage("臣妾在此"),
	}
	if diff := cmp.Diff(want, s.Messages()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, s.Entries(), 1)
	entry := s.Entries()[0]
	assert.Equal(t, "你好", entry.User)
	assert.Equal(t, "臣妾在此", entry.Assistant)
	assert.Equal(t, model.DefaultParams(), entry.Params)
	assert.Equal(t, 1, s.Rounds())
}

func TestSend_UsesCurrentParams(t *testing.T) {
	gen := &fakeGenerator{ndjson: "{\"response\":\"a\",\"done\":true}\n"}
	s := newTestSession(t, gen)
	require.NoError(t, s.SetParam("temperature", "1.5"))

	ex, err := s.Send(context.Background(), "hi", nil)
	require.NoError(t, err)

	require.Len(t, gen.params, 1)
	assert.Equal(t, 1.5, gen.params[0].Temperature)
	assert.Equal(t, 1.5, ex.Entry.Params.Temperature)
}

func TestSend_EmptyPrompt(t *testing.T) {
	gen := &fakeGenerator{}
	s := newTestSession(t, gen)

	for _, p := range []string{"", "   ", "\n\t"} {
		_, err := s.Send(context.Background(), p, nil)
		assert.ErrorIs(t, err, ErrEmptyPrompt)
	}
	assert.Empty(t, gen.prompts)
	assert.Empty(t, s.Messages())
	assert.Equal(t, 0, s.Rounds())
}

func TestSend_StatusFailureBecomesReply(t *testing.T) {
	gen := &fakeGenerator{streamErr: &ollama.ClientError{Type: ollama.ErrTypeStatus, StatusCode: 500, Message: "generate request failed: status 500"}}
	s := newTestSession(t, gen)

	var got []string
	ex, err := s.Send(context.Background(), "你好", func(f string) { got = append(got, f) })
	require.Error(t, err)

	assert.Equal(t, []string{"请求失败，状态码: 500"}, got)
	assert.True(t, ex.Failed())
	assert.Equal(t, "请求失败，状态码: 500", ex.Reply)
	assert.Equal(t, "请求失败，状态码: 500", s.Entries()[0].Assistant)
	assert.Equal(t, 1, s.Rounds())
}

func TestSend_CustomRender(t *testing.T) {
	gen := &fakeGenerator{streamErr: errors.New("down")}
	s := newTestSession(t, gen)
	s.Render = func(err error) string { return "ERR " + err.Error() }

	ex, err := s.Send(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Equal(t, "ERR down", ex.Reply)
}

func TestSend_InterruptedStreamKeepsPartialText(t *testing.T) {
	gen := &brokenStreamGenerator{partial: "{\"response\":\"臣妾\"}\n"}
	s := newTestSession(t, gen)

	var got []string
	ex, err := s.Send(context.Background(), "你好", func(f string) { got = append(got, f) })
	require.Error(t, err)
	assert.True(t, ollama.IsConnection(err))

	require.Len(t, got, 2)
	assert.Equal(t, "臣妾", got[0])
	assert.True(t, strings.HasPrefix(got[1], "对话出错: "))
	assert.Equal(t, got[0]+got[1], ex.Reply)
}

// =============================================================================
// ASK TESTS
// =============================================================================

func TestAsk(t *testing.T) {
	gen := &fakeGenerator{reply: "臣妾在此"}
	s := newTestSession(t, gen)

	ex, err := s.Ask(context.Background(), "你好")
	require.NoError(t, err)
	assert.Equal(t, "臣妾在此", ex.Reply)
	assert.Equal(t, 1, s.Rounds())
}

func TestAsk_NoResponse(t *testing.T) {
	gen := &fakeGenerator{replyErr: ollama.ErrNoResponse}
	s := newTestSession(t, gen)

	ex, err := s.Ask(context.Background(), "你好")
	require.ErrorIs(t, err, ollama.ErrNoResponse)
	assert.Equal(t, "抱歉，臣妾暂时无法回应。", ex.Reply)
	assert.Equal(t, "抱歉，臣妾暂时无法回应。", s.Messages()[1].Content)
}

// =============================================================================
// PERSISTENCE TESTS
// =============================================================================

func TestSaveClearLoad(t *testing.T) {
	gen := &fakeGenerator{reply: "臣妾在此"}
	s := newTestSession(t, gen)

	_, err := s.Ask(context.Background(), "你好")
	require.NoError(t, err)

	path, err := s.Save()
	require.NoError(t, err)
	assert.FileExists(t, path)

	s.Clear()
	assert.Empty(t, s.Messages())
	assert.Empty(t, s.Entries())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, path, loaded)

	want := []model.Message{
		model.NewUserMessage("你好"),
		model.NewAssistantMessage("臣妾在此"),
	}
	if diff := cmp.Diff(want, s.Messages()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, s.Entries(), 1)
}

func TestLoad_NoHistoryLeavesSession(t *testing.T) {
	gen := &fakeGenerator{reply: "a"}
	s := newTestSession(t, gen)
	_, err := s.Ask(context.Background(), "q")
	require.NoError(t, err)

	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNoHistory)
	assert.Equal(t, 1, s.Rounds())
}

func TestLoad_MalformedLeavesSession(t *testing.T) {
	gen := &fakeGenerator{reply: "a"}
	s := newTestSession(t, gen)
	_, err := s.Ask(context.Background(), "q")
	require.NoError(t, err)

	dir := s.Store().Dir
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "huanhuan_chat_20250101_000000.json"), []byte("{"), 0644))

	_, err = s.Load()
	var decodeErr *storage.DecodeError
	assert.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, 1, s.Rounds())
}

// =============================================================================
// MODEL AND PARAM TESTS
// =============================================================================

func TestSelectModel(t *testing.T) {
	gen := &fakeGenerator{model: "huanhuan-qwen"}
	s := newTestSession(t, gen)

	assert.False(t, s.SelectModel(nil))
	assert.Equal(t, "huanhuan-qwen", s.Model())

	assert.True(t, s.SelectModel([]string{"llama3", "huanhuan-qwen"}))
	assert.Equal(t, "huanhuan-qwen", s.Model())

	assert.True(t, s.SelectModel([]string{"llama3", "qwen2"}))
	assert.Equal(t, "llama3", s.Model())
}

func TestSetParam_Invalid(t *testing.T) {
	s := newTestSession(t, &fakeGenerator{})

	assert.Error(t, s.SetParam("top_p", "0"))
	assert.Error(t, s.SetParam("bogus", "1"))
	assert.Equal(t, model.DefaultParams(), s.Params())

	assert.Error(t, s.SetParams(model.Params{Temperature: 3, TopP: 0.5, TopK: 10, MaxTokens: 100}))
	assert.NoError(t, s.SetParams(model.Params{Temperature: 1, TopP: 0.5, TopK: 10, MaxTokens: 100}))
	assert.Equal(t, 10, s.Params().TopK)
}

func TestSessionID(t *testing.T) {
	s := newTestSession(t, &fakeGenerator{})
	assert.True(t, strings.HasPrefix(s.ID(), "sess_"))
	assert.False(t, s.StartTime().IsZero())
}
