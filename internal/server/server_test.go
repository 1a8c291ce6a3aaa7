// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/huanhuan-chat/internal/config"
	"github.com/jeranaias/huanhuan-chat/internal/model"
	"github.com/jeranaias/huanhuan-chat/internal/ollama"
	"github.com/jeranaias/huanhuan-chat/internal/session"
	"github.com/jeranaias/huanhuan-chat/internal/storage"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeOllama answers model listing and generation requests.
func fakeOllama(t *testing.T, models []string, generateStatus int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			var resp ollama.ListModelsResponse
			for _, name := range models {
				resp.Models = append(resp.Models, ollama.ModelInfo{Name: name})
			}
			json.NewEncoder(w).Encode(resp)

		case "/api/generate":
			if generateStatus != http.StatusOK {
				w.WriteHeader(generateStatus)
				return
			}
			var req ollama.GenerateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if !req.Stream {
				json.NewEncoder(w).Encode(map[string]any{"response": "臣妾在此", "done": true})
				return
			}
			for _, chunk := range []string{
				`{"response":"臣妾"}`,
				`{"response":"在此"}`,
				`{"response":"","done":true}`,
			} {
				w.Write([]byte(chunk + "\n"))
			}

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	srv   *Server
	sess  *session.Session
	store *storage.Store
}

func newTestEnv(t *testing.T, opts Options, models []string, generateStatus int) *testEnv {
	t.Helper()
	backend := fakeOllama(t, models, generateStatus)
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: backend.URL})
	store := storage.NewStore(filepath.Join(t.TempDir(), "chat_history"))
	sess := session.New(client, store, nil)
	if opts.Persona.Title == "" {
		opts.Persona = config.Default().Persona
	}
	return &testEnv{srv: New(opts, client, sess, nil), sess: sess, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// PAGE AND STATUS TESTS
// =============================================================================

func TestIndexPage(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusOK)

	rec := env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/api/chat")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, Options{}, []string{"huanhuan-qwen"}, http.StatusOK)

	rec := env.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Connected)
	assert.Equal(t, "huanhuan-qwen", status.Model)
	assert.Equal(t, 0, status.Rounds)
	assert.Equal(t, env.sess.ID(), status.Session)
}

func TestRequestID_KeepsValidHeader(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusOK)

	const id = "3f2b8c1e-9a4d-4f6e-8b7a-1c2d3e4f5a6b"
	req := httptest.NewRequest(http.MethodGet, "/api/params", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/api/params", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(RequestIDHeader))
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusOK)
	rec := env.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// MODEL TESTS
// =============================================================================

func TestModels_SelectsFirstWhenConfiguredMissing(t *testing.T) {
	env := newTestEnv(t, Options{}, []string{"llama3", "qwen2"}, http.StatusOK)

	rec := env.do(t, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "llama3", out["selected"])
	assert.Equal(t, true, out["available"])
	assert.Equal(t, "llama3", env.sess.Model())
}

func TestSetModel(t *testing.T) {
	env := newTestEnv(t, Options{}, []string{"huanhuan-qwen", "qwen2"}, http.StatusOK)

	rec := env.do(t, http.MethodPut, "/api/model", `{"name":"qwen2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "qwen2", env.sess.Model())

	rec = env.do(t, http.MethodPut, "/api/model", `{"name":"gpt"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/model", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PARAMS AND PERSONA TESTS
// =============================================================================

func TestParams(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusOK)

	rec := env.do(t, http.MethodGet, "/api/params", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"temperature":0.7,"top_p":0.9,"top_k":40,"max_tokens":256}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/params", `{"temperature":1.2,"top_p":0.5,"top_k":10,"max_tokens":100}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.Params{Temperature: 1.2, TopP: 0.5, TopK: 10, MaxTokens: 100}, env.sess.Params())

	rec = env.do(t, http.MethodPut, "/api/params", `{"temperature":9,"top_p":0.5,"top_k":10,"max_tokens":100}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "temperature")
	assert.Equal(t, 1.2, env.sess.Params().Temperature)
}

func TestPersona(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusOK)

	rec := env.do(t, http.MethodGet, "/api/persona", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "Chat-嬛嬛", out["title"])
	assert.Len(t, out["examples"], 6)
}

// =============================================================================
// CHAT TESTS
// =============================================================================

func TestChat_Streaming(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusOK)

	rec := env.do(t, http.MethodPost, "/api/chat", `{"prompt":"你好"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/x-ndjson")

	var lines []StreamLine
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var line StreamLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 4)

	var text strings.Builder
	for _, l := range lines[:3] {
		require.NotNil(t, l.Fragment)
		text.WriteString(*l.Fragment)
	}
	assert.Equal(t, "臣妾在此", text.String())
	assert.True(t, lines[3].Done)
	assert.Equal(t, 1, lines[3].Rounds)
	assert.False(t, lines[3].Failed)

	msgs := env.sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "臣妾在此", msgs[1].Content)
}

func TestChat_NonStreaming(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusOK)

	rec := env.do(t, http.MethodPost, "/api/chat", `{"prompt":"你好","stream":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "臣妾在此", resp.Reply)
	assert.Equal(t, 1, resp.Rounds)
	assert.False(t, resp.Failed)
}

func TestChat_StatusFailureRenderedAsReply(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusInternalServerError)

	rec := env.do(t, http.MethodPost, "/api/chat", `{"prompt":"你好","stream":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "请求失败，状态码: 500", resp.Reply)
	assert.True(t, resp.Failed)
	assert.Equal(t, "status", resp.ErrorType)
}

func TestChat_EmptyPrompt(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusOK)

	for _, body := range []string{`{"prompt":""}`, `{"prompt":"   "}`, `not json`} {
		rec := env.do(t, http.MethodPost, "/api/chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, 0, env.sess.Rounds())
}

func TestChat_RateLimited(t *testing.T) {
	env := newTestEnv(t, Options{RatePerMinute: 2}, nil, http.StatusOK)

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/chat", `{"prompt":"你好","stream":false}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/chat", `{"prompt":"你好","stream":false}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// other routes are not limited
	rec = env.do(t, http.MethodGet, "/api/messages", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMessagesAndClear(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusOK)
	env.do(t, http.MethodPost, "/api/chat", `{"prompt":"你好","stream":false}`)

	out := decode(t, env.do(t, http.MethodGet, "/api/messages", ""))
	assert.Len(t, out["messages"], 2)
	assert.Equal(t, float64(1), out["rounds"])

	rec := env.do(t, http.MethodDelete, "/api/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.sess.Messages())
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestHistory_SaveListLoad(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusOK)
	env.do(t, http.MethodPost, "/api/chat", `{"prompt":"你好","stream":false}`)

	rec := env.do(t, http.MethodPost, "/api/history/save", "")
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decode(t, rec)
	assert.FileExists(t, saved["path"].(string))
	assert.True(t, strings.HasPrefix(saved["file"].(string), "huanhuan_chat_"))

	list := decode(t, env.do(t, http.MethodGet, "/api/history", ""))
	files := list["files"].([]any)
	require.Len(t, files, 1)
	assert.Equal(t, saved["file"], files[0].(map[string]any)["name"])

	env.do(t, http.MethodDelete, "/api/messages", "")

	rec = env.do(t, http.MethodPost, "/api/history/load", "")
	require.Equal(t, http.StatusOK, rec.Code)
	loaded := decode(t, rec)
	assert.Equal(t, saved["file"], loaded["file"])
	assert.Len(t, loaded["messages"], 2)
	assert.Equal(t, 1, env.sess.Rounds())

	rec = env.do(t, http.MethodPost, "/api/history/load", `{"file":"`+saved["file"].(string)+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHistory_LoadNothing(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusOK)

	rec := env.do(t, http.MethodPost, "/api/history/load", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "没有找到历史记录文件", decode(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/history/load", `{"file":"../secret.json"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	list := decode(t, env.do(t, http.MethodGet, "/api/history", ""))
	assert.Empty(t, list["files"])
}

func TestHistory_LoadMalformed(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusOK)
	require.NoError(t, os.MkdirAll(env.store.Dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(env.store.Dir, "huanhuan_chat_20250101_000000.json"), []byte("{oops"), 0644))

	rec := env.do(t, http.MethodPost, "/api/history/load", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.True(t, strings.HasPrefix(decode(t, rec)["error"].(string), "加载失败: "))
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, Options{}, nil, http.StatusOK)

	rec := env.do(t, http.MethodGet, "/api/export", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.do(t, http.MethodPost, "/api/chat", `{"prompt":"你好","stream":false}`)

	rec = env.do(t, http.MethodGet, "/api/export?format=html", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".html")
	assert.Contains(t, rec.Body.String(), "臣妾在此")

	rec = env.do(t, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")

	rec = env.do(t, http.MethodGet, "/api/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(1)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, Options{CORSOrigins: []string{"http://localhost:3000"}}, nil, http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/api/params", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/params", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
