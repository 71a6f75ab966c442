package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lennartpollvogt/mochi-server/internal/agents"
	"github.com/lennartpollvogt/mochi-server/internal/confirm"
	"github.com/lennartpollvogt/mochi-server/internal/orchestrator"
	"github.com/lennartpollvogt/mochi-server/internal/prompts"
	"github.com/lennartpollvogt/mochi-server/internal/store"
	"github.com/lennartpollvogt/mochi-server/internal/tools"
	"github.com/lennartpollvogt/mochi-server/internal/upstream"
)

// fakeUpstream is a minimal upstream.Client stand-in so tests never talk
// to a real daemon.
type fakeUpstream struct {
	models map[string]upstream.ModelInfo
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{models: map[string]upstream.ModelInfo{
		"llama3:latest": {Name: "llama3:latest", ContextLength: 8192, Capabilities: []string{"completion"}},
		"embed:latest":  {Name: "embed:latest", ContextLength: 512, Capabilities: []string{"embedding"}},
	}}
}

// ListModels mirrors the real Client's contract: only completion-capable
// models are returned, so this fake exercises the same filtering
// httpapi's listModels handler now relies on rather than duplicating.
func (f *fakeUpstream) ListModels(ctx context.Context) ([]upstream.ModelInfo, error) {
	out := make([]upstream.ModelInfo, 0, len(f.models))
	for _, m := range f.models {
		if m.HasCapability("completion") {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeUpstream) GetModel(ctx context.Context, name string) (*upstream.ModelInfo, error) {
	m, ok := f.models[name]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeUpstream) ChatStream(ctx context.Context, req upstream.ChatRequest) (<-chan upstream.Chunk, <-chan error) {
	chunks := make(chan upstream.Chunk, 1)
	errs := make(chan error, 1)
	chunks <- upstream.Chunk{Model: req.Model, Message: upstream.Message{Role: "assistant", Content: "hi"}, Done: true}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (f *fakeUpstream) StructuredChat(ctx context.Context, req upstream.ChatRequest) (upstream.Chunk, error) {
	return upstream.Chunk{Model: req.Model, Message: upstream.Message{Role: "assistant", Content: "{}"}, Done: true}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sessions, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	up := newFakeUpstream()

	native := tools.NewNativeRegistry()
	toolReg := tools.New(t.TempDir(), native, 4, logger)
	if err := toolReg.Reload(context.Background()); err != nil {
		t.Fatalf("toolReg.Reload: %v", err)
	}

	agentReg := agents.New(t.TempDir(), native, 4, sessions, logger)
	if err := agentReg.Reload(context.Background()); err != nil {
		t.Fatalf("agentReg.Reload: %v", err)
	}
	subAgent := agents.NewSubOrchestrator(up, "llama3:latest", 3, "", "")

	confirms := confirm.New()
	orch := orchestrator.New(sessions, up, toolReg, agentReg, subAgent, confirms, nil, 0, 0, logger)

	promptStore, err := prompts.New(t.TempDir())
	if err != nil {
		t.Fatalf("prompts.New: %v", err)
	}

	return New(sessions, up, toolReg, agentReg, confirms, orch, nil, promptStore, time.Minute, true, logger)
}

func doRequest(t *testing.T, s *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := s.Echo()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsUpstreamReachable(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["upstream_reachable"] != true {
		t.Fatalf("expected upstream_reachable true, got %+v", body)
	}
}

func TestListModelsFiltersByCompletionCapability(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Models []upstream.ModelInfo `json:"models"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Models) != 1 || body.Models[0].Name != "llama3:latest" {
		t.Fatalf("expected only the completion-capable model, got %+v", body.Models)
	}
}

func TestCreateSessionRejectsUnknownModel(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions", `{"model":"nonexistent:latest"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Error.Code != "MODEL_NOT_FOUND" {
		t.Fatalf("expected MODEL_NOT_FOUND, got %+v", body)
	}
}

func TestCreateAndFetchSessionRoundTrip(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions", `{"model":"llama3:latest"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Metadata struct {
			SessionID string `json:"session_id"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding create response: %v", err)
	}
	if created.Metadata.SessionID == "" {
		t.Fatal("expected a minted session id")
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/sessions/"+created.Metadata.SessionID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateSessionDefaultsDynamicContextFromServerConfig(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions", `{"model":"llama3:latest"}`)
	var created struct {
		Metadata struct {
			SessionID     string `json:"session_id"`
			ContextWindow struct {
				DynamicEnabled bool `json:"dynamic_enabled"`
			} `json:"context_window_config"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding create response: %v", err)
	}
	if !created.Metadata.ContextWindow.DynamicEnabled {
		t.Fatalf("expected dynamic_enabled true by default, got %+v", created.Metadata)
	}

	rec = doRequest(t, s, http.MethodPatch, "/api/v1/sessions/"+created.Metadata.SessionID, `{"context_window_config":{"dynamic_enabled":false,"manual_override":true}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var patched struct {
		Metadata struct {
			ContextWindow struct {
				DynamicEnabled bool `json:"dynamic_enabled"`
				ManualOverride bool `json:"manual_override"`
			} `json:"context_window_config"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &patched); err != nil {
		t.Fatalf("decoding patch response: %v", err)
	}
	if patched.Metadata.ContextWindow.DynamicEnabled {
		t.Fatalf("expected dynamic_enabled flipped to false, got %+v", patched.Metadata)
	}
	if !patched.Metadata.ContextWindow.ManualOverride {
		t.Fatalf("expected manual_override true, got %+v", patched.Metadata)
	}
}

func TestGetSessionNotFoundRendersEnvelope(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/sessions/doesnotexist", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "SESSION_NOT_FOUND") {
		t.Fatalf("expected SESSION_NOT_FOUND in body, got %s", rec.Body.String())
	}
}

func TestNonStreamingChatRunsATurn(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions", `{"model":"llama3:latest"}`)
	var created struct {
		Metadata struct {
			SessionID string `json:"session_id"`
		} `json:"metadata"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/chat/"+created.Metadata.SessionID, `{"message":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding chat response: %v", err)
	}
	if result.Message.Content != "hi" {
		t.Fatalf("expected the fake upstream's reply, got %+v", result)
	}
}

func TestConfirmToolWithNoPendingConfirmationIsNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/chat/any/confirm-tool", `{"confirmation_id":"missing","approved":true}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSystemPromptCRUDThroughHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/system-prompts", `{"filename":"helpful.md","content":"Be helpful."}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/system-prompts/helpful.md", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodDelete, "/api/v1/system-prompts/helpful.md", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/system-prompts/helpful.md", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d: %s", rec.Code, rec.Body.String())
	}
}
