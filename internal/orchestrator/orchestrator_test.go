package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lennartpollvogt/mochi-server/internal/confirm"
	"github.com/lennartpollvogt/mochi-server/internal/events"
	"github.com/lennartpollvogt/mochi-server/internal/session"
	"github.com/lennartpollvogt/mochi-server/internal/store"
	"github.com/lennartpollvogt/mochi-server/internal/tools"
	"github.com/lennartpollvogt/mochi-server/internal/upstream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClient streams one round's worth of chunks per ChatStream call, taken
// in order from rounds. GetModel always resolves to a fixed ModelInfo.
type fakeClient struct {
	rounds [][]upstream.Chunk
	call   int
}

func (f *fakeClient) ListModels(ctx context.Context) ([]upstream.ModelInfo, error) { return nil, nil }

func (f *fakeClient) GetModel(ctx context.Context, name string) (*upstream.ModelInfo, error) {
	return &upstream.ModelInfo{Name: name, ContextLength: 8192}, nil
}

func (f *fakeClient) ChatStream(ctx context.Context, req upstream.ChatRequest) (<-chan upstream.Chunk, <-chan error) {
	chunks := make(chan upstream.Chunk, 8)
	errs := make(chan error, 1)

	round := f.rounds[f.call]
	f.call++
	go func() {
		defer close(chunks)
		for _, c := range round {
			chunks <- c
		}
	}()
	return chunks, errs
}

func (f *fakeClient) StructuredChat(ctx context.Context, req upstream.ChatRequest) (upstream.Chunk, error) {
	return upstream.Chunk{}, nil
}

var _ upstream.Client = (*fakeClient)(nil)

type recordingSink struct {
	events []events.Event
}

func (r *recordingSink) Emit(e events.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) names() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

func (r *recordingSink) has(name string) bool {
	for _, n := range r.names() {
		if n == name {
			return true
		}
	}
	return false
}

// denyingSink resolves a confirmation to "denied" as soon as it sees the
// request, synchronously within Emit, so the test never has to poll
// RunTurn's in-flight state from another goroutine.
type denyingSink struct {
	recordingSink
	broker *confirm.Broker
}

func (d *denyingSink) Emit(e events.Event) error {
	if err := d.recordingSink.Emit(e); err != nil {
		return err
	}
	if e.Name == events.ToolCallConfirmationRequired {
		d.broker.Resolve(e.Data["confirmation_id"].(string), false)
	}
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return s
}

func newSessionWithMessage(t *testing.T, s *store.Store, model, userMessage string) string {
	t.Helper()
	sess, err := s.Create(model, "", "", nil, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if userMessage != "" {
		if _, err := s.AppendMessage(sess.Metadata.SessionID, session.Message{
			Role:      session.RoleUser,
			ID:        "u000000001",
			Timestamp: time.Now().UTC(),
			Content:   userMessage,
		}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	return sess.Metadata.SessionID
}

func newEchoToolRegistry(t *testing.T, destructive bool) *tools.Registry {
	t.Helper()
	dir := t.TempDir()
	toolDir := filepath.Join(dir, "echo")
	if err := os.MkdirAll(toolDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	manifest := "name: echo\ndescription: echoes input\nprovider: native\n"
	if destructive {
		manifest += "destructive: true\n"
	}
	if err := os.WriteFile(filepath.Join(toolDir, "tool.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	native := tools.NewNativeRegistry()
	native.Register("echo", tools.NativeEntry{
		Description: "echoes input",
		Params:      struct{}{},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "echoed", nil
		},
	})

	reg := tools.New(dir, native, 4, discardLogger())
	if err := reg.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	return reg
}

func newOrchestrator(client upstream.Client, sessions *store.Store, toolReg *tools.Registry, confirms *confirm.Broker) *Orchestrator {
	return New(sessions, client, toolReg, nil, nil, confirms, nil, 0, 0, discardLogger())
}

func TestRunTurnHappyPathStreamsAndCompletes(t *testing.T) {
	sessions := newTestStore(t)
	sessionID := newSessionWithMessage(t, sessions, "llama3", "hello")

	client := &fakeClient{rounds: [][]upstream.Chunk{
		{
			{Message: upstream.Message{Content: "Hi "}},
			{Message: upstream.Message{Content: "there."}, Done: true, EvalCount: 5, PromptEvalCount: 10},
		},
	}}

	o := newOrchestrator(client, sessions, tools.New(t.TempDir(), tools.NewNativeRegistry(), 4, discardLogger()), confirm.New())
	sink := &recordingSink{}

	result, err := o.RunTurn(context.Background(), TurnRequest{SessionID: sessionID}, sink)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Message.Content != "Hi there." {
		t.Fatalf("expected accumulated content 'Hi there.', got %q", result.Message.Content)
	}
	if result.ToolCallsExecuted != 0 {
		t.Fatalf("expected zero tool calls, got %d", result.ToolCallsExecuted)
	}
	if !sink.has(events.MessageComplete) || !sink.has(events.Done) {
		t.Fatalf("expected message_complete and done events, got %v", sink.names())
	}
	if sink.has(events.Error) {
		t.Fatalf("expected no error event, got %v", sink.names())
	}

	sess, err := sessions.Get(sessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("expected user + assistant messages persisted, got %d", len(sess.Messages))
	}
}

func TestRunTurnValidationErrorWithNoHistoryAndNoMessage(t *testing.T) {
	sessions := newTestStore(t)
	sessionID := newSessionWithMessage(t, sessions, "llama3", "")

	o := newOrchestrator(&fakeClient{}, sessions, tools.New(t.TempDir(), tools.NewNativeRegistry(), 4, discardLogger()), confirm.New())
	_, err := o.RunTurn(context.Background(), TurnRequest{SessionID: sessionID}, nil)
	if err == nil {
		t.Fatal("expected validation error for empty session with no message")
	}
}

func TestRunTurnExecutesToolDirectlyUnderNeverConfirmPolicy(t *testing.T) {
	sessions := newTestStore(t)
	sessionID := newSessionWithMessage(t, sessions, "llama3", "echo something")
	if _, err := sessions.PatchMetadata(sessionID, func(m *session.Metadata) {
		m.ToolSettings = session.ToolSettings{Enabled: []string{"echo"}, Policy: session.PolicyNeverConfirm}
	}); err != nil {
		t.Fatalf("PatchMetadata: %v", err)
	}

	toolReg := newEchoToolRegistry(t, true) // destructive, but never_confirm skips confirmation anyway

	client := &fakeClient{rounds: [][]upstream.Chunk{
		{
			{Message: upstream.Message{
				ToolCalls: []upstream.ToolCall{{Function: upstream.FunctionCall{Name: "echo", Arguments: map[string]interface{}{}}}},
			}, Done: true},
		},
		{
			{Message: upstream.Message{Content: "Result: echoed"}, Done: true},
		},
	}}

	o := newOrchestrator(client, sessions, toolReg, confirm.New())
	sink := &recordingSink{}

	result, err := o.RunTurn(context.Background(), TurnRequest{SessionID: sessionID}, sink)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.ToolCallsExecuted != 1 {
		t.Fatalf("expected 1 tool call executed, got %d", result.ToolCallsExecuted)
	}
	if result.Message.Content != "Result: echoed" {
		t.Fatalf("expected final content, got %q", result.Message.Content)
	}
	if sink.has(events.ToolCallConfirmationRequired) {
		t.Fatal("never_confirm policy should never request confirmation")
	}
	if !sink.has(events.ToolCall) || !sink.has(events.ToolResult) {
		t.Fatalf("expected tool_call and tool_result events, got %v", sink.names())
	}
}

func TestRunTurnConfirmationDeniedProducesSyntheticToolResult(t *testing.T) {
	sessions := newTestStore(t)
	sessionID := newSessionWithMessage(t, sessions, "llama3", "delete it")
	if _, err := sessions.PatchMetadata(sessionID, func(m *session.Metadata) {
		m.ToolSettings = session.ToolSettings{Enabled: []string{"echo"}, Policy: session.PolicyConfirmDestructive}
	}); err != nil {
		t.Fatalf("PatchMetadata: %v", err)
	}

	toolReg := newEchoToolRegistry(t, true)

	client := &fakeClient{rounds: [][]upstream.Chunk{
		{
			{Message: upstream.Message{
				ToolCalls: []upstream.ToolCall{{Function: upstream.FunctionCall{Name: "echo", Arguments: map[string]interface{}{}}}},
			}, Done: true},
		},
		{
			{Message: upstream.Message{Content: "done"}, Done: true},
		},
	}}

	broker := confirm.New()
	o := newOrchestrator(client, sessions, toolReg, broker)
	sink := &denyingSink{broker: broker}

	result, err := o.RunTurn(context.Background(), TurnRequest{SessionID: sessionID}, sink)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.ToolCallsExecuted != 0 {
		t.Fatalf("expected denied tool call to not count as executed, got %d", result.ToolCallsExecuted)
	}
	if !sink.has(events.ToolCallConfirmationRequired) {
		t.Fatalf("expected tool_call_confirmation_required, got %v", sink.names())
	}

	sess, err := sessions.Get(sessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var sawDenied bool
	for _, m := range sess.Messages {
		if m.Role == session.RoleTool && m.Content == "" {
			sawDenied = true
		}
	}
	if !sawDenied {
		t.Fatal("expected a persisted tool message for the denied call")
	}
}

func TestRunTurnConfirmationTimeoutDeniesToolCall(t *testing.T) {
	sessions := newTestStore(t)
	sessionID := newSessionWithMessage(t, sessions, "llama3", "delete it")
	if _, err := sessions.PatchMetadata(sessionID, func(m *session.Metadata) {
		m.ToolSettings = session.ToolSettings{Enabled: []string{"echo"}, Policy: session.PolicyAlwaysConfirm}
	}); err != nil {
		t.Fatalf("PatchMetadata: %v", err)
	}

	toolReg := newEchoToolRegistry(t, false)

	client := &fakeClient{rounds: [][]upstream.Chunk{
		{
			{Message: upstream.Message{
				ToolCalls: []upstream.ToolCall{{Function: upstream.FunctionCall{Name: "echo", Arguments: map[string]interface{}{}}}},
			}, Done: true},
		},
		{
			{Message: upstream.Message{Content: "done"}, Done: true},
		},
	}}

	o := New(sessions, client, toolReg, nil, nil, confirm.New(), nil, 10*time.Millisecond, 0, discardLogger())
	sink := &recordingSink{}

	result, err := o.RunTurn(context.Background(), TurnRequest{SessionID: sessionID}, sink)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.ToolCallsExecuted != 0 {
		t.Fatalf("expected timed-out call to not count as executed, got %d", result.ToolCallsExecuted)
	}

	var sawTimeoutReason bool
	for _, e := range sink.events {
		if e.Name == events.ToolResult && e.Data["reason"] == "timeout" {
			sawTimeoutReason = true
		}
	}
	if !sawTimeoutReason {
		t.Fatalf("expected a tool_result event carrying reason=timeout, got %v", sink.names())
	}
}

func TestRunTurnToolLoopExhaustionEmitsError(t *testing.T) {
	sessions := newTestStore(t)
	sessionID := newSessionWithMessage(t, sessions, "llama3", "echo forever")
	if _, err := sessions.PatchMetadata(sessionID, func(m *session.Metadata) {
		m.ToolSettings = session.ToolSettings{Enabled: []string{"echo"}, Policy: session.PolicyNeverConfirm}
	}); err != nil {
		t.Fatalf("PatchMetadata: %v", err)
	}

	toolReg := newEchoToolRegistry(t, false)

	toolCallChunk := upstream.Chunk{Message: upstream.Message{
		ToolCalls: []upstream.ToolCall{{Function: upstream.FunctionCall{Name: "echo", Arguments: map[string]interface{}{}}}},
	}, Done: true}

	client := &fakeClient{rounds: [][]upstream.Chunk{{toolCallChunk}, {toolCallChunk}}}

	o := New(sessions, client, toolReg, nil, nil, confirm.New(), nil, 0, 2, discardLogger())
	sink := &recordingSink{}

	result, err := o.RunTurn(context.Background(), TurnRequest{SessionID: sessionID}, sink)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.ToolCallsExecuted != 2 {
		t.Fatalf("expected both rounds' calls to execute before the bound trips, got %d", result.ToolCallsExecuted)
	}
	if !sink.has(events.Error) {
		t.Fatalf("expected a synthetic error event when the tool loop is exhausted, got %v", sink.names())
	}
	var sawCode bool
	for _, e := range sink.events {
		if e.Name == events.Error && e.Data["code"] == "TOOL_LOOP_LIMIT_EXCEEDED" {
			sawCode = true
		}
	}
	if !sawCode {
		t.Fatal("expected error event to carry code TOOL_LOOP_LIMIT_EXCEEDED")
	}
	if !sink.has(events.Done) {
		t.Fatal("expected done to follow the exhaustion error")
	}
}
