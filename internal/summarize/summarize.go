// Package summarize implements the Summary Task: a best-effort background
// job, scheduled by the Turn Orchestrator after a turn commits, that asks
// the upstream daemon's structured-output mode for a `{summary, topics}`
// record and patches it onto the session.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lennartpollvogt/mochi-server/internal/session"
	"github.com/lennartpollvogt/mochi-server/internal/store"
	"github.com/lennartpollvogt/mochi-server/internal/toolschema"
	"github.com/lennartpollvogt/mochi-server/internal/upstream"
)

const directive = "Summarize this conversation in two or three sentences and list the " +
	"main topics discussed. Respond only with the requested JSON."

// result is the validator shape structured_chat is asked to fill: spec's
// {summary: string, topics: string[]}.
type result struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

var schema map[string]interface{}

func init() {
	s, err := toolschema.NewGenerator().Generate(result{})
	if err != nil {
		panic(fmt.Sprintf("summarize: generating validator schema: %v", err))
	}
	schema = s
}

// ModelCapable reports whether a model can be trusted with structured
// output. The daemon's `format` field works against any completion-
// capable model, not a separately advertised capability, so this is the
// same completion check the Upstream Client's list_models filter uses.
type ModelCapable func(ctx context.Context, model string) bool

// Task runs the Summary Task against one session at a time.
type Task struct {
	sessions     *store.Store
	upstream     upstream.Client
	capable      ModelCapable
	defaultModel string
	logger       *slog.Logger
}

// New builds a Task. capable decides step (a) of the model-selection
// chain (§4.9); defaultModel is the model substituted for step (c), an
// explicitly-requested on-demand model, when the caller has none to pass
// (Run's ctx-only signature has no room for a per-call override, so a
// forced on-demand summarization should go through RunWithModel instead).
func New(sessions *store.Store, client upstream.Client, capable ModelCapable, defaultModel string, logger *slog.Logger) *Task {
	return &Task{sessions: sessions, upstream: client, capable: capable, defaultModel: defaultModel, logger: logger}
}

// Run executes the post-commit trigger check and, if it passes, summarizes
// sessionID using the model-selection chain: the session's own model if it
// passes capable, else the session's stored summary_model, else the Task's
// defaultModel, else skip. It never returns an error the orchestrator needs
// to act on; failures are logged and dropped, per spec §4.9.
func (t *Task) Run(ctx context.Context, sessionID string) error {
	sess, err := t.sessions.Get(sessionID)
	if err != nil {
		return fmt.Errorf("summarize: loading session %s: %w", sessionID, err)
	}

	if !sess.Summarizable() {
		return nil
	}

	model := t.selectModel(ctx, sess)
	if model == "" {
		return nil
	}

	return t.summarize(ctx, sess, model)
}

// RunWithModel forces summarization with an explicitly supplied model,
// bypassing the selection chain's steps (a)/(b) — the on-demand-request
// model from §4.9 step (c).
func (t *Task) RunWithModel(ctx context.Context, sessionID, model string) error {
	sess, err := t.sessions.Get(sessionID)
	if err != nil {
		return fmt.Errorf("summarize: loading session %s: %w", sessionID, err)
	}
	return t.summarize(ctx, sess, model)
}

func (t *Task) selectModel(ctx context.Context, sess *session.Session) string {
	if t.capable != nil && t.capable(ctx, sess.Metadata.Model) {
		return sess.Metadata.Model
	}
	if sess.Metadata.SummaryModel != "" {
		return sess.Metadata.SummaryModel
	}
	return t.defaultModel
}

func (t *Task) summarize(ctx context.Context, sess *session.Session, model string) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("summarize: marshaling validator schema: %w", err)
	}

	messages := toUpstreamMessages(sess.Messages)
	messages = append(messages, upstream.Message{Role: "user", Content: directive})

	chunk, err := t.upstream.StructuredChat(ctx, upstream.ChatRequest{
		Model:    model,
		Messages: messages,
		Format:   raw,
	})
	if err != nil {
		t.logger.Warn("summarize: structured_chat failed", "session", sess.Metadata.SessionID, "error", err)
		return nil
	}

	var r result
	if err := json.Unmarshal([]byte(chunk.Message.Content), &r); err != nil {
		t.logger.Warn("summarize: malformed validator response", "session", sess.Metadata.SessionID, "error", err)
		return nil
	}

	_, err = t.sessions.PatchMetadata(sess.Metadata.SessionID, func(m *session.Metadata) {
		m.Summary = &session.Summary{Summary: r.Summary, Topics: r.Topics}
	})
	if err != nil {
		t.logger.Warn("summarize: patching session metadata failed", "session", sess.Metadata.SessionID, "error", err)
	}
	return nil
}

func toUpstreamMessages(messages []session.Message) []upstream.Message {
	out := make([]upstream.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, upstream.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
