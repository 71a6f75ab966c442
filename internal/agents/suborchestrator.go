package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lennartpollvogt/mochi-server/internal/events"
	"github.com/lennartpollvogt/mochi-server/internal/session"
	"github.com/lennartpollvogt/mochi-server/internal/upstream"
)

// newMessageID mints a 10-character lowercase hex message id from a random
// UUID's hex digits, the same truncation idiom idunrlylikeu-memos uses for
// its session UIDs (`uuid.New().String()[:8]`), extended to 10 characters
// to match the spec's message-id length.
func newMessageID() (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:10], nil
}

func nowUTC() time.Time { return time.Now().UTC() }

// DefaultMaxExecutionIterations bounds the execution phase's tool loop when
// the caller does not configure one, mirroring the Turn Orchestrator's own
// default re-entry bound.
const DefaultMaxExecutionIterations = 10

const defaultPlanningDirective = "Before doing anything, describe your plan for the instruction above in a few sentences. Do not call any tools yet."

const defaultExecutionDirective = "Now carry out your plan. Use your available tools as needed."

// SubOrchestrator runs the two-phase planning/execution loop that the Turn
// Orchestrator invokes when the model emits a call to the reserved `agent`
// tool. Each invocation operates against the agent's own persisted session,
// appending an ephemeral planning or execution directive ahead of a single
// upstream call without ever persisting that directive itself.
type SubOrchestrator struct {
	client              upstream.Client
	defaultModel        string
	maxExecIter         int
	planningDirective   string
	executionDirective  string
}

// NewSubOrchestrator builds a SubOrchestrator. defaultModel is used for
// agents whose SKILL.md frontmatter carries no model override; maxExecIter
// bounds the execution phase's tool loop (0 selects the default).
// planningDirective/executionDirective override the built-in ephemeral
// directive text (empty selects the default) — the composition layer loads
// these from the configured prompt paths, spec §6.5.
func NewSubOrchestrator(client upstream.Client, defaultModel string, maxExecIter int, planningDirective, executionDirective string) *SubOrchestrator {
	if maxExecIter <= 0 {
		maxExecIter = DefaultMaxExecutionIterations
	}
	if planningDirective == "" {
		planningDirective = defaultPlanningDirective
	}
	if executionDirective == "" {
		executionDirective = defaultExecutionDirective
	}
	return &SubOrchestrator{
		client:              client,
		defaultModel:        defaultModel,
		maxExecIter:         maxExecIter,
		planningDirective:   planningDirective,
		executionDirective:  executionDirective,
	}
}

// Run executes one delegated instruction against agent, loading or creating
// its session, and returns the tool-result string the outer Turn
// Orchestrator should attach to the `agent` call: "Session ID: {id}\n"
// followed by a deterministic rendering of every message produced since
// the instruction was appended. sink receives the agent_* events in the
// exact order the two phases produce them.
func (s *SubOrchestrator) Run(ctx context.Context, agent *Agent, sink events.Sink, instruction string, sessionID string) (string, error) {
	model := agent.Model
	if model == "" {
		model = s.defaultModel
	}

	sess, err := s.loadOrCreate(agent, model, sessionID)
	if err != nil {
		return "", fmt.Errorf("agents: loading session for %s: %w", agent.Name, err)
	}

	if _, err := agent.Sessions.SetSystemMessage(sess.Metadata.SessionID, agent.SystemPrompt, ""); err != nil {
		return "", fmt.Errorf("agents: refreshing system prompt for %s: %w", agent.Name, err)
	}

	emit(sink, events.AgentStart, map[string]interface{}{"agent_name": agent.Name, "instruction": instruction})

	userMsgID, err := newMessageID()
	if err != nil {
		return "", err
	}
	sess, err = agent.Sessions.AppendMessage(sess.Metadata.SessionID, session.Message{
		Role:      session.RoleUser,
		ID:        userMsgID,
		Timestamp: nowUTC(),
		Content:   instruction,
	})
	if err != nil {
		return "", fmt.Errorf("agents: appending instruction for %s: %w", agent.Name, err)
	}
	sinceIndex := len(sess.Messages) // rendering starts after the instruction itself

	sess, err = s.plan(ctx, agent, model, sess, sink)
	if err != nil {
		return "", fmt.Errorf("agents: planning phase for %s: %w", agent.Name, err)
	}

	sess, err = s.execute(ctx, agent, model, sess, sink)
	if err != nil {
		return "", fmt.Errorf("agents: execution phase for %s: %w", agent.Name, err)
	}

	output := renderSince(sess.Messages, sinceIndex)
	emit(sink, events.AgentComplete, map[string]interface{}{
		"agent_name": agent.Name,
		"session_id": sess.Metadata.SessionID,
		"output":     output,
	})
	return output, nil
}

func (s *SubOrchestrator) loadOrCreate(agent *Agent, model, sessionID string) (*session.Session, error) {
	if sessionID != "" {
		return agent.Sessions.Get(sessionID)
	}
	return agent.Sessions.Create(model, agent.SystemPrompt, "", nil, true)
}

// plan runs the no-tools phase: an ephemeral directive is appended ahead of
// the persisted history for a single upstream call, and the response is
// persisted as a normal assistant message.
func (s *SubOrchestrator) plan(ctx context.Context, agent *Agent, model string, sess *session.Session, sink events.Sink) (*session.Session, error) {
	messages := toUpstreamMessages(sess.Messages)
	messages = append(messages, upstream.Message{Role: "user", Content: s.planningDirective})

	chunk, err := s.client.StructuredChat(ctx, upstream.ChatRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, err
	}

	emit(sink, events.AgentPlanning, map[string]interface{}{"content": chunk.Message.Content})

	msgID, err := newMessageID()
	if err != nil {
		return nil, err
	}
	return agent.Sessions.AppendMessage(sess.Metadata.SessionID, session.Message{
		Role:            session.RoleAssistant,
		ID:              msgID,
		Timestamp:       nowUTC(),
		Content:         chunk.Message.Content,
		Model:           model,
		EvalCount:       chunk.EvalCount,
		PromptEvalCount: chunk.PromptEvalCount,
	})
}

// execute runs the tool-enabled phase. A no-tool response on the first
// iteration is treated as an announcement and triggers one more iteration
// rather than ending the loop; a no-tool response on any later iteration
// ends it.
func (s *SubOrchestrator) execute(ctx context.Context, agent *Agent, model string, sess *session.Session, sink events.Sink) (*session.Session, error) {
	schemas, err := agent.Tools.AllSchemas(nil)
	if err != nil {
		return nil, err
	}
	toolDefs := make([]upstream.ToolDef, 0, len(schemas))
	for _, raw := range schemas {
		def, err := toToolDef(raw)
		if err != nil {
			continue
		}
		toolDefs = append(toolDefs, def)
	}

	for iter := 0; iter < s.maxExecIter; iter++ {
		messages := toUpstreamMessages(sess.Messages)
		if iter == 0 {
			messages = append(messages, upstream.Message{Role: "user", Content: s.executionDirective})
		}

		chunk, err := s.client.StructuredChat(ctx, upstream.ChatRequest{Model: model, Messages: messages, Tools: toolDefs})
		if err != nil {
			return nil, err
		}

		if chunk.Message.Content != "" {
			emit(sink, events.AgentExecution, map[string]interface{}{"content": chunk.Message.Content})
		}

		assistantMsgID, err := newMessageID()
		if err != nil {
			return nil, err
		}
		calls := toSessionToolCalls(chunk.Message.ToolCalls)
		sess, err = agent.Sessions.AppendMessage(sess.Metadata.SessionID, session.Message{
			Role:            session.RoleAssistant,
			ID:              assistantMsgID,
			Timestamp:       nowUTC(),
			Content:         chunk.Message.Content,
			Model:           model,
			EvalCount:       chunk.EvalCount,
			PromptEvalCount: chunk.PromptEvalCount,
			ToolCalls:       calls,
		})
		if err != nil {
			return nil, err
		}

		if len(calls) == 0 {
			if iter == 0 {
				continue // announcement-only first response, keep going
			}
			return sess, nil
		}

		for _, call := range chunk.Message.ToolCalls {
			emit(sink, events.AgentToolCall, map[string]interface{}{
				"agent_name": agent.Name,
				"tool_name":  call.Function.Name,
				"arguments":  call.Function.Arguments,
			})

			args, _ := json.Marshal(call.Function.Arguments)
			result, execErr := agent.Tools.Execute(ctx, call.Function.Name, args)
			success := execErr == nil
			if execErr != nil {
				result = fmt.Sprintf("Error: %s", execErr.Error())
			}

			emit(sink, events.AgentToolResult, map[string]interface{}{
				"agent_name": agent.Name,
				"tool_name":  call.Function.Name,
				"success":    success,
				"result":     result,
			})

			toolMsgID, err := newMessageID()
			if err != nil {
				return nil, err
			}
			sess, err = agent.Sessions.AppendMessage(sess.Metadata.SessionID, session.Message{
				Role:      session.RoleTool,
				ID:        toolMsgID,
				Timestamp: nowUTC(),
				Content:   result,
				ToolName:  call.Function.Name,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return sess, nil
}

// renderSince builds the deterministic rendering of every assistant/tool
// message appended at or after fromIndex.
func renderSince(messages []session.Message, fromIndex int) string {
	var b strings.Builder
	for _, m := range messages[fromIndex:] {
		switch m.Role {
		case session.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "Tool call: %s(%v)\n", tc.Name, tc.Arguments)
			}
		case session.RoleTool:
			fmt.Fprintf(&b, "Tool %s: %s\n", m.ToolName, m.Content)
		}
	}
	return b.String()
}

func toUpstreamMessages(messages []session.Message) []upstream.Message {
	out := make([]upstream.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, upstream.Message{
			Role:      string(m.Role),
			Content:   m.Content,
			ToolCalls: toUpstreamToolCalls(m.ToolCalls),
			ToolName:  m.ToolName,
		})
	}
	return out
}

func toUpstreamToolCalls(calls []session.ToolCall) []upstream.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]upstream.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, upstream.ToolCall{Function: upstream.FunctionCall{Name: c.Name, Arguments: c.Arguments}})
	}
	return out
}

func toSessionToolCalls(calls []upstream.ToolCall) []session.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]session.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, session.ToolCall{Name: c.Function.Name, Arguments: c.Function.Arguments})
	}
	return out
}

func toToolDef(schema map[string]interface{}) (upstream.ToolDef, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return upstream.ToolDef{}, err
	}
	var def upstream.ToolDef
	if err := json.Unmarshal(raw, &def); err != nil {
		return upstream.ToolDef{}, err
	}
	return def, nil
}

func emit(sink events.Sink, name string, data map[string]interface{}) {
	if sink == nil {
		return
	}
	_ = sink.Emit(events.Event{Name: name, Data: data})
}
