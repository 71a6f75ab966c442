// Package orchestrator implements the Turn Orchestrator: the algorithm
// that drives one client turn end to end — loading the session, asking the
// Context-Window Planner for this turn's num_ctx, streaming the upstream
// model's response, dispatching tool and agent calls, and committing the
// result back to the session store.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lennartpollvogt/mochi-server/internal/agents"
	"github.com/lennartpollvogt/mochi-server/internal/confirm"
	"github.com/lennartpollvogt/mochi-server/internal/events"
	"github.com/lennartpollvogt/mochi-server/internal/orchestrator/keyedmutex"
	"github.com/lennartpollvogt/mochi-server/internal/planner"
	"github.com/lennartpollvogt/mochi-server/internal/session"
	"github.com/lennartpollvogt/mochi-server/internal/store"
	"github.com/lennartpollvogt/mochi-server/internal/tools"
	"github.com/lennartpollvogt/mochi-server/internal/upstream"
)

// DefaultMaxToolRounds bounds step 3's re-entry loop when the caller does
// not configure one.
const DefaultMaxToolRounds = 10

// DefaultConfirmationTimeout is how long the Confirmation Broker waits for
// a client decision before auto-denying.
const DefaultConfirmationTimeout = 2 * time.Minute

// Orchestrator wires together every collaborator the Turn Orchestrator
// needs: the session store, the upstream daemon client, the Tool and Agent
// Registries, the Agent Sub-Orchestrator, the Confirmation Broker, and a
// per-session lock so concurrent turns against the same session serialize
// rather than interleave (spec §5, "per-session serial access").
type Orchestrator struct {
	sessions *store.Store
	upstream upstream.Client
	toolReg  *tools.Registry
	agentReg *agents.Registry
	subAgent *agents.SubOrchestrator
	confirms *confirm.Broker
	summary  Summarizer
	locks    *keyedmutex.Map
	logger   *slog.Logger

	confirmTimeout time.Duration
	maxToolRounds  int
}

// New builds an Orchestrator. summarizer may be nil, in which case the
// Summary Task is skipped entirely rather than scheduled and immediately
// no-opping.
func New(
	sessions *store.Store,
	upstreamClient upstream.Client,
	toolReg *tools.Registry,
	agentReg *agents.Registry,
	subAgent *agents.SubOrchestrator,
	confirms *confirm.Broker,
	summarizer Summarizer,
	confirmTimeout time.Duration,
	maxToolRounds int,
	logger *slog.Logger,
) *Orchestrator {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmationTimeout
	}
	if maxToolRounds <= 0 {
		maxToolRounds = DefaultMaxToolRounds
	}
	return &Orchestrator{
		sessions:       sessions,
		upstream:       upstreamClient,
		toolReg:        toolReg,
		agentReg:       agentReg,
		subAgent:       subAgent,
		confirms:       confirms,
		summary:        summarizer,
		locks:          keyedmutex.New(),
		logger:         logger,
		confirmTimeout: confirmTimeout,
		maxToolRounds:  maxToolRounds,
	}
}

func newMessageID() (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:10], nil
}

func nowUTC() time.Time { return time.Now().UTC() }

func emit(sink events.Sink, name string, data map[string]interface{}) bool {
	if sink == nil {
		return true
	}
	return sink.Emit(events.Event{Name: name, Data: data}) == nil
}

// RunTurn executes one client turn against req.SessionID, streaming events
// to sink as the algorithm in spec §4.7 produces them, and returns the
// non-streaming response envelope (spec §4.8) regardless of whether the
// caller is actually streaming.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest, sink events.Sink) (*TurnResult, error) {
	unlock := o.locks.Lock(req.SessionID)
	defer unlock()

	sess, err := o.sessions.Get(req.SessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, req.SessionID)
		}
		return nil, fmt.Errorf("orchestrator: loading session %s: %w", req.SessionID, err)
	}

	// Step 1: append the new user message, or fail if there's nothing to
	// respond to.
	if req.Message != "" {
		msgID, err := newMessageID()
		if err != nil {
			return nil, err
		}
		sess, err = o.sessions.AppendMessage(sess.Metadata.SessionID, session.Message{
			Role:      session.RoleUser,
			ID:        msgID,
			Timestamp: nowUTC(),
			Content:   req.Message,
		})
		if err != nil {
			return nil, fmt.Errorf("orchestrator: appending user message: %w", err)
		}
	} else if len(sess.Messages) == 0 {
		return nil, fmt.Errorf("%w: session %s has no history and no message was supplied", ErrValidation, req.SessionID)
	}

	modelInfo, err := o.upstream.GetModel(ctx, sess.Metadata.Model)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolving model %s: %w", sess.Metadata.Model, err)
	}
	if modelInfo == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, sess.Metadata.Model)
	}

	// Step 2: plan this turn's context window once; every re-entry of step
	// 3 below reuses it rather than re-planning per round.
	sess, numCtx, err := o.planContextWindow(sess, modelInfo.ContextLength)
	if err != nil {
		return nil, err
	}

	toolCallsExecuted := 0
	var final session.Message
	exhausted := true

	think := req.Think

	for round := 0; round < o.maxToolRounds; round++ {
		chatReq, err := o.buildChatRequest(sess, numCtx, think)
		if err != nil {
			return nil, err
		}

		content, _, lastChunk, calls, _ := o.streamRound(ctx, chatReq, think, sink)

		// A disconnection always surfaces with no terminal tool calls (see
		// streamRound), so both cases commit the same way: whatever content
		// was accumulated becomes the final assistant message.
		if len(calls) == 0 {
			sess, final, err = o.commitFinal(sess, content, lastChunk)
			if err != nil {
				return nil, err
			}
			emit(sink, events.MessageComplete, map[string]interface{}{
				"message_id":        final.ID,
				"model":             final.Model,
				"eval_count":        final.EvalCount,
				"prompt_eval_count": final.PromptEvalCount,
				"context_window":    numCtx,
			})
			emit(sink, events.Done, map[string]interface{}{"session_id": sess.Metadata.SessionID})
			exhausted = false
			break
		}

		var executed int
		sess, executed, err = o.handleToolCalls(ctx, sess, content, lastChunk, calls, sink)
		if err != nil {
			return nil, err
		}
		toolCallsExecuted += executed

		emit(sink, events.ToolContinuationStart, map[string]interface{}{"message": "continuing after tool results"})
		// loop continues with the now-extended history
	}

	if exhausted {
		emit(sink, events.Error, map[string]interface{}{
			"code":    "TOOL_LOOP_LIMIT_EXCEEDED",
			"message": fmt.Sprintf("tool continuation loop exceeded its %d-round bound", o.maxToolRounds),
			"details": map[string]interface{}{"session_id": sess.Metadata.SessionID},
		})
		emit(sink, events.Done, map[string]interface{}{"session_id": sess.Metadata.SessionID})
	}

	if o.summary != nil && sess.Summarizable() {
		go func(id string) {
			bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := o.summary.Run(bgCtx, id); err != nil {
				o.logger.Warn("orchestrator: summary task failed", "session", id, "error", err)
			}
		}(sess.Metadata.SessionID)
	}

	return &TurnResult{
		SessionID:         sess.Metadata.SessionID,
		Message:           final,
		ToolCallsExecuted: toolCallsExecuted,
		ContextWindow:     numCtx,
	}, nil
}

// planContextWindow runs step 2: ask the Planner, persist its reason, and
// return the num_ctx value to request from upstream.
func (o *Orchestrator) planContextWindow(sess *session.Session, modelMaxContext int) (*session.Session, int, error) {
	model, usage := lastAssistantUsage(sess.Messages)
	modelChanged := model != "" && model != sess.Metadata.Model

	result := planner.Plan(modelMaxContext, sess.Metadata.ContextWindow, usage, modelChanged)

	sess, err := o.sessions.PatchMetadata(sess.Metadata.SessionID, func(m *session.Metadata) {
		m.ContextWindow.CurrentWindow = result.Window
		m.ContextWindow.LastReason = result.Reason
		if result.Reason != session.ReasonNoAdjustment {
			m.ContextWindow.AppendHistory(session.AdjustmentEntry{
				At:     nowUTC(),
				Window: result.Window,
				Reason: result.Reason,
			})
		}
	})
	if err != nil {
		return nil, 0, fmt.Errorf("orchestrator: persisting context window: %w", err)
	}
	return sess, result.Window, nil
}

// lastAssistantUsage finds the most recent assistant message carrying a
// model name and token counts, used to detect a model change and to seed
// the Planner's usage signal.
func lastAssistantUsage(messages []session.Message) (string, planner.Usage) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == session.RoleAssistant && m.Model != "" {
			return m.Model, planner.Usage{PromptTokens: m.PromptEvalCount, EvalTokens: m.EvalCount}
		}
	}
	return "", planner.Usage{}
}

// buildChatRequest runs step 3: serialize every persisted message plus the
// enabled tool schemas (and the synthetic agent schema, if any agents are
// enabled) into an upstream chat request.
func (o *Orchestrator) buildChatRequest(sess *session.Session, numCtx int, think bool) (upstream.ChatRequest, error) {
	req := upstream.ChatRequest{
		Model:    sess.Metadata.Model,
		Messages: toUpstreamMessages(sess.Messages),
		Stream:   true,
	}

	if v, ok := planner.NumCtxOption(numCtx, sess.Metadata.ContextWindow); ok {
		req.Options = map[string]interface{}{"num_ctx": v}
	}

	if len(sess.Metadata.ToolSettings.Enabled) > 0 {
		schemas, err := o.toolReg.AllSchemas(sess.Metadata.ToolSettings.Enabled)
		if err != nil {
			return upstream.ChatRequest{}, fmt.Errorf("orchestrator: fetching tool schemas: %w", err)
		}
		for _, raw := range schemas {
			def, err := toToolDef(raw)
			if err != nil {
				continue
			}
			req.Tools = append(req.Tools, def)
		}
		if len(sess.Metadata.AgentSettings.Enabled) > 0 && o.agentReg != nil {
			def, err := toToolDef(o.agentReg.Schema())
			if err == nil {
				req.Tools = append(req.Tools, def)
			}
		}
	}

	return req, nil
}

// streamRound runs step 4: consume the upstream chat stream, emitting
// content/thinking deltas, until a terminal tool-call chunk arrives, the
// stream ends, or the client disconnects.
func (o *Orchestrator) streamRound(ctx context.Context, req upstream.ChatRequest, think bool, sink events.Sink) (content, thinking string, lastChunk upstream.Chunk, calls []upstream.ToolCall, disconnected bool) {
	chunks, errs := o.upstream.ChatStream(ctx, req)

	var contentBuf, thinkBuf strings.Builder

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return contentBuf.String(), thinkBuf.String(), lastChunk, calls, disconnected
			}
			lastChunk = chunk

			if chunk.Message.Content != "" {
				contentBuf.WriteString(chunk.Message.Content)
				if !emit(sink, events.ContentDelta, map[string]interface{}{"content": chunk.Message.Content, "role": "assistant"}) {
					disconnected = true
					return contentBuf.String(), thinkBuf.String(), lastChunk, nil, disconnected
				}
			}

			if think && chunk.Message.Thinking != "" {
				thinkBuf.WriteString(chunk.Message.Thinking)
				if !emit(sink, events.ThinkingDelta, map[string]interface{}{"content": chunk.Message.Thinking}) {
					disconnected = true
					return contentBuf.String(), thinkBuf.String(), lastChunk, nil, disconnected
				}
			}

			if chunk.Done && len(chunk.Message.ToolCalls) > 0 {
				return contentBuf.String(), thinkBuf.String(), lastChunk, chunk.Message.ToolCalls, disconnected
			}
			if chunk.Done {
				return contentBuf.String(), thinkBuf.String(), lastChunk, nil, disconnected
			}

		case err := <-errs:
			if err != nil {
				o.logger.Warn("orchestrator: upstream stream error", "error", err)
			}
			return contentBuf.String(), thinkBuf.String(), lastChunk, nil, disconnected

		case <-ctx.Done():
			return contentBuf.String(), thinkBuf.String(), lastChunk, nil, true
		}
	}
}

// commitFinal runs step 6: persist the final assistant message with the
// accumulated content and the last chunk's token counts.
func (o *Orchestrator) commitFinal(sess *session.Session, content string, lastChunk upstream.Chunk) (*session.Session, session.Message, error) {
	msgID, err := newMessageID()
	if err != nil {
		return nil, session.Message{}, err
	}
	msg := session.Message{
		Role:            session.RoleAssistant,
		ID:              msgID,
		Timestamp:       nowUTC(),
		Content:         content,
		Model:           sess.Metadata.Model,
		EvalCount:       lastChunk.EvalCount,
		PromptEvalCount: lastChunk.PromptEvalCount,
	}
	sess, err = o.sessions.AppendMessage(sess.Metadata.SessionID, msg)
	if err != nil {
		return nil, session.Message{}, fmt.Errorf("orchestrator: committing final message: %w", err)
	}
	return sess, msg, nil
}

// handleToolCalls runs step 5: persist the assistant message that carried
// the tool calls, then execute (or confirm, or delegate to an agent) each
// one in order, appending a tool message after every result.
func (o *Orchestrator) handleToolCalls(ctx context.Context, sess *session.Session, content string, lastChunk upstream.Chunk, calls []upstream.ToolCall, sink events.Sink) (*session.Session, int, error) {
	msgID, err := newMessageID()
	if err != nil {
		return nil, 0, err
	}
	sess, err = o.sessions.AppendMessage(sess.Metadata.SessionID, session.Message{
		Role:            session.RoleAssistant,
		ID:              msgID,
		Timestamp:       nowUTC(),
		Content:         content,
		Model:           sess.Metadata.Model,
		EvalCount:       lastChunk.EvalCount,
		PromptEvalCount: lastChunk.PromptEvalCount,
		ToolCalls:       toSessionToolCalls(calls),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("orchestrator: persisting tool-call message: %w", err)
	}

	executed := 0
	for i, call := range calls {
		name := call.Function.Name
		var result string
		var success bool
		var errorMessage string

		switch {
		case name == "agent":
			result, success, errorMessage = o.runAgentCall(ctx, call, sink)
			executed++

		case sess.Metadata.ToolSettings.Policy == session.PolicyNeverConfirm ||
			(sess.Metadata.ToolSettings.Policy == session.PolicyConfirmDestructive && !o.toolReg.Destructive(name)):
			result, success, errorMessage = o.executeToolDirect(ctx, call, i, sink)
			executed++

		default:
			result, success, errorMessage = o.confirmAndExecute(ctx, call, i, sink)
			if success {
				executed++
			}
		}

		toolMsgID, err := newMessageID()
		if err != nil {
			return nil, executed, err
		}
		sess, err = o.sessions.AppendMessage(sess.Metadata.SessionID, session.Message{
			Role:      session.RoleTool,
			ID:        toolMsgID,
			Timestamp: nowUTC(),
			Content:   result,
			ToolName:  name,
		})
		if err != nil {
			return nil, executed, fmt.Errorf("orchestrator: persisting tool result: %w", err)
		}
		_ = errorMessage // carried in the emitted event only, not the persisted message
	}

	return sess, executed, nil
}

func (o *Orchestrator) runAgentCall(ctx context.Context, call upstream.ToolCall, sink events.Sink) (result string, success bool, errorMessage string) {
	agentName, _ := call.Function.Arguments["agent"].(string)
	instruction, _ := call.Function.Arguments["instruction"].(string)
	agentSessionID, _ := call.Function.Arguments["session_id"].(string)

	agent, ok := o.agentReg.Get(agentName)
	if !ok {
		return fmt.Sprintf("Error: unknown agent %q", agentName), false, fmt.Sprintf("unknown agent %q", agentName)
	}

	output, err := o.subAgent.Run(ctx, agent, sink, instruction, agentSessionID)
	if err != nil {
		return fmt.Sprintf("Error: %s", err.Error()), false, err.Error()
	}
	return output, true, ""
}

func (o *Orchestrator) executeToolDirect(ctx context.Context, call upstream.ToolCall, callIndex int, sink events.Sink) (result string, success bool, errorMessage string) {
	name := call.Function.Name
	emit(sink, events.ToolCall, map[string]interface{}{
		"tool_name":  name,
		"arguments":  call.Function.Arguments,
		"call_index": callIndex,
	})

	args, _ := json.Marshal(call.Function.Arguments)
	out, err := o.toolReg.Execute(ctx, name, args)
	if err != nil {
		errorMessage = err.Error()
		result = fmt.Sprintf("Error: %s", errorMessage)
		success = false
	} else {
		result = out
		success = true
	}

	payload := map[string]interface{}{
		"tool_name":  name,
		"success":    success,
		"result":     result,
		"call_index": callIndex,
	}
	if !success {
		payload["error_message"] = errorMessage
	}
	emit(sink, events.ToolResult, payload)
	return result, success, errorMessage
}

func (o *Orchestrator) confirmAndExecute(ctx context.Context, call upstream.ToolCall, callIndex int, sink events.Sink) (result string, success bool, errorMessage string) {
	name := call.Function.Name
	confirmationID, err := newMessageID()
	if err != nil {
		return fmt.Sprintf("Error: %s", err.Error()), false, err.Error()
	}

	o.confirms.Register(confirmationID, o.confirmTimeout)
	emit(sink, events.ToolCallConfirmationRequired, map[string]interface{}{
		"tool_name":       name,
		"arguments":       call.Function.Arguments,
		"call_index":      callIndex,
		"confirmation_id": confirmationID,
	})

	decision, err := o.confirms.Await(ctx, confirmationID)
	if err == nil && decision.Approved {
		return o.executeToolDirect(ctx, call, callIndex, sink)
	}

	errorMessage = "denied by user"
	payload := map[string]interface{}{
		"tool_name":     name,
		"success":       false,
		"result":        "",
		"error_message": errorMessage,
		"call_index":    callIndex,
	}
	if decision.TimedOut {
		payload["reason"] = "timeout"
	}
	emit(sink, events.ToolResult, payload)
	return "", false, errorMessage
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
