// Package events defines the SSE event envelope shared between the Turn
// Orchestrator, the Agent Sub-Orchestrator, and the HTTP layer's SSE
// writer. It is split out from internal/orchestrator so the
// sub-orchestrator (internal/agents) can emit events without importing
// the package that imports it.
package events

// Event is one Server-Sent-Event: a name and its JSON-serializable
// payload fields.
type Event struct {
	Name string
	Data map[string]interface{}
}

// Sink receives events in the exact order the orchestrator produces them.
// The HTTP layer's SSE writer and the non-streaming endpoint's
// orchestrator.DiscardingSink, which drops every event, are its two
// implementations; Emit returning an error signals the consumer went away
// (e.g. a failed write to a disconnected client), which the orchestrator
// treats as a cancellation.
type Sink interface {
	Emit(Event) error
}

func New(name string, data map[string]interface{}) Event {
	return Event{Name: name, Data: data}
}

// Names of every event in the catalog, grouped here so producers cannot
// typo an event name past the compiler.
const (
	ContentDelta                 = "content_delta"
	ThinkingDelta                = "thinking_delta"
	ToolCall                     = "tool_call"
	ToolCallConfirmationRequired = "tool_call_confirmation_required"
	ToolResult                   = "tool_result"
	ToolContinuationStart        = "tool_continuation_start"
	AgentStart                   = "agent_start"
	AgentPlanning                = "agent_planning"
	AgentExecution               = "agent_execution"
	AgentToolCall                = "agent_tool_call"
	AgentToolResult              = "agent_tool_result"
	AgentComplete                = "agent_complete"
	MessageComplete              = "message_complete"
	Error                        = "error"
	Done                         = "done"
)
