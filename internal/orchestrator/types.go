package orchestrator

import "github.com/lennartpollvogt/mochi-server/internal/session"

// TurnRequest is the Turn Orchestrator's entry contract: a session to act
// on, an optional new user message (absent means regenerate from existing
// history), and whether thinking deltas should be emitted.
type TurnRequest struct {
	SessionID string
	Message   string
	Think     bool
}

// TurnResult is the non-streaming variant's response envelope (spec §4.8).
// RunTurn populates and returns this regardless of which sink was passed,
// so a streaming caller can ignore it and a non-streaming caller can hand
// it straight back as the HTTP response body.
type TurnResult struct {
	SessionID         string          `json:"session_id"`
	Message           session.Message `json:"message"`
	ToolCallsExecuted int             `json:"tool_calls_executed"`
	ContextWindow     int             `json:"context_window"`
}
