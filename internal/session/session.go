// Package session defines the persisted conversation shape shared by the
// Session Store, the Turn Orchestrator and the Agent Sub-Orchestrator.
package session

import (
	"fmt"
	"time"
)

// CurrentFormatVersion is the schema version written by this build.
const CurrentFormatVersion = "1.3"

// Role identifies which of the four message variants a Message holds.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// AdjustmentReason enumerates why the Context-Window Planner changed (or
// didn't change) the requested window.
type AdjustmentReason string

const (
	ReasonInitialSetup    AdjustmentReason = "initial_setup"
	ReasonUsageThreshold  AdjustmentReason = "usage_threshold"
	ReasonModelChange     AdjustmentReason = "model_change"
	ReasonNoAdjustment    AdjustmentReason = "no_adjustment"
	ReasonManualOverride  AdjustmentReason = "manual_override"
)

// ToolPolicy is the session's tool confirmation policy.
type ToolPolicy string

const (
	PolicyAlwaysConfirm      ToolPolicy = "always_confirm"
	PolicyNeverConfirm       ToolPolicy = "never_confirm"
	PolicyConfirmDestructive ToolPolicy = "confirm_destructive"
)

// ToolCall is a tool-name + argument-mapping descriptor attached to an
// assistant message.
type ToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Message is the tagged union of the four persisted message variants. Only
// the fields relevant to Role are populated; a serialized user message
// carries no stray assistant/tool fields.
type Message struct {
	Role      Role      `json:"role"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`

	// system only
	SourceFile string `json:"source_file,omitempty"`

	// assistant only
	Model           string     `json:"model,omitempty"`
	EvalCount       int        `json:"eval_count,omitempty"`
	PromptEvalCount int        `json:"prompt_eval_count,omitempty"`
	ToolCalls       []ToolCall `json:"tool_calls,omitempty"`

	// tool only
	ToolName string `json:"tool_name,omitempty"`
}

// ToolSettings is the per-session tool configuration.
type ToolSettings struct {
	Enabled []string   `json:"enabled"`
	Group   string     `json:"group,omitempty"`
	Policy  ToolPolicy `json:"policy"`
}

// AgentSettings is the per-session agent configuration.
type AgentSettings struct {
	Enabled  []string               `json:"enabled"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AdjustmentEntry is one record in the context-window adjustment history.
type AdjustmentEntry struct {
	At     time.Time        `json:"at"`
	Window int               `json:"window"`
	Reason AdjustmentReason  `json:"reason"`
}

// MaxAdjustmentHistory bounds ContextWindowConfig.History.
const MaxAdjustmentHistory = 10

// ContextWindowConfig is the per-session context-window policy state.
type ContextWindowConfig struct {
	DynamicEnabled bool              `json:"dynamic_enabled"`
	CurrentWindow  int               `json:"current_window"`
	LastReason     AdjustmentReason  `json:"last_reason"`
	History        []AdjustmentEntry `json:"history"`
	ManualOverride bool              `json:"manual_override"`
}

// AppendHistory records an adjustment, evicting the oldest entry once the
// bound is exceeded.
func (c *ContextWindowConfig) AppendHistory(entry AdjustmentEntry) {
	c.History = append(c.History, entry)
	if len(c.History) > MaxAdjustmentHistory {
		c.History = c.History[len(c.History)-MaxAdjustmentHistory:]
	}
}

// Summary is the optional `{summary, topics}` record produced by the
// Summary Task.
type Summary struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

// Metadata is the envelope of session attributes distinct from the message
// list itself.
type Metadata struct {
	SessionID     string              `json:"session_id"`
	Model         string              `json:"model"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	MessageCount  int                 `json:"message_count"`
	Summary       *Summary            `json:"summary,omitempty"`
	SummaryModel  string              `json:"summary_model,omitempty"`
	FormatVersion string              `json:"format_version"`
	ToolSettings  ToolSettings        `json:"tool_settings"`
	AgentSettings AgentSettings       `json:"agent_settings"`
	ContextWindow ContextWindowConfig `json:"context_window_config"`
}

// Session is the full persisted document: metadata plus the ordered
// message list.
type Session struct {
	Metadata Metadata  `json:"metadata"`
	Messages []Message `json:"messages"`
}

// Touch advances UpdatedAt and recomputes MessageCount. Every mutating Store
// operation calls this before persisting.
func (s *Session) Touch() {
	s.Metadata.MessageCount = len(s.Messages)
	now := time.Now().UTC()
	if now.Before(s.Metadata.UpdatedAt) {
		now = s.Metadata.UpdatedAt
	}
	s.Metadata.UpdatedAt = now
}

// SystemMessage returns the session's system message and its index, if any.
func (s *Session) SystemMessage() (Message, int, bool) {
	if len(s.Messages) > 0 && s.Messages[0].Role == RoleSystem {
		return s.Messages[0], 0, true
	}
	return Message{}, -1, false
}

// Validate checks the structural invariants: at most one system message,
// and only at index 0; unique message IDs; bounded adjustment history.
func (s *Session) Validate() error {
	seen := make(map[string]struct{}, len(s.Messages))
	systemCount := 0
	for i, m := range s.Messages {
		if m.Role == RoleSystem {
			systemCount++
			if i != 0 {
				return fmt.Errorf("session %s: system message at index %d, must be 0", s.Metadata.SessionID, i)
			}
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("session %s: duplicate message id %q", s.Metadata.SessionID, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	if systemCount > 1 {
		return fmt.Errorf("session %s: %d system messages, at most one allowed", s.Metadata.SessionID, systemCount)
	}
	if len(s.Metadata.ContextWindow.History) > MaxAdjustmentHistory {
		return fmt.Errorf("session %s: adjustment history length %d exceeds %d", s.Metadata.SessionID, len(s.Metadata.ContextWindow.History), MaxAdjustmentHistory)
	}
	if s.Metadata.UpdatedAt.Before(s.Metadata.CreatedAt) {
		return fmt.Errorf("session %s: updated_at before created_at", s.Metadata.SessionID)
	}
	return nil
}

// Summarizable reports whether the session currently satisfies the Summary
// Task's trigger conditions: at least two messages, and the last one is an
// assistant message carrying no tool calls.
func (s *Session) Summarizable() bool {
	if len(s.Messages) < 2 {
		return false
	}
	last := s.Messages[len(s.Messages)-1]
	return last.Role == RoleAssistant && len(last.ToolCalls) == 0
}
