package httpapi

import "github.com/lennartpollvogt/mochi-server/internal/session"

// toolSettingsRequest mirrors the original prototype's ToolSettingsRequest,
// carried here so a session create/update body can set it in one shot.
type toolSettingsRequest struct {
	Tools           []string `json:"tools"`
	ToolGroup       string   `json:"tool_group,omitempty"`
	ExecutionPolicy string   `json:"execution_policy"`
}

func (r *toolSettingsRequest) toSession() session.ToolSettings {
	policy := session.ToolPolicy(r.ExecutionPolicy)
	if policy == "" {
		policy = session.PolicyConfirmDestructive
	}
	return session.ToolSettings{Enabled: r.Tools, Group: r.ToolGroup, Policy: policy}
}

type agentSettingsRequest struct {
	EnabledAgents []string `json:"enabled_agents"`
}

func (r *agentSettingsRequest) toSession() session.AgentSettings {
	return session.AgentSettings{Enabled: r.EnabledAgents}
}

type createSessionRequest struct {
	Model                  string                `json:"model"`
	SystemPrompt           string                `json:"system_prompt,omitempty"`
	SystemPromptSourceFile string                `json:"system_prompt_source_file,omitempty"`
	ToolSettings           *toolSettingsRequest  `json:"tool_settings,omitempty"`
	AgentSettings          *agentSettingsRequest `json:"agent_settings,omitempty"`
}

type updateSessionRequest struct {
	Model         *string                       `json:"model,omitempty"`
	ToolSettings  *toolSettingsRequest          `json:"tool_settings,omitempty"`
	AgentSettings *agentSettingsRequest         `json:"agent_settings,omitempty"`
	ContextWindow *contextWindowSettingsRequest `json:"context_window_config,omitempty"`
}

// contextWindowSettingsRequest lets a PATCH flip a session's dynamic-context
// planning on/off or pin a manual window override, without a zero-value
// field silently clobbering the other one — hence pointers.
type contextWindowSettingsRequest struct {
	DynamicEnabled *bool `json:"dynamic_enabled,omitempty"`
	ManualOverride *bool `json:"manual_override,omitempty"`
}

func (r *contextWindowSettingsRequest) applyTo(cw *session.ContextWindowConfig) {
	if r.DynamicEnabled != nil {
		cw.DynamicEnabled = *r.DynamicEnabled
	}
	if r.ManualOverride != nil {
		cw.ManualOverride = *r.ManualOverride
	}
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type setSystemPromptRequest struct {
	Content    string `json:"content"`
	SourceFile string `json:"source_file,omitempty"`
}

type chatRequestBody struct {
	Message string `json:"message"`
	Think   bool   `json:"think"`
}

type confirmToolRequest struct {
	ConfirmationID string `json:"confirmation_id"`
	Approved       bool   `json:"approved"`
}

type summarizeRequest struct {
	Model string `json:"model,omitempty"`
}

type createPromptRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type updatePromptRequest struct {
	Content string `json:"content"`
}

// contextWindowStatus is the status endpoint's context-window block, spec
// §6.1 "Aggregated status block" / original_source's ContextWindowStatus.
type contextWindowStatus struct {
	DynamicEnabled       bool                     `json:"dynamic_enabled"`
	CurrentWindow        int                      `json:"current_window"`
	ModelMaxContext      *int                     `json:"model_max_context,omitempty"`
	LastAdjustmentReason session.AdjustmentReason `json:"last_adjustment_reason"`
	ManualOverride       bool                     `json:"manual_override"`
}

type sessionStatusResponse struct {
	SessionID        string               `json:"session_id"`
	Model            string               `json:"model"`
	MessageCount     int                  `json:"message_count"`
	ContextWindow    contextWindowStatus  `json:"context_window"`
	ToolsEnabled     bool                 `json:"tools_enabled"`
	ActiveTools      []string             `json:"active_tools"`
	ExecutionPolicy  string               `json:"execution_policy"`
	AgentsEnabled    bool                 `json:"agents_enabled"`
	EnabledAgents    []string             `json:"enabled_agents"`
	SystemPromptFile string               `json:"system_prompt_file,omitempty"`
	Summary          *session.Summary     `json:"summary,omitempty"`
	SummaryModel     string               `json:"summary_model,omitempty"`
}
