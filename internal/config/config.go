// Package config loads the settings object spec §6.5 describes: CLI flags
// bound through viper, environment variables under the MOCHI_ prefix
// overriding any flag left at its default.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the single settings object every collaborator is constructed
// from in cmd/mochi.
type Config struct {
	Host string
	Port int

	UpstreamBaseURL string

	DataRoot            string
	SessionsDir         string
	ToolsDir            string
	AgentsDir           string
	AgentChatsDir       string
	SystemPromptsDir    string
	PlanningPromptPath  string
	ExecutionPromptPath string

	SummarizationEnabled  bool
	DynamicContextEnabled bool

	ToolWorkers        int
	MaxToolRounds      int
	ConfirmTimeoutSecs int

	LogLevel string
	LogDir   string
}

// Defaults mirrors the values the teacher's cmd/extrachat/main.go hardcoded
// into flag.StringVar's third argument, generalized to mochi-server's
// settings.
func Defaults() Config {
	return Config{
		Host:                  "127.0.0.1",
		Port:                  11535,
		UpstreamBaseURL:       "http://127.0.0.1:11434",
		DataRoot:              "data",
		SessionsDir:           "sessions",
		ToolsDir:              "tools",
		AgentsDir:             "agents",
		AgentChatsDir:         "agent_chats",
		SystemPromptsDir:      "system_prompts",
		SummarizationEnabled:  true,
		DynamicContextEnabled: true,
		ToolWorkers:           8,
		MaxToolRounds:         10,
		ConfirmTimeoutSecs:    120,
		LogLevel:              "info",
		LogDir:                "logs",
	}
}

// BindFlags registers every setting as a persistent flag on cmd, the same
// flag-per-setting shape cmd/extrachat/main.go used, and binds each flag
// through viper so a MOCHI_-prefixed environment variable can override it
// without a flag being passed.
func BindFlags(cmd *cobra.Command) error {
	d := Defaults()
	flags := cmd.PersistentFlags()

	flags.String("host", d.Host, "Bind host for the HTTP server")
	flags.Int("port", d.Port, "Bind port for the HTTP server")
	flags.String("upstream-base-url", d.UpstreamBaseURL, "Base URL of the Ollama-compatible upstream daemon")
	flags.String("data-root", d.DataRoot, "Root directory for all persisted data")
	flags.String("sessions-dir", d.SessionsDir, "Subdirectory of data-root holding session documents")
	flags.String("tools-dir", d.ToolsDir, "Subdirectory of data-root holding tool manifests")
	flags.String("agents-dir", d.AgentsDir, "Subdirectory of data-root holding agent skill documents")
	flags.String("agent-chats-dir", d.AgentChatsDir, "Subdirectory of data-root holding agent session documents")
	flags.String("system-prompts-dir", d.SystemPromptsDir, "Subdirectory of data-root holding named system-prompt files")
	flags.String("planning-prompt-path", d.PlanningPromptPath, "Optional path overriding the agent sub-orchestrator's ephemeral planning directive")
	flags.String("execution-prompt-path", d.ExecutionPromptPath, "Optional path overriding the agent sub-orchestrator's ephemeral execution directive")
	flags.Bool("summarization-enabled", d.SummarizationEnabled, "Enable the post-commit Summary Task")
	flags.Bool("dynamic-context-enabled", d.DynamicContextEnabled, "Default dynamic_enabled value for newly created sessions")
	flags.Int("tool-workers", d.ToolWorkers, "Worker-pool size for concurrent tool execution")
	flags.Int("max-tool-rounds", d.MaxToolRounds, "Maximum tool-call rounds per turn before the orchestrator gives up")
	flags.Int("confirm-timeout-secs", d.ConfirmTimeoutSecs, "Seconds the confirmation broker waits before auto-denying")
	flags.String("log-level", d.LogLevel, "slog level: debug|info|warn|error")
	flags.String("log-dir", d.LogDir, "Directory for rotated log and trace files")

	return viper.BindPFlags(flags)
}

// Load builds a Config from viper's merged flag/env state. viper.AutomaticEnv
// with SetEnvKeyReplacer("-", "_") and SetEnvPrefix("MOCHI") makes e.g.
// MOCHI_UPSTREAM_BASE_URL override the --upstream-base-url flag.
func Load() (Config, error) {
	viper.SetEnvPrefix("MOCHI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	cfg := Config{
		Host:                  viper.GetString("host"),
		Port:                  viper.GetInt("port"),
		UpstreamBaseURL:       viper.GetString("upstream-base-url"),
		DataRoot:              viper.GetString("data-root"),
		SessionsDir:           viper.GetString("sessions-dir"),
		ToolsDir:              viper.GetString("tools-dir"),
		AgentsDir:             viper.GetString("agents-dir"),
		AgentChatsDir:         viper.GetString("agent-chats-dir"),
		SystemPromptsDir:      viper.GetString("system-prompts-dir"),
		PlanningPromptPath:    viper.GetString("planning-prompt-path"),
		ExecutionPromptPath:   viper.GetString("execution-prompt-path"),
		SummarizationEnabled:  viper.GetBool("summarization-enabled"),
		DynamicContextEnabled: viper.GetBool("dynamic-context-enabled"),
		ToolWorkers:           viper.GetInt("tool-workers"),
		MaxToolRounds:         viper.GetInt("max-tool-rounds"),
		ConfirmTimeoutSecs:    viper.GetInt("confirm-timeout-secs"),
		LogLevel:              viper.GetString("log-level"),
		LogDir:                viper.GetString("log-dir"),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("config: invalid port %d", cfg.Port)
	}
	if cfg.UpstreamBaseURL == "" {
		return Config{}, fmt.Errorf("config: upstream-base-url must not be empty")
	}

	return cfg, nil
}

// Addr formats the bind address for http.Server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
