// Command mochi runs mochi-server: the headless HTTP daemon mediating
// between chat clients and a local Ollama-compatible upstream.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/lennartpollvogt/mochi-server/internal/agents"
	"github.com/lennartpollvogt/mochi-server/internal/config"
	"github.com/lennartpollvogt/mochi-server/internal/confirm"
	"github.com/lennartpollvogt/mochi-server/internal/httpapi"
	"github.com/lennartpollvogt/mochi-server/internal/orchestrator"
	"github.com/lennartpollvogt/mochi-server/internal/prompts"
	"github.com/lennartpollvogt/mochi-server/internal/store"
	"github.com/lennartpollvogt/mochi-server/internal/summarize"
	"github.com/lennartpollvogt/mochi-server/internal/telemetry"
	"github.com/lennartpollvogt/mochi-server/internal/tools"
	"github.com/lennartpollvogt/mochi-server/internal/upstream"
)

func main() {
	cmd := &cobra.Command{
		Use:   "mochi",
		Short: "Headless chat backend in front of a local Ollama-compatible daemon",
		RunE:  run,
	}
	if err := config.BindFlags(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "mochi: binding flags: %v\n", err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mochi: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := telemetry.InitLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	ctx := context.Background()
	_, _, shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer shutdownTelemetry()

	sessions, err := store.New(filepath.Join(cfg.DataRoot, cfg.SessionsDir))
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	upstreamClient := upstream.New(cfg.UpstreamBaseURL, 5*time.Minute)

	native := tools.NewNativeRegistry()
	toolReg := tools.New(filepath.Join(cfg.DataRoot, cfg.ToolsDir), native, int64(cfg.ToolWorkers), logger)
	if err := toolReg.Reload(ctx); err != nil {
		return fmt.Errorf("loading tool manifests: %w", err)
	}

	agentChatsRoot, err := store.New(filepath.Join(cfg.DataRoot, cfg.AgentChatsDir))
	if err != nil {
		return fmt.Errorf("opening agent chat store: %w", err)
	}
	agentReg := agents.New(filepath.Join(cfg.DataRoot, cfg.AgentsDir), native, int64(cfg.ToolWorkers), agentChatsRoot, logger)
	if err := agentReg.Reload(ctx); err != nil {
		return fmt.Errorf("loading agent skills: %w", err)
	}

	planningDirective, err := readOptionalPrompt(cfg.PlanningPromptPath)
	if err != nil {
		return fmt.Errorf("reading planning-prompt-path: %w", err)
	}
	executionDirective, err := readOptionalPrompt(cfg.ExecutionPromptPath)
	if err != nil {
		return fmt.Errorf("reading execution-prompt-path: %w", err)
	}
	subAgent := agents.NewSubOrchestrator(upstreamClient, "", agentAutonomousIterationCap, planningDirective, executionDirective)

	confirms := confirm.New()

	var summaryTask *summarize.Task
	if cfg.SummarizationEnabled {
		capable := func(ctx context.Context, model string) bool {
			info, err := upstreamClient.GetModel(ctx, model)
			return err == nil && info != nil && info.HasCapability("completion")
		}
		summaryTask = summarize.New(sessions, upstreamClient, capable, "", logger)
	}

	orch := orchestrator.New(
		sessions,
		upstreamClient,
		toolReg,
		agentReg,
		subAgent,
		confirms,
		summaryTaskAsSummarizer(summaryTask),
		time.Duration(cfg.ConfirmTimeoutSecs)*time.Second,
		cfg.MaxToolRounds,
		logger,
	)

	promptStore, err := prompts.New(filepath.Join(cfg.DataRoot, cfg.SystemPromptsDir))
	if err != nil {
		return fmt.Errorf("opening system-prompt store: %w", err)
	}

	srv := httpapi.New(
		sessions,
		upstreamClient,
		toolReg,
		agentReg,
		confirms,
		orch,
		summaryTask,
		promptStore,
		time.Duration(cfg.ConfirmTimeoutSecs)*time.Second,
		cfg.DynamicContextEnabled,
		logger,
	)

	logger.Info("starting mochi-server", "addr", cfg.Addr(), "upstream", cfg.UpstreamBaseURL)
	return srv.Start(cfg.Addr())
}

// agentAutonomousIterationCap bounds how many execution-phase iterations an
// agent sub-orchestration runs after its single planning call before it is
// forced to stop and report back.
const agentAutonomousIterationCap = 15

func readOptionalPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// summaryTaskAsSummarizer adapts a possibly-nil *summarize.Task onto
// orchestrator.Summarizer: orchestrator.New treats a nil interface value
// as "summarization disabled", but a nil *summarize.Task boxed into a
// non-nil Summarizer would defeat that check, so disabled stays nil.
func summaryTaskAsSummarizer(t *summarize.Task) orchestrator.Summarizer {
	if t == nil {
		return nil
	}
	return t
}
