// Package agents implements the Agent Registry (SKILL.md-defined
// sub-agents, each with a private tool set) and the Agent Sub-Orchestrator
// that runs a two-phase planning/execution loop on behalf of the Turn
// Orchestrator's synthetic "agent" tool.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lennartpollvogt/mochi-server/internal/store"
	"github.com/lennartpollvogt/mochi-server/internal/tools"
)

// Agent is one SKILL.md-defined sub-agent: a system prompt, an optional
// model override, a tool set private to this agent, and a session store
// scoped to this agent's namespace under the agent-sessions root.
type Agent struct {
	Name         string
	Description  string
	Model        string // empty means "use the session's model"
	SystemPrompt string
	Tools        *tools.Registry
	Sessions     *store.Store
}

type frontmatter struct {
	Description string `yaml:"description"`
	Model       string `yaml:"model"`
}

// parseSkill reads a SKILL.md file: a `---`-delimited YAML frontmatter
// block followed by the system-prompt body.
func parseSkill(path string) (frontmatter, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return frontmatter{}, "", err
	}

	text := string(raw)
	if !strings.HasPrefix(text, "---\n") {
		return frontmatter{}, "", fmt.Errorf("agents: %s missing frontmatter delimiter", path)
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return frontmatter{}, "", fmt.Errorf("agents: %s has unterminated frontmatter", path)
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return frontmatter{}, "", fmt.Errorf("agents: %s: malformed frontmatter: %w", path, err)
	}

	body := rest[end+len("\n---"):]
	body = strings.TrimLeft(body, "\n")
	return fm, body, nil
}

// Registry discovers SKILL.md-defined agents under a directory, each
// subdirectory being one agent's name, and exposes the synthetic `agent`
// tool's schema with a version tag bumped whenever the enabled set
// changes — the spec's "dynamically generated function" redesign note,
// restated as a version stamp rather than a fresh closure identity.
type Registry struct {
	dir          string
	native       *tools.NativeRegistry
	toolWorkers  int64
	sessionsRoot *store.Store
	logger       *slog.Logger
	mu           sync.RWMutex
	agents       map[string]*Agent
	version      int
}

// New creates an empty Registry rooted at dir. native is shared across all
// agents' private tool registries so native tool *implementations* are
// registered once process-wide, while each agent's tool.yaml manifests
// (under {dir}/{agent}/tools/) select which of them it may call.
// sessionsRoot is scoped per agent via Store.ForAgent, giving each agent its
// own {sessions_root}/{agent}/ namespace on disk per spec's "parallel
// session space with identical schema but a separate namespace" rule.
func New(dir string, native *tools.NativeRegistry, toolWorkers int64, sessionsRoot *store.Store, logger *slog.Logger) *Registry {
	return &Registry{
		dir:          dir,
		native:       native,
		toolWorkers:  toolWorkers,
		sessionsRoot: sessionsRoot,
		logger:       logger,
		agents:       make(map[string]*Agent),
	}
}

// Reload rescans the agent directory, parsing each subdirectory's
// SKILL.md and (re)building its private tool registry. The enabled-agent
// set is recomputed and the version bumped only if it actually changed.
func (r *Registry) Reload(ctx context.Context) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.swap(map[string]*Agent{})
			return nil
		}
		return fmt.Errorf("agents: scanning %s: %w", r.dir, err)
	}

	next := make(map[string]*Agent)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		agentDir := filepath.Join(r.dir, e.Name())
		skillPath := filepath.Join(agentDir, "SKILL.md")
		fm, body, err := parseSkill(skillPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		toolsDir := filepath.Join(agentDir, "tools")
		reg := tools.New(toolsDir, r.native, r.toolWorkers, r.logger)
		if err := reg.Reload(ctx); err != nil {
			return fmt.Errorf("agents: loading tool set for %s: %w", e.Name(), err)
		}

		var sessions *store.Store
		if r.sessionsRoot != nil {
			sessions, err = r.sessionsRoot.ForAgent(e.Name())
			if err != nil {
				return fmt.Errorf("agents: opening session store for %s: %w", e.Name(), err)
			}
		}

		next[e.Name()] = &Agent{
			Name:         e.Name(),
			Description:  fm.Description,
			Model:        fm.Model,
			SystemPrompt: body,
			Tools:        reg,
			Sessions:     sessions,
		}
	}

	r.swap(next)
	return nil
}

func (r *Registry) swap(next map[string]*Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !sameKeys(r.agents, next) {
		r.version++
	}
	r.agents = next
}

func sameKeys(a, b map[string]*Agent) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// Get returns one agent by name.
func (r *Registry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Names returns every currently enabled agent's name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

// Version returns the current schema version, which changes only when the
// enabled-agent set changes.
func (r *Registry) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Schema builds the synthetic "agent" tool's function definition: an enum
// parameter naming which agent to delegate to, a free-text instruction, and
// an optional session_id to continue a prior agent conversation, per spec
// §4.4. (Name, Version) is the cache key a caller should use, since the
// schema's enum changes whenever Version does.
func (r *Registry) Schema() map[string]interface{} {
	r.mu.RLock()
	names := make([]string, 0, len(r.agents))
	descriptions := make(map[string]string, len(r.agents))
	for name, a := range r.agents {
		names = append(names, name)
		descriptions[name] = a.Description
	}
	r.mu.RUnlock()

	var desc strings.Builder
	desc.WriteString("Delegate a task to a named sub-agent. Available agents:\n")
	for _, name := range names {
		fmt.Fprintf(&desc, "- %s: %s\n", name, descriptions[name])
	}

	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        "agent",
			"description": desc.String(),
			"parameters": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent": map[string]interface{}{
						"type": "string",
						"enum": names,
					},
					"instruction": map[string]interface{}{
						"type": "string",
					},
					"session_id": map[string]interface{}{
						"type":        "string",
						"description": "Continue a prior agent conversation instead of starting a new one.",
					},
				},
				"required": []string{"agent", "instruction"},
			},
		},
	}
}
