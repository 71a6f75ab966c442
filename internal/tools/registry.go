package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Registry is the Tool Registry: a directory-discovered, manifest-driven
// table of tools behind a single interface, with execution dispatched onto
// a bounded worker pool so a slow or hanging tool call never blocks the
// cooperative scheduler the rest of the server runs on.
type Registry struct {
	dir     string
	native  *NativeRegistry
	logger  *slog.Logger
	workers *semaphore.Weighted

	mu      sync.RWMutex
	tools   map[string]Tool
	closers []func() error
}

// New creates a Registry that discovers manifests under dir and dispatches
// Execute calls through a worker pool sized maxConcurrent.
func New(dir string, native *NativeRegistry, maxConcurrent int64, logger *slog.Logger) *Registry {
	return &Registry{
		dir:     dir,
		native:  native,
		logger:  logger,
		workers: semaphore.NewWeighted(maxConcurrent),
		tools:   make(map[string]Tool),
	}
}

// Reload rescans the tool directory and atomically swaps in the new
// provider table. Previously open MCP transport connections are closed
// only after the swap, so in-flight Execute calls against the old table
// finish against still-live clients.
func (r *Registry) Reload(ctx context.Context) error {
	manifests, err := discoverManifests(r.dir)
	if err != nil {
		return err
	}

	newTools := make(map[string]Tool)
	var newClosers []func() error

	for _, m := range manifests {
		switch m.Provider {
		case ProviderNative:
			tool, err := r.native.ToTool(m.Name, m.Description)
			if err != nil {
				return fmt.Errorf("tools: %w", err)
			}
			newTools[m.Name] = tool
		case ProviderStdio, ProviderHTTP, ProviderWebSocket:
			found, client, err := mcpToolsFor(ctx, m, r.logger)
			if err != nil {
				return err
			}
			for _, t := range found {
				newTools[t.Name()] = t
			}
			newClosers = append(newClosers, client.Close)
		default:
			return fmt.Errorf("tools: manifest %s has unknown provider %q", m.Name, m.Provider)
		}
	}

	r.mu.Lock()
	oldClosers := r.closers
	r.tools = newTools
	r.closers = newClosers
	r.mu.Unlock()

	for _, closeFn := range oldClosers {
		if err := closeFn(); err != nil {
			r.logger.Warn("tools: error closing previous provider connection", "error", err)
		}
	}
	return nil
}

// List returns every currently registered tool name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

func (r *Registry) get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// GetSchema returns a tool's JSON-Schema function definition.
func (r *Registry) GetSchema(name string) (map[string]interface{}, error) {
	t, ok := r.get(name)
	if !ok {
		return nil, fmt.Errorf("tools: %q not found", name)
	}
	return t.Schema()
}

// AllSchemas returns the schema for every registered tool, filtered to the
// names in allowed (nil means no filter — every tool).
func (r *Registry) AllSchemas(allowed []string) ([]map[string]interface{}, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()

	allowSet := toSet(allowed)
	var schemas []map[string]interface{}
	for _, name := range names {
		if allowSet != nil {
			if _, ok := allowSet[name]; !ok {
				continue
			}
		}
		schema, err := r.GetSchema(name)
		if err != nil {
			continue
		}
		schemas = append(schemas, schema)
	}
	return schemas, nil
}

// Destructive reports whether a tool is flagged destructive in its
// manifest, for the confirmation-policy check.
func (r *Registry) Destructive(name string) bool {
	t, ok := r.get(name)
	return ok && t.Destructive()
}

// Execute runs a tool call through the bounded worker pool. If the pool is
// saturated, Execute blocks (respecting ctx) rather than rejecting the
// call outright — the spec calls for dispatch off the scheduler, not
// load-shedding.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.get(name)
	if !ok {
		return "", NewError("not_found", fmt.Sprintf("tool %q not registered", name))
	}

	if err := r.workers.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("tools: acquiring worker slot: %w", err)
	}
	defer r.workers.Release(1)

	return t.Execute(ctx, args)
}

func toSet(names []string) map[string]struct{} {
	if names == nil {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
