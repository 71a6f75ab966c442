package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lennartpollvogt/mochi-server/internal/toolschema"
)

// NativeFunc is the signature every in-process tool implementation has.
type NativeFunc func(ctx context.Context, args json.RawMessage) (string, error)

// NativeEntry is what a package registers for one native tool at startup.
type NativeEntry struct {
	Description string
	Params      interface{} // zero value of the parameter struct, for schema generation
	Destructive bool
	Run         NativeFunc
}

// NativeRegistry holds every in-process tool implementation, registered
// explicitly by name at startup — no directory scanning, no reflection
// over package symbols.
type NativeRegistry struct {
	mu        sync.RWMutex
	entries   map[string]NativeEntry
	generator *toolschema.Generator
}

// NewNativeRegistry creates an empty NativeRegistry.
func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{
		entries:   make(map[string]NativeEntry),
		generator: toolschema.NewGenerator(),
	}
}

// Register adds a native tool implementation. Registering the same name
// twice is a programmer error and panics at startup rather than silently
// overwriting, matching the teacher's fail-fast style for configuration
// mistakes.
func (r *NativeRegistry) Register(name string, entry NativeEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		panic(fmt.Sprintf("tools: native tool %q already registered", name))
	}
	r.entries[name] = entry
}

func (r *NativeRegistry) get(name string) (NativeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// ToTool wraps a registered native tool under name as a Tool, or returns
// an error if no such implementation was registered.
func (r *NativeRegistry) ToTool(name, description string) (Tool, error) {
	entry, ok := r.get(name)
	if !ok {
		return nil, fmt.Errorf("tools: native implementation %q not registered", name)
	}
	if description == "" {
		description = entry.Description
	}
	return &nativeTool{name: name, description: description, entry: entry, generator: r.generator}, nil
}

type nativeTool struct {
	name        string
	description string
	entry       NativeEntry
	generator   *toolschema.Generator
}

func (t *nativeTool) Name() string        { return t.name }
func (t *nativeTool) Description() string { return t.description }
func (t *nativeTool) Destructive() bool   { return t.entry.Destructive }

func (t *nativeTool) Schema() (map[string]interface{}, error) {
	return t.generator.FunctionSchema(t.name, t.description, t.entry.Params, t.entry.Destructive)
}

func (t *nativeTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.entry.Run(ctx, args)
}
