// Package mcp implements the client side of the Model Context Protocol:
// the JSON-RPC handshake, tool listing, and tool invocation shared by the
// stdio/HTTP/WebSocket transports internal/tools dials out to for
// manifest-declared MCP providers.
package mcp

import (
	"context"
	"fmt"
	"sync"
)

// MCPClient is one connection to an MCP-speaking tool provider, regardless
// of transport (stdio subprocess, HTTP, or WebSocket).
type MCPClient interface {
	// Initialize performs the MCP handshake over the underlying transport.
	Initialize(ctx context.Context) error

	// ListTools returns the tools this provider currently advertises.
	ListTools(ctx context.Context) ([]Tool, error)

	// CallTool invokes toolName with args and returns its decoded result.
	CallTool(ctx context.Context, toolName string, args map[string]interface{}) (interface{}, error)

	// Close tears down the transport connection.
	Close() error

	// Name identifies the client for logging and registry lookups —
	// the manifest name it was constructed from.
	Name() string
}

// Tool is one function an MCP provider advertises via tools/list.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	ServerName  string
}

// ClientRegistry tracks every MCP client the Tool Registry has opened, so
// they can be looked up by manifest name and torn down together on reload.
type ClientRegistry struct {
	clients map[string]MCPClient
	mu      sync.RWMutex
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]MCPClient),
	}
}

// Register adds client under name, replacing any prior entry for that name.
func (r *ClientRegistry) Register(name string, client MCPClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
}

// Get looks up a client by its manifest name.
func (r *ClientRegistry) Get(name string) (MCPClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	return client, ok
}

// All returns every registered client, in no particular order.
func (r *ClientRegistry) All() []MCPClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]MCPClient, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Close closes every registered client, continuing past individual
// failures and returning the first one encountered.
func (r *ClientRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, client := range r.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcp: closing client %s: %w", name, err)
		}
	}
	return firstErr
}

// Count returns the number of registered clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
