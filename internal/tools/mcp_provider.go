package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lennartpollvogt/mochi-server/internal/mcp"
)

// mcpTool adapts one remote MCP-listed tool, reached through any of the
// three network/process transports, into the Tool interface.
type mcpTool struct {
	name        string
	description string
	inputSchema map[string]interface{}
	destructive bool
	client      mcp.MCPClient
}

func (t *mcpTool) Name() string        { return t.name }
func (t *mcpTool) Description() string { return t.description }
func (t *mcpTool) Destructive() bool   { return t.destructive }

func (t *mcpTool) Schema() (map[string]interface{}, error) {
	fn := map[string]interface{}{
		"name":        t.name,
		"description": t.description,
		"parameters":  t.inputSchema,
	}
	if t.destructive {
		fn["x-destructive"] = true
	}
	return map[string]interface{}{"type": "function", "function": fn}, nil
}

func (t *mcpTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params map[string]interface{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", NewError("invalid_params", "failed to parse arguments").WithDetail("error", err.Error())
		}
	}
	result, err := t.client.CallTool(ctx, t.name, params)
	if err != nil {
		return "", NewError("tool_call_failed", err.Error())
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return "", NewError("encode_failed", err.Error())
	}
	return string(encoded), nil
}

// newMCPClient builds the transport client for a manifest without
// connecting it.
func newMCPClient(m Manifest, logger *slog.Logger) (mcp.MCPClient, error) {
	switch m.Provider {
	case ProviderStdio:
		return mcp.NewStdioClient(m.Name, m.Command, logger)
	case ProviderHTTP:
		return mcp.NewHTTPClient(m.Name, m.URL, logger)
	case ProviderWebSocket:
		return mcp.NewWebSocketClient(m.Name, m.URL, logger)
	default:
		return nil, fmt.Errorf("tools: %s is not an MCP-transport provider kind", m.Provider)
	}
}

// mcpToolsFor builds the transport client for a manifest, connects it,
// and lists its tools — one manifest can fan out into several Tool
// instances if the remote server advertises more than one function.
func mcpToolsFor(ctx context.Context, m Manifest, logger *slog.Logger) ([]Tool, mcp.MCPClient, error) {
	client, err := newMCPClient(m, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Initialize(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("tools: initializing %s: %w", m.Name, err)
	}

	listed, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("tools: listing tools from %s: %w", m.Name, err)
	}

	var out []Tool
	for _, lt := range listed {
		out = append(out, &mcpTool{
			name:        lt.Name,
			description: lt.Description,
			inputSchema: lt.InputSchema,
			destructive: m.Destructive,
			client:      client,
		})
	}
	return out, client, nil
}
