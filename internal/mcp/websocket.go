package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// WebSocketClient implements MCPClient over one long-lived WebSocket
// connection, serializing request/response pairs since a single
// connection cannot have two calls in flight at once.
type WebSocketClient struct {
	name   string
	url    string
	conn   *websocket.Conn
	reqID  int32
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// NewWebSocketClient dials url and returns a WebSocketClient for the MCP
// provider listening there.
func NewWebSocketClient(name string, url string, logger *slog.Logger) (*WebSocketClient, error) {
	if logger == nil {
		return nil, fmt.Errorf("mcp: websocket client %q: logger is nil", name)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: dialing %s: %w", url, err)
	}

	client := &WebSocketClient{
		name:   name,
		url:    url,
		conn:   conn,
		logger: logger,
	}

	logger.Info("created MCP WebSocket client", "name", name, "url", url)
	return client, nil
}

func (c *WebSocketClient) Name() string {
	return c.name
}

func (c *WebSocketClient) Initialize(ctx context.Context) error {
	params := InitializeParams{
		ProtocolVersion: "2024-11-05",
		Capabilities: ClientCapabilities{
			Roots: &RootsCapability{
				ListChanged: false,
			},
		},
		ClientInfo: ClientInfo{
			Name:    "mochi-server",
			Version: "1.1.0",
		},
	}

	var result InitializeResult
	if err := c.sendRequest(ctx, MethodInitialize, params, &result); err != nil {
		return fmt.Errorf("mcp: initializing %s: %w", c.name, err)
	}

	c.logger.Info("MCP server initialized",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion)
	return nil
}

func (c *WebSocketClient) ListTools(ctx context.Context) ([]Tool, error) {
	var result ListToolsResult
	if err := c.sendRequest(ctx, MethodListTools, nil, &result); err != nil {
		return nil, fmt.Errorf("mcp: listing tools from %s: %w", c.name, err)
	}

	tools := make([]Tool, len(result.Tools))
	for i, toolInfo := range result.Tools {
		tools[i] = Tool{
			Name:        toolInfo.Name,
			Description: toolInfo.Description,
			InputSchema: toolInfo.InputSchema,
			ServerName:  c.name,
		}
	}

	c.logger.Info("listed tools from MCP server", "server", c.name, "count", len(tools))
	return tools, nil
}

func (c *WebSocketClient) CallTool(ctx context.Context, toolName string, args map[string]interface{}) (interface{}, error) {
	params := CallToolParams{
		Name:      toolName,
		Arguments: args,
	}

	var result CallToolResult
	if err := c.sendRequest(ctx, MethodCallTool, params, &result); err != nil {
		return nil, fmt.Errorf("mcp: calling %s on %s: %w", toolName, c.name, err)
	}

	c.logger.Info("called tool", "server", c.name, "tool", toolName)
	return result, nil
}

func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}

	c.logger.Info("closed MCP WebSocket client", "name", c.name)
	return nil
}

// sendRequest writes one JSON-RPC 2.0 request and blocks for its matching
// response; the connection has no pipelining, so the mutex also enforces
// one request in flight at a time.
func (c *WebSocketClient) sendRequest(ctx context.Context, method string, params interface{}, result interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("mcp: client %q is closed", c.name)
	}

	reqID := int(atomic.AddInt32(&c.reqID, 1))

	request := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	if err := c.conn.WriteJSON(request); err != nil {
		return fmt.Errorf("mcp: writing request: %w", err)
	}

	var response JSONRPCResponse
	if err := c.conn.ReadJSON(&response); err != nil {
		return fmt.Errorf("mcp: reading response: %w", err)
	}
	if response.Error != nil {
		return fmt.Errorf("mcp: rpc error %d: %s", response.Error.Code, response.Error.Message)
	}

	if result != nil {
		resultJSON, err := json.Marshal(response.Result)
		if err != nil {
			return fmt.Errorf("mcp: re-marshaling result: %w", err)
		}
		if err := json.Unmarshal(resultJSON, result); err != nil {
			return fmt.Errorf("mcp: decoding result: %w", err)
		}
	}

	return nil
}
