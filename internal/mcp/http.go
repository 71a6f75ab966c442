package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// HTTPClient implements MCPClient over a plain HTTP JSON-RPC POST to
// baseURL+"/rpc" — no persistent connection, one round trip per call.
type HTTPClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	reqID      int32
	logger     *slog.Logger
}

// NewHTTPClient builds an HTTPClient for the MCP provider at baseURL.
func NewHTTPClient(name string, baseURL string, logger *slog.Logger) (*HTTPClient, error) {
	if logger == nil {
		return nil, fmt.Errorf("mcp: http client %q: logger is nil", name)
	}

	client := &HTTPClient{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 0, // long-running tool calls are expected, not just SSE streams
		},
		logger: logger,
	}

	logger.Info("created MCP HTTP client", "name", name, "url", baseURL)
	return client, nil
}

func (c *HTTPClient) Name() string {
	return c.name
}

func (c *HTTPClient) Initialize(ctx context.Context) error {
	params := InitializeParams{
		ClientInfo: ClientInfo{
			Name:    "mochi-server",
			Version: "1.0.0",
		},
	}

	var result InitializeResult
	if err := c.sendRequest(ctx, MethodInitialize, params, &result); err != nil {
		return fmt.Errorf("mcp: initializing %s: %w", c.name, err)
	}

	c.logger.Info("MCP server initialized", "server", result.ServerInfo.Name, "version", result.ServerInfo.Version)
	return nil
}

func (c *HTTPClient) ListTools(ctx context.Context) ([]Tool, error) {
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

func (c *HTTPClient) CallTool(ctx context.Context, toolName string, args map[string]interface{}) (interface{}, error) {
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

func (c *HTTPClient) Close() error {
	c.logger.Info("closed MCP HTTP client", "name", c.name)
	return nil
}

// sendRequest issues one JSON-RPC 2.0 call over HTTP POST and decodes its
// result into result, if non-nil.
func (c *HTTPClient) sendRequest(ctx context.Context, method string, params interface{}, result interface{}) error {
	reqID := int(atomic.AddInt32(&c.reqID, 1))

	request := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	requestJSON, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("mcp: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewBuffer(requestJSON))
	if err != nil {
		return fmt.Errorf("mcp: building HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("mcp: sending HTTP request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("mcp: http status %d: %s", httpResp.StatusCode, string(body))
	}

	responseJSON, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("mcp: reading response body: %w", err)
	}

	var response JSONRPCResponse
	if err := json.Unmarshal(responseJSON, &response); err != nil {
		return fmt.Errorf("mcp: decoding response: %w", err)
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
