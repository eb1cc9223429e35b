package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ServerInfo describes one MCP server registered with the gateway.
type ServerInfo struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name,omitempty"`
	Protocol    string            `json:"protocol"`
	Healthy     bool              `json:"healthy"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ToolInfo describes one invocable tool exposed by a server.
type ToolInfo struct {
	ServerName  string          `json:"server_name"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Sensitivity string          `json:"sensitivity,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// InvokeResult is the outcome of a unary tool invocation.
type InvokeResult struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type listServersResponse struct {
	Servers []ServerInfo `json:"servers"`
	Page    int          `json:"page"`
	HasMore bool         `json:"has_more"`
}

// ListServers fetches one page of registered servers over HTTP.
func (c *Client) ListServers(ctx context.Context, page, pageSize int) ([]ServerInfo, error) {
	if err := c.checkTransportAvailable(TransportHTTP); err != nil {
		return nil, err
	}
	if err := c.ensureGatewayURL(); err != nil {
		return nil, err
	}
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 100
	}
	if page <= 0 {
		page = 1
	}

	var out listServersResponse
	url := fmt.Sprintf("%s/servers?page=%d&page_size=%d", c.cfg.GatewayURL, page, pageSize)
	err := c.executeWithErrorHandling(ctx, "gateway-http:list-servers", func(ctx context.Context) error {
		return c.getJSON(ctx, url, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Servers, nil
}

// ListAllServers pages through every registered server.
func (c *Client) ListAllServers(ctx context.Context) ([]ServerInfo, error) {
	var all []ServerInfo
	page := 1
	for {
		servers, err := c.ListServers(ctx, page, 1000)
		if err != nil {
			return nil, err
		}
		all = append(all, servers...)
		if len(servers) < 1000 {
			return all, nil
		}
		page++
	}
}

// GetServerInfo fetches a single server's details.
func (c *Client) GetServerInfo(ctx context.Context, serverName string) (ServerInfo, error) {
	if err := c.checkTransportAvailable(TransportHTTP); err != nil {
		return ServerInfo{}, err
	}
	if err := c.ensureGatewayURL(); err != nil {
		return ServerInfo{}, err
	}

	var out ServerInfo
	url := fmt.Sprintf("%s/servers/%s", c.cfg.GatewayURL, serverName)
	err := c.executeWithErrorHandling(ctx, "gateway-http:get-server-info", func(ctx context.Context) error {
		return c.getJSON(ctx, url, &out)
	})
	return out, err
}

type listToolsResponse struct {
	Tools []ToolInfo `json:"tools"`
}

// ListTools fetches the tools a server exposes over the MCP HTTP transport
// (POST {endpoint}/tools/list).
func (c *Client) ListTools(ctx context.Context, serverName string) ([]ToolInfo, error) {
	if err := c.checkTransportAvailable(TransportHTTP); err != nil {
		return nil, err
	}
	if err := c.ensureGatewayURL(); err != nil {
		return nil, err
	}

	var out listToolsResponse
	url := fmt.Sprintf("%s/servers/%s/tools/list", c.cfg.GatewayURL, serverName)
	err := c.executeWithErrorHandling(ctx, "gateway-http:list-tools:"+serverName, func(ctx context.Context) error {
		return c.postJSON(ctx, url, nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// ListAllTools fetches tools across every server, or a single server's
// tools when serverName is non-empty.
func (c *Client) ListAllTools(ctx context.Context, serverName string) ([]ToolInfo, error) {
	if serverName != "" {
		return c.ListTools(ctx, serverName)
	}
	servers, err := c.ListAllServers(ctx)
	if err != nil {
		return nil, err
	}
	var all []ToolInfo
	for _, s := range servers {
		tools, err := c.ListTools(ctx, s.Name)
		if err != nil {
			return nil, fmt.Errorf("list tools for %s: %w", s.Name, err)
		}
		all = append(all, tools...)
	}
	return all, nil
}

type invokeToolRequest struct {
	ToolName   string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// InvokeTool calls a tool over the MCP HTTP transport (POST
// {endpoint}/tools/call). userToken, when non-empty, is forwarded as the
// policy engine bearer token so the gateway can authorize the call on the
// invoking user's behalf rather than the client's own credential.
func (c *Client) InvokeTool(ctx context.Context, serverName, toolName string, parameters map[string]interface{}, userToken string) (InvokeResult, error) {
	if err := c.checkTransportAvailable(TransportHTTP); err != nil {
		return InvokeResult{}, err
	}
	if err := c.ensureGatewayURL(); err != nil {
		return InvokeResult{}, err
	}

	var out InvokeResult
	url := fmt.Sprintf("%s/servers/%s/tools/call", c.cfg.GatewayURL, serverName)
	body := invokeToolRequest{ToolName: toolName, Parameters: parameters}
	bearer := c.cfg.APIKey
	if userToken != "" {
		bearer = userToken
	}
	err := c.executeWithErrorHandling(ctx, "gateway-http:invoke:"+serverName, func(ctx context.Context) error {
		return c.postJSONAs(ctx, url, body, bearer, &out)
	})
	return out, err
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, url, nil, c.cfg.APIKey, out)
}

func (c *Client) postJSON(ctx context.Context, url string, body interface{}, out interface{}) error {
	return c.postJSONAs(ctx, url, body, c.cfg.APIKey, out)
}

func (c *Client) postJSONAs(ctx context.Context, url string, body interface{}, bearer string, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, url, body, bearer, out)
}

func (c *Client) doJSON(ctx context.Context, method, url string, body interface{}, bearer string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &statusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
