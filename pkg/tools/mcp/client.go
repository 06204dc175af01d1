package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/observability"
)

// ServerClient wraps an MCP SDK client session for a single server. It
// handles the connection lifecycle, tool discovery, and tool execution.
type ServerClient struct {
	cfg     ServerConfig
	client  *mcp.Client
	session *mcp.ClientSession

	mu            sync.Mutex
	cachedTools   []api.ToolDefinition
	toolsResolved bool
}

// NewServerClient creates a client for the given server configuration.
// Call Connect to establish the connection.
func NewServerClient(cfg ServerConfig) *ServerClient {
	return &ServerClient{cfg: cfg}
}

// Name returns the configured server name.
func (c *ServerClient) Name() string { return c.cfg.Name }

// Connect establishes the connection and performs the protocol handshake.
func (c *ServerClient) Connect(ctx context.Context) error {
	return c.ConnectWithTransport(ctx, nil)
}

// ConnectWithTransport establishes the connection using the given
// transport. If transport is nil, one is created from the server
// configuration.
func (c *ServerClient) ConnectWithTransport(ctx context.Context, transport mcp.Transport) error {
	c.client = mcp.NewClient(
		&mcp.Implementation{
			Name:    "chatrelay",
			Version: "1.0.0",
		},
		&mcp.ClientOptions{
			Capabilities: &mcp.ClientCapabilities{},
		},
	)

	if transport == nil {
		t, err := c.createTransport()
		if err != nil {
			return fmt.Errorf("creating transport for %q: %w", c.cfg.Name, err)
		}
		transport = t
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connecting to MCP server %q: %w", c.cfg.Name, err)
	}
	c.session = session
	debug.Log("mcp", "connected", "server", c.cfg.Name, "transport", c.cfg.Transport)
	return nil
}

func (c *ServerClient) createTransport() (mcp.Transport, error) {
	hc := c.buildHTTPClient()
	switch c.cfg.Transport {
	case "sse":
		return &mcp.SSEClientTransport{Endpoint: c.cfg.URL, HTTPClient: hc}, nil
	case "streamable-http", "":
		return &mcp.StreamableClientTransport{Endpoint: c.cfg.URL, HTTPClient: hc}, nil
	default:
		return nil, fmt.Errorf("unsupported transport type %q", c.cfg.Transport)
	}
}

// buildHTTPClient returns a client whose requests are counted in the
// outgoing HTTP metrics and carry the configured static headers.
func (c *ServerClient) buildHTTPClient() *http.Client {
	var rt http.RoundTripper = http.DefaultTransport
	if len(c.cfg.Headers) > 0 {
		rt = &headerTransport{base: rt, headers: c.cfg.Headers}
	}
	return &http.Client{Transport: observability.InstrumentTransport(rt)}
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// DiscoverTools lists the server's tools and caches them. Subsequent calls
// return the cached definitions.
func (c *ServerClient) DiscoverTools(ctx context.Context) ([]api.ToolDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.toolsResolved {
		return c.cachedTools, nil
	}

	if c.session == nil {
		return nil, fmt.Errorf("MCP client %q not connected", c.cfg.Name)
	}

	var toolDefs []api.ToolDefinition
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools from %q: %w", c.cfg.Name, err)
		}
		td, convErr := convertTool(tool)
		if convErr != nil {
			return nil, fmt.Errorf("converting tool %q from %q: %w", tool.Name, c.cfg.Name, convErr)
		}
		toolDefs = append(toolDefs, td)
	}

	c.cachedTools = toolDefs
	c.toolsResolved = true
	return toolDefs, nil
}

// CallTool executes a tool call on the server. Malformed arguments and
// protocol failures are reported as error results so the model can react.
func (c *ServerClient) CallTool(ctx context.Context, call api.ToolCall) (*api.ToolResult, error) {
	if c.session == nil {
		return nil, fmt.Errorf("MCP client %q not connected", c.cfg.Name)
	}

	args, err := call.DecodeArguments()
	if err != nil {
		return errorResult(call, fmt.Sprintf("invalid arguments JSON: %v", err)), nil
	}

	debug.Log("mcp", "calling tool", "server", c.cfg.Name, "tool", call.Name)

	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      call.Name,
		Arguments: args,
	})
	if err != nil {
		return errorResult(call, fmt.Sprintf("MCP tool call error: %v", err)), nil
	}

	return convertResult(call, result), nil
}

// Close closes the MCP session.
func (c *ServerClient) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func convertTool(t *mcp.Tool) (api.ToolDefinition, error) {
	var params json.RawMessage
	if t.InputSchema != nil {
		data, err := json.Marshal(t.InputSchema)
		if err != nil {
			return api.ToolDefinition{}, fmt.Errorf("marshaling input schema: %w", err)
		}
		params = data
	}

	return api.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}, nil
}

// convertResult joins the text parts of a CallToolResult. A result with
// no text falls back to its structured content.
func convertResult(call api.ToolCall, result *mcp.CallToolResult) *api.ToolResult {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}

	var out any = strings.Join(parts, "\n")
	if len(parts) == 0 && result.StructuredContent != nil {
		out = result.StructuredContent
	}
	return &api.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Result:     out,
		IsError:    result.IsError,
	}
}

func errorResult(call api.ToolCall, msg string) *api.ToolResult {
	return &api.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Result:     msg,
		IsError:    true,
	}
}
