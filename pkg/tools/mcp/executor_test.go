package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/tools"
)

// setupTestServer creates an MCP server with the given tools and connects
// a client to it via in-memory transports.
func setupTestServer(t *testing.T, name string, serverTools map[string]mcp.ToolHandler) *ServerClient {
	t.Helper()

	server := mcp.NewServer(
		&mcp.Implementation{Name: name, Version: "1.0.0"},
		nil,
	)

	for toolName, handler := range serverTools {
		server.AddTool(
			&mcp.Tool{
				Name:        toolName,
				Description: "Test tool: " + toolName,
				InputSchema: map[string]any{"type": "object"},
			},
			handler,
		)
	}

	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx := context.Background()
	go func() {
		_ = server.Run(ctx, serverTransport)
	}()

	client := NewServerClient(ServerConfig{Name: name})
	if err := client.ConnectWithTransport(ctx, clientTransport); err != nil {
		t.Fatalf("ConnectWithTransport failed: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func textHandler(text string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	}
}

func resultText(t *testing.T, r *api.ToolResult) string {
	t.Helper()
	s, err := r.Content()
	if err != nil {
		t.Fatalf("Content failed: %v", err)
	}
	return s
}

func TestExecutor_Definitions(t *testing.T) {
	client := setupTestServer(t, "test-server", map[string]mcp.ToolHandler{
		"get_weather": textHandler("sunny"),
		"get_time":    textHandler("12:00"),
	})

	executor := NewExecutor(client)
	defer executor.Close()

	defs, err := executor.Definitions(context.Background())
	if err != nil {
		t.Fatalf("Definitions failed: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(defs))
	}

	names := map[string]bool{}
	for _, td := range defs {
		names[td.Name] = true
		if len(td.Parameters) == 0 {
			t.Errorf("expected input schema for tool %q", td.Name)
		}
	}
	if !names["get_weather"] || !names["get_time"] {
		t.Errorf("unexpected tool names: %v", names)
	}

	// Cached: calling again returns the same results.
	defs2, _ := executor.Definitions(context.Background())
	if len(defs2) != len(defs) {
		t.Error("cached tools mismatch")
	}
}

func TestExecutor_CanExecute(t *testing.T) {
	client := setupTestServer(t, "test-server", map[string]mcp.ToolHandler{
		"available_tool": textHandler("ok"),
	})

	executor := NewExecutor(client)
	defer executor.Close()

	if !executor.CanExecute("available_tool") {
		t.Error("CanExecute should return true for discovered tool")
	}
	if executor.CanExecute("unknown_tool") {
		t.Error("CanExecute should return false for unknown tool")
	}
}

func TestExecutor_CallTool(t *testing.T) {
	client := setupTestServer(t, "test-server", map[string]mcp.ToolHandler{
		"greet": func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return nil, err
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "Hello, " + args.Name + "!"}},
			}, nil
		},
	})

	executor := NewExecutor(client)
	defer executor.Close()

	result, err := executor.Execute(context.Background(), api.ToolCall{
		ID:        "call_123",
		Name:      "greet",
		Arguments: `{"name":"World"}`,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.ToolCallID != "call_123" {
		t.Errorf("expected call ID 'call_123', got %q", result.ToolCallID)
	}
	if result.Name != "greet" {
		t.Errorf("expected name 'greet', got %q", result.Name)
	}
	if got := resultText(t, result); got != "Hello, World!" {
		t.Errorf("expected output 'Hello, World!', got %q", got)
	}
	if result.IsError {
		t.Error("expected IsError=false, got true")
	}
}

func TestExecutor_InvalidArguments(t *testing.T) {
	client := setupTestServer(t, "test-server", map[string]mcp.ToolHandler{
		"greet": textHandler("unused"),
	})

	executor := NewExecutor(client)
	defer executor.Close()

	result, err := executor.Execute(context.Background(), api.ToolCall{
		ID:        "call_bad",
		Name:      "greet",
		Arguments: `{"name":`,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError=true for malformed arguments")
	}
}

func TestExecutor_MultiServer(t *testing.T) {
	clientA := setupTestServer(t, "server-a", map[string]mcp.ToolHandler{
		"tool_a": textHandler("from server A"),
		"shared": textHandler("shared from A"),
	})
	clientB := setupTestServer(t, "server-b", map[string]mcp.ToolHandler{
		"tool_b": textHandler("from server B"),
		"shared": textHandler("shared from B"),
	})

	executor := NewExecutor(clientA, clientB)
	defer executor.Close()

	tests := []struct {
		tool string
		want string
	}{
		{"tool_a", "from server A"},
		{"tool_b", "from server B"},
		{"shared", "shared from A"},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			result, err := executor.Execute(context.Background(), api.ToolCall{ID: "call_" + tt.tool, Name: tt.tool})
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if got := resultText(t, result); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	defs, err := executor.Definitions(context.Background())
	if err != nil {
		t.Fatalf("Definitions failed: %v", err)
	}
	if len(defs) != 3 {
		t.Errorf("expected 3 unique tools, got %d", len(defs))
	}
}

func TestExecutor_ToolCallError(t *testing.T) {
	client := setupTestServer(t, "test-server", map[string]mcp.ToolHandler{
		"failing_tool": func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "something went wrong"}},
				IsError: true,
			}, nil
		},
	})

	executor := NewExecutor(client)
	defer executor.Close()

	result, err := executor.Execute(context.Background(), api.ToolCall{ID: "call_err", Name: "failing_tool"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError=true for error result")
	}
	if got := resultText(t, result); got != "something went wrong" {
		t.Errorf("expected error output 'something went wrong', got %q", got)
	}
}

func TestExecutor_UnknownTool(t *testing.T) {
	client := setupTestServer(t, "test-server", map[string]mcp.ToolHandler{
		"known_tool": textHandler("ok"),
	})

	executor := NewExecutor(client)
	defer executor.Close()

	result, err := executor.Execute(context.Background(), api.ToolCall{ID: "call_unknown", Name: "nonexistent_tool"})
	if err != nil {
		t.Fatalf("Execute failed with unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError=true for unknown tool")
	}
}

func TestExecutor_InToolSet(t *testing.T) {
	client := setupTestServer(t, "test-server", map[string]mcp.ToolHandler{
		"lookup": textHandler("found"),
	})

	executor := NewExecutor(client)
	defer executor.Close()

	set := tools.Set{executor}
	e, ok := set.Find("lookup")
	if !ok {
		t.Fatal("expected set to find the MCP tool")
	}
	if e.Kind() != tools.ToolKindMCP {
		t.Errorf("expected ToolKindMCP, got %v", e.Kind())
	}
	defs, err := set.Definitions(context.Background())
	if err != nil {
		t.Fatalf("Definitions failed: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "lookup" {
		t.Errorf("unexpected definitions: %+v", defs)
	}
}

func TestConnect_UnsupportedTransport(t *testing.T) {
	_, err := Connect(context.Background(), Config{
		Servers: []ServerConfig{{Name: "bad", Transport: "carrier-pigeon", URL: "http://localhost"}},
	})
	if err == nil {
		t.Fatal("expected error when no server can be connected")
	}
}

func TestConnect_NoServers(t *testing.T) {
	executor, err := Connect(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if executor.CanExecute("anything") {
		t.Error("expected empty executor to execute nothing")
	}
}

func TestHeaderTransport(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
	}))
	defer srv.Close()

	c := NewServerClient(ServerConfig{Name: "h", Headers: map[string]string{"X-API-Key": "secret"}})
	resp, err := c.buildHTTPClient().Get(srv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if gotKey != "secret" {
		t.Errorf("X-API-Key = %q, want secret", gotKey)
	}

	resp, err = NewServerClient(ServerConfig{Name: "plain"}).buildHTTPClient().Get(srv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if gotKey != "" {
		t.Errorf("X-API-Key = %q without configured headers", gotKey)
	}
}

func TestConvertResult_StructuredFallback(t *testing.T) {
	call := api.ToolCall{ID: "c1", Name: "stats"}

	got := convertResult(call, &mcp.CallToolResult{
		StructuredContent: map[string]any{"count": 3},
	})
	text, err := got.Content()
	if err != nil {
		t.Fatal(err)
	}
	if text != `{"count":3}` {
		t.Errorf("content = %s", text)
	}

	got = convertResult(call, &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: "three"}},
		StructuredContent: map[string]any{"count": 3},
		IsError:           true,
	})
	if got.Result != "three" || !got.IsError {
		t.Errorf("text result = %+v", got)
	}
}
