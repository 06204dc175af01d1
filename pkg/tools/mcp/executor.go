package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/tools"
)

// Executor implements tools.ToolExecutor for MCP server tools. It routes
// each tool call to the server that advertised the tool.
type Executor struct {
	mu sync.RWMutex

	// clients in configuration order; the first server wins name conflicts.
	clients []*ServerClient

	// toolToServer maps tool name to the index of its client.
	toolToServer map[string]int

	discovered bool
}

var (
	_ tools.ToolExecutor     = (*Executor)(nil)
	_ tools.DefinitionSource = (*Executor)(nil)
)

// NewExecutor creates an Executor over already connected clients.
func NewExecutor(clients ...*ServerClient) *Executor {
	return &Executor{
		clients:      clients,
		toolToServer: make(map[string]int),
	}
}

// Connect connects to every configured server. Servers that fail to
// connect are skipped with an error log; an error is returned only when
// servers were configured and none could be reached.
func Connect(ctx context.Context, cfg Config) (*Executor, error) {
	var (
		clients []*ServerClient
		errs    []error
	)
	for _, sc := range cfg.Servers {
		c := NewServerClient(sc)
		if err := c.Connect(ctx); err != nil {
			slog.Error("failed to connect MCP server", "server", sc.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		clients = append(clients, c)
	}
	if len(clients) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return NewExecutor(clients...), nil
}

// Kind returns ToolKindMCP.
func (e *Executor) Kind() tools.ToolKind {
	return tools.ToolKindMCP
}

// CanExecute reports whether a connected server provides the named tool.
// The first call triggers discovery.
func (e *Executor) CanExecute(toolName string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultDiscoveryTimeout)
	defer cancel()
	e.ensureDiscovered(ctx)

	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.toolToServer[toolName]
	return ok
}

// Execute routes the tool call to the server that provides it.
func (e *Executor) Execute(ctx context.Context, call api.ToolCall) (*api.ToolResult, error) {
	e.ensureDiscovered(ctx)

	e.mu.RLock()
	idx, ok := e.toolToServer[call.Name]
	if !ok {
		e.mu.RUnlock()
		return errorResult(call, fmt.Sprintf("no MCP server provides tool %q", call.Name)), nil
	}
	client := e.clients[idx]
	e.mu.RUnlock()

	return client.CallTool(ctx, call)
}

// Definitions returns the tools of all servers, skipping names shadowed
// by an earlier server.
func (e *Executor) Definitions(ctx context.Context) ([]api.ToolDefinition, error) {
	e.ensureDiscovered(ctx)

	e.mu.RLock()
	defer e.mu.RUnlock()

	var all []api.ToolDefinition
	for i, client := range e.clients {
		client.mu.Lock()
		for _, td := range client.cachedTools {
			if e.toolToServer[td.Name] == i {
				all = append(all, td)
			}
		}
		client.mu.Unlock()
	}
	return all, nil
}

// Close closes all client sessions, returning the last error.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var lastErr error
	for _, client := range e.clients {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close MCP client", "server", client.Name(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// ensureDiscovered runs discovery once. A server whose listing fails is
// logged and contributes no tools.
func (e *Executor) ensureDiscovered(ctx context.Context) {
	e.mu.RLock()
	if e.discovered {
		e.mu.RUnlock()
		return
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.discovered {
		return
	}

	for i, client := range e.clients {
		toolDefs, err := client.DiscoverTools(ctx)
		if err != nil {
			slog.Error("failed to discover tools from MCP server",
				"server", client.Name(),
				"error", err,
			)
			continue
		}

		for _, td := range toolDefs {
			if _, exists := e.toolToServer[td.Name]; exists {
				slog.Warn("duplicate MCP tool name, using first provider",
					"tool", td.Name,
					"server", client.Name(),
				)
				continue
			}
			e.toolToServer[td.Name] = i
		}

		slog.Info("discovered MCP tools",
			"server", client.Name(),
			"count", len(toolDefs),
		)
	}

	e.discovered = true
}
