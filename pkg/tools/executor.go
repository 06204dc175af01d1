package tools

import (
	"context"
	"errors"

	"github.com/rhuss/chatrelay/pkg/api"
)

// ToolKind classifies how a tool is hosted and executed.
type ToolKind int

const (
	// ToolKindFunction is a Go function registered in-process.
	ToolKindFunction ToolKind = iota

	// ToolKindMCP is a tool served by a Model Context Protocol server.
	ToolKindMCP
)

func (k ToolKind) String() string {
	switch k {
	case ToolKindFunction:
		return "function"
	case ToolKindMCP:
		return "mcp"
	default:
		return "unknown"
	}
}

// ErrNoExecutor is returned when no executor handles a tool name.
var ErrNoExecutor = errors.New("no executor found for tool")

// ToolExecutor executes tool calls requested by the model.
type ToolExecutor interface {
	// Kind returns the type of tools this executor handles.
	Kind() ToolKind

	// CanExecute checks if this executor can handle the given tool name.
	CanExecute(toolName string) bool

	// Execute runs the tool. A returned error means the call could not be
	// carried out; a result with IsError set means the tool ran and
	// reported a failure.
	Execute(ctx context.Context, call api.ToolCall) (*api.ToolResult, error)
}

// DefinitionSource lists the tools an executor offers, so they can be sent
// to the model with the conversation.
type DefinitionSource interface {
	Definitions(ctx context.Context) ([]api.ToolDefinition, error)
}

// Set routes tool calls to the first executor that can handle them.
type Set []ToolExecutor

// Find returns the executor for the named tool.
func (s Set) Find(name string) (ToolExecutor, bool) {
	for _, e := range s {
		if e.CanExecute(name) {
			return e, true
		}
	}
	return nil, false
}

// Definitions collects the tool definitions of every member that lists its
// tools. Names already seen are skipped.
func (s Set) Definitions(ctx context.Context) ([]api.ToolDefinition, error) {
	var defs []api.ToolDefinition
	seen := make(map[string]bool)
	for _, e := range s {
		src, ok := e.(DefinitionSource)
		if !ok {
			continue
		}
		list, err := src.Definitions(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range list {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			defs = append(defs, d)
		}
	}
	return defs, nil
}
