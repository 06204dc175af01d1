// Package registry hosts tools implemented as Go functions. A
// FunctionProvider contributes a named group of tools; the FunctionRegistry
// aggregates providers, implements tools.ToolExecutor, and records metrics.
package registry

import (
	"context"
	"fmt"

	"github.com/rhuss/chatrelay/pkg/api"
)

// FunctionProvider is a group of in-process tools.
type FunctionProvider interface {
	// Name returns a unique identifier for this provider.
	Name() string

	// Tools returns the tool definitions this provider contributes.
	Tools() []api.ToolDefinition

	// CanExecute reports whether this provider handles the named tool.
	CanExecute(name string) bool

	// Execute runs a tool call and returns the result.
	Execute(ctx context.Context, call api.ToolCall) (*api.ToolResult, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Handler implements one function tool. The returned value must be
// JSON-serializable.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Function pairs a tool definition with its implementation.
type Function struct {
	Definition api.ToolDefinition
	Handler    Handler
}

// FunctionSet is a FunctionProvider backed by plain Go functions.
type FunctionSet struct {
	name     string
	defs     []api.ToolDefinition
	handlers map[string]Handler
}

var _ FunctionProvider = (*FunctionSet)(nil)

// NewFunctionSet creates a provider from the given functions. Later
// functions with a duplicate name replace earlier ones.
func NewFunctionSet(name string, fns ...Function) *FunctionSet {
	s := &FunctionSet{name: name, handlers: make(map[string]Handler, len(fns))}
	for _, fn := range fns {
		if _, dup := s.handlers[fn.Definition.Name]; !dup {
			s.defs = append(s.defs, fn.Definition)
		}
		s.handlers[fn.Definition.Name] = fn.Handler
	}
	return s
}

func (s *FunctionSet) Name() string                { return s.name }
func (s *FunctionSet) Tools() []api.ToolDefinition { return s.defs }
func (s *FunctionSet) Close() error                { return nil }

func (s *FunctionSet) CanExecute(name string) bool {
	_, ok := s.handlers[name]
	return ok
}

// Execute decodes the call arguments and runs the handler. Malformed
// arguments and handler errors are reported as error results.
func (s *FunctionSet) Execute(ctx context.Context, call api.ToolCall) (*api.ToolResult, error) {
	h, ok := s.handlers[call.Name]
	if !ok {
		return nil, fmt.Errorf("function set %q has no tool %q", s.name, call.Name)
	}

	args, err := call.DecodeArguments()
	if err != nil {
		return &api.ToolResult{ToolCallID: call.ID, Name: call.Name, Result: err.Error(), IsError: true}, nil
	}

	out, err := h(ctx, args)
	if err != nil {
		return &api.ToolResult{ToolCallID: call.ID, Name: call.Name, Result: err.Error(), IsError: true}, nil
	}
	return &api.ToolResult{ToolCallID: call.ID, Name: call.Name, Result: out}, nil
}
