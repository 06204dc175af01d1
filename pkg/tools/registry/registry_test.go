package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/tools"
)

// mockProvider implements FunctionProvider for testing.
type mockProvider struct {
	name     string
	toolDefs []api.ToolDefinition
	execFn   func(context.Context, api.ToolCall) (*api.ToolResult, error)
	closeErr error
	closed   bool
}

func (m *mockProvider) Name() string                { return m.name }
func (m *mockProvider) Tools() []api.ToolDefinition { return m.toolDefs }

func (m *mockProvider) CanExecute(name string) bool {
	for _, td := range m.toolDefs {
		if td.Name == name {
			return true
		}
	}
	return false
}

func (m *mockProvider) Execute(ctx context.Context, call api.ToolCall) (*api.ToolResult, error) {
	if m.execFn != nil {
		return m.execFn(ctx, call)
	}
	return &api.ToolResult{ToolCallID: call.ID, Name: call.Name, Result: "default"}, nil
}

func (m *mockProvider) Close() error {
	m.closed = true
	return m.closeErr
}

var _ FunctionProvider = (*mockProvider)(nil)

func content(t *testing.T, r *api.ToolResult) string {
	t.Helper()
	s, err := r.Content()
	if err != nil {
		t.Fatalf("Content failed: %v", err)
	}
	return s
}

func TestRegistry_Definitions(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name: "test-provider",
		toolDefs: []api.ToolDefinition{
			{Name: "tool_a", Description: "Tool A"},
			{Name: "tool_b", Description: "Tool B"},
		},
	})

	defs, err := reg.Definitions(context.Background())
	if err != nil {
		t.Fatalf("Definitions failed: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("Definitions() returned %d tools, want 2", len(defs))
	}
	if defs[0].Name != "tool_a" || defs[1].Name != "tool_b" {
		t.Errorf("unexpected order: %q, %q", defs[0].Name, defs[1].Name)
	}
}

func TestRegistry_CanExecute(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "test-provider",
		toolDefs: []api.ToolDefinition{{Name: "known_tool"}},
	})

	if !reg.CanExecute("known_tool") {
		t.Error("expected CanExecute(known_tool) = true")
	}
	if reg.CanExecute("unknown_tool") {
		t.Error("expected CanExecute(unknown_tool) = false")
	}
	if reg.Kind() != tools.ToolKindFunction {
		t.Errorf("Kind() = %v, want function", reg.Kind())
	}
}

func TestRegistry_Execute(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "calc",
		toolDefs: []api.ToolDefinition{{Name: "add"}},
		execFn: func(_ context.Context, call api.ToolCall) (*api.ToolResult, error) {
			args, err := call.DecodeArguments()
			if err != nil {
				return nil, err
			}
			sum := args["a"].(float64) + args["b"].(float64)
			return &api.ToolResult{ToolCallID: call.ID, Name: call.Name, Result: fmt.Sprintf("%g", sum)}, nil
		},
	})

	result, err := reg.Execute(context.Background(), api.ToolCall{
		ID:        "call_1",
		Name:      "add",
		Arguments: `{"a":3,"b":4}`,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.ToolCallID != "call_1" {
		t.Errorf("ToolCallID = %q, want %q", result.ToolCallID, "call_1")
	}
	if content(t, result) != "7" {
		t.Errorf("Content() = %q, want %q", content(t, result), "7")
	}
	if result.IsError {
		t.Error("expected IsError = false")
	}
}

func TestRegistry_Execute_UnknownTool(t *testing.T) {
	reg := New()

	result, err := reg.Execute(context.Background(), api.ToolCall{ID: "call_1", Name: "nonexistent"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError = true for unknown tool")
	}
	if result.ToolCallID != "call_1" {
		t.Errorf("ToolCallID = %q, want %q", result.ToolCallID, "call_1")
	}
}

func TestRegistry_Execute_ProviderError(t *testing.T) {
	boom := errors.New("boom")
	reg := New()
	reg.Register(&mockProvider{
		name:     "failing",
		toolDefs: []api.ToolDefinition{{Name: "fail"}},
		execFn: func(context.Context, api.ToolCall) (*api.ToolResult, error) {
			return nil, boom
		},
	})

	_, err := reg.Execute(context.Background(), api.ToolCall{ID: "call_1", Name: "fail"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRegistry_ToolNameConflict(t *testing.T) {
	reg := New()

	p1 := &mockProvider{
		name:     "provider-1",
		toolDefs: []api.ToolDefinition{{Name: "shared_tool"}},
		execFn: func(_ context.Context, call api.ToolCall) (*api.ToolResult, error) {
			return &api.ToolResult{ToolCallID: call.ID, Result: "from-p1"}, nil
		},
	}
	p2 := &mockProvider{
		name:     "provider-2",
		toolDefs: []api.ToolDefinition{{Name: "shared_tool"}, {Name: "other_tool"}},
		execFn: func(_ context.Context, call api.ToolCall) (*api.ToolResult, error) {
			return &api.ToolResult{ToolCallID: call.ID, Result: "from-p2"}, nil
		},
	}
	reg.Register(p1)
	reg.Register(p2)

	// First provider wins.
	result, err := reg.Execute(context.Background(), api.ToolCall{ID: "call_1", Name: "shared_tool"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if content(t, result) != "from-p1" {
		t.Errorf("Content() = %q, want %q (first provider should win)", content(t, result), "from-p1")
	}

	// The shadowed definition is not advertised twice.
	defs, _ := reg.Definitions(context.Background())
	if len(defs) != 2 {
		t.Errorf("Definitions() returned %d tools, want 2", len(defs))
	}
}

func TestRegistry_PanicRecovery(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "panicky",
		toolDefs: []api.ToolDefinition{{Name: "crash_tool"}},
		execFn: func(context.Context, api.ToolCall) (*api.ToolResult, error) {
			panic("something went terribly wrong")
		},
	})

	result, err := reg.Execute(context.Background(), api.ToolCall{ID: "call_panic", Name: "crash_tool"})
	if err != nil {
		t.Fatalf("expected nil error after panic recovery, got: %v", err)
	}
	if result == nil {
		t.Fatal("expected non-nil result after panic recovery")
	}
	if !result.IsError {
		t.Error("expected IsError = true after panic")
	}
	if result.ToolCallID != "call_panic" {
		t.Errorf("ToolCallID = %q, want %q", result.ToolCallID, "call_panic")
	}
}

func TestRegistry_EmptyRegistry(t *testing.T) {
	reg := New()

	defs, err := reg.Definitions(context.Background())
	if err != nil {
		t.Fatalf("Definitions failed: %v", err)
	}
	if len(defs) != 0 {
		t.Errorf("Definitions() returned %d tools, want 0", len(defs))
	}
	if reg.CanExecute("any_tool") {
		t.Error("expected CanExecute = false for empty registry")
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}

func TestRegistry_Close(t *testing.T) {
	closeErr := errors.New("close failed")
	p1 := &mockProvider{name: "p1"}
	p2 := &mockProvider{name: "p2", closeErr: closeErr}

	reg := New()
	reg.Register(p1)
	reg.Register(p2)

	if err := reg.Close(); !errors.Is(err, closeErr) {
		t.Errorf("Close() = %v, want %v", err, closeErr)
	}
	if !p1.closed || !p2.closed {
		t.Error("expected all providers to be closed")
	}
}

func TestFunctionSet(t *testing.T) {
	greet := Function{
		Definition: api.ToolDefinition{Name: "greet", Description: "Greets someone"},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			name, _ := args["name"].(string)
			if name == "" {
				return nil, errors.New("name is required")
			}
			return map[string]string{"greeting": "hello " + name}, nil
		},
	}
	set := NewFunctionSet("demo", greet)

	if set.Name() != "demo" {
		t.Errorf("Name() = %q, want demo", set.Name())
	}
	if !set.CanExecute("greet") || set.CanExecute("other") {
		t.Error("CanExecute mismatch")
	}

	tests := []struct {
		name        string
		arguments   string
		wantContent string
		wantError   bool
	}{
		{"success", `{"name":"ada"}`, `{"greeting":"hello ada"}`, false},
		{"handler error", `{}`, "name is required", true},
		{"malformed arguments", `{"name":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := set.Execute(context.Background(), api.ToolCall{ID: "call_1", Name: "greet", Arguments: tt.arguments})
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if result.IsError != tt.wantError {
				t.Errorf("IsError = %v, want %v", result.IsError, tt.wantError)
			}
			if tt.wantContent != "" && content(t, result) != tt.wantContent {
				t.Errorf("Content() = %q, want %q", content(t, result), tt.wantContent)
			}
			if result.ToolCallID != "call_1" {
				t.Errorf("ToolCallID = %q, want call_1", result.ToolCallID)
			}
		})
	}
}

func TestFunctionSet_ThroughRegistry(t *testing.T) {
	reg := New()
	reg.Register(NewFunctionSet("demo", Function{
		Definition: api.ToolDefinition{Name: "echo"},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	}))

	result, err := reg.Execute(context.Background(), api.ToolCall{ID: "c", Name: "echo", Arguments: `{"text":"hi"}`})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if content(t, result) != "hi" {
		t.Errorf("Content() = %q, want hi", content(t, result))
	}
}
