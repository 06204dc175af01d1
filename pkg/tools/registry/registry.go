package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/tools"
)

var (
	functionExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_function_executions_total",
			Help: "Total function tool executions",
		},
		[]string{"provider", "tool_name", "status"},
	)

	functionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_function_duration_seconds",
			Help:    "Function tool execution duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "tool_name"},
	)
)

func init() {
	prometheus.MustRegister(functionExecutions, functionDuration)
}

// FunctionRegistry aggregates FunctionProviders and implements
// tools.ToolExecutor. It routes calls to the owning provider, records
// metrics, and turns provider panics into error results.
type FunctionRegistry struct {
	mu sync.RWMutex

	// providers stores registered providers in insertion order.
	providers []FunctionProvider

	// toolToProvider maps tool name to the provider that owns it.
	toolToProvider map[string]FunctionProvider
}

var (
	_ tools.ToolExecutor     = (*FunctionRegistry)(nil)
	_ tools.DefinitionSource = (*FunctionRegistry)(nil)
)

// New creates an empty FunctionRegistry.
func New() *FunctionRegistry {
	return &FunctionRegistry{
		toolToProvider: make(map[string]FunctionProvider),
	}
}

// Register adds a provider. If two providers supply a tool with the same
// name, the first registered provider wins and a warning is logged.
func (r *FunctionRegistry) Register(p FunctionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)

	for _, td := range p.Tools() {
		if existing, ok := r.toolToProvider[td.Name]; ok {
			slog.Warn("function tool name conflict, keeping first provider",
				"tool", td.Name,
				"winner", existing.Name(),
				"loser", p.Name(),
			)
			continue
		}
		r.toolToProvider[td.Name] = p
	}

	debug.Log("tools", "registered function provider", "provider", p.Name(), "tools", len(p.Tools()))
}

// Kind returns ToolKindFunction.
func (r *FunctionRegistry) Kind() tools.ToolKind {
	return tools.ToolKindFunction
}

// CanExecute returns true if any registered provider handles the named tool.
func (r *FunctionRegistry) CanExecute(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.toolToProvider[toolName]
	return ok
}

// Execute routes the call to the provider that owns the tool. Unknown
// tools and panics become error results.
func (r *FunctionRegistry) Execute(ctx context.Context, call api.ToolCall) (result *api.ToolResult, err error) {
	r.mu.RLock()
	p, ok := r.toolToProvider[call.Name]
	r.mu.RUnlock()

	if !ok {
		return errorResult(call, fmt.Sprintf("%v %q", tools.ErrNoExecutor, call.Name)), nil
	}

	provider := p.Name()
	start := time.Now()
	status := "success"
	defer func() {
		functionExecutions.WithLabelValues(provider, call.Name, status).Inc()
		functionDuration.WithLabelValues(provider, call.Name).Observe(time.Since(start).Seconds())
	}()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("function tool panicked", "provider", provider, "tool", call.Name, "panic", rec)
			status = "panic"
			result, err = errorResult(call, fmt.Sprintf("internal error: tool %q panicked", call.Name)), nil
		}
	}()

	result, err = p.Execute(ctx, call)
	switch {
	case err != nil:
		status = "error"
	case result != nil && result.IsError:
		status = "tool_error"
	}
	return result, err
}

func errorResult(call api.ToolCall, msg string) *api.ToolResult {
	return &api.ToolResult{ToolCallID: call.ID, Name: call.Name, Result: msg, IsError: true}
}

// Definitions returns the merged tool definitions of all providers.
func (r *FunctionRegistry) Definitions(_ context.Context) ([]api.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []api.ToolDefinition
	for _, p := range r.providers {
		for _, td := range p.Tools() {
			if r.toolToProvider[td.Name] == p {
				all = append(all, td)
			}
		}
	}
	return all, nil
}

// Close closes every provider and joins their errors.
func (r *FunctionRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of tools the registry routes.
func (r *FunctionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.toolToProvider)
}
