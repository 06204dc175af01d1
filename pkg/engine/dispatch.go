package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/observability"
	"github.com/rhuss/chatrelay/pkg/provider"
	"github.com/rhuss/chatrelay/pkg/tools"
)

// executeTools runs the calls sequentially in order and returns exactly one
// result per call.
func (e *Engine) executeTools(ctx context.Context, calls []api.ToolCall) []api.ToolResult {
	results := make([]api.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.executeTool(ctx, call))
	}
	return results
}

// executeTool never fails: a missing executor or an execution error becomes
// an error result the model can see.
func (e *Engine) executeTool(ctx context.Context, call api.ToolCall) api.ToolResult {
	executor, ok := e.tools.Find(call.Name)
	if !ok {
		observability.ToolExecutionsTotal.WithLabelValues(call.Name, "not_found").Inc()
		slog.Warn("tool call for unknown tool", "tool", call.Name, "call_id", call.ID)
		return toolError(call, fmt.Sprintf("%v %q", tools.ErrNoExecutor, call.Name))
	}

	debug.Log("tools", "executing tool", "tool", call.Name, "kind", executor.Kind(), "call_id", call.ID)

	res, err := executor.Execute(ctx, call)
	var result api.ToolResult
	status := "success"
	switch {
	case err != nil:
		status = "error"
		slog.Warn("tool execution failed", "tool", call.Name, "call_id", call.ID, "error", err)
		result = toolError(call, err.Error())
	case res == nil:
		result = api.ToolResult{}
	default:
		result = *res
		if result.IsError {
			status = "tool_error"
		}
	}
	observability.ToolExecutionsTotal.WithLabelValues(call.Name, status).Inc()

	// Results are matched to calls by position and ID.
	result.ToolCallID = call.ID
	if result.Name == "" {
		result.Name = call.Name
	}
	return result
}

func toolError(call api.ToolCall, msg string) api.ToolResult {
	return api.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Result:     msg,
		IsError:    true,
	}
}

// dispatchStreaming handles a round that handed off tool calls: it emits a
// tool_call event per call, executes the calls, emits their results, extends
// the conversation and closes the step. It reports false as soon as the
// consumer stops.
func (e *Engine) dispatchStreaming(ctx context.Context, conv *api.Conversation, round *provider.Round, messageID string, emit func(api.StreamEvent) bool) ([]api.ToolResult, bool) {
	for _, call := range round.ToolCalls {
		if !emit(api.NewToolCallEvent(messageID, call)) {
			return nil, false
		}
	}

	results := make([]api.ToolResult, 0, len(round.ToolCalls))
	for _, call := range round.ToolCalls {
		result := e.executeTool(ctx, call)
		results = append(results, result)
		if !emit(api.NewToolResultEvent(messageID, result)) {
			return nil, false
		}
	}

	continueWith(conv, round.Text, round.ToolCalls, results)

	return results, emit(api.NewStepFinishEvent())
}

// continueWith appends the assistant turn and its tool results, and lifts
// any tool choice constraint so the next round may answer in text.
func continueWith(conv *api.Conversation, text string, calls []api.ToolCall, results []api.ToolResult) {
	conv.AddMessage(api.NewAssistantMessage(text, calls))
	conv.AddMessage(api.NewToolResultMessage(results))
	conv.ResetToolChoice()
}
