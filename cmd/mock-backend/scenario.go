package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/rhuss/chatrelay/pkg/provider/openaicompat"
)

// reply is the planned answer to one request. A non-zero status turns it
// into an error response with text as the message.
type reply struct {
	kind      string
	text      string
	calls     []openaicompat.ChatToolCall
	malformed bool

	status     int
	errType    string
	retryAfter string
}

// toolScenario maps a prompt keyword to a tool call, used when the request
// offers a tool of that name.
type toolScenario struct {
	keywords []string
	tool     string
	args     func(prompt string) map[string]any
}

var toolScenarios = []toolScenario{
	{
		keywords: []string{"weather"},
		tool:     "get_weather",
		args: func(prompt string) map[string]any {
			return map[string]any{"location": locationOf(prompt), "unit": "celsius"}
		},
	},
	{
		keywords: []string{"time", "clock"},
		tool:     "current_time",
		args: func(prompt string) map[string]any {
			if strings.Contains(strings.ToLower(prompt), "berlin") {
				return map[string]any{"timezone": "Europe/Berlin"}
			}
			return map[string]any{}
		},
	},
	{
		keywords: []string{"count the words", "word count", "how many words"},
		tool:     "word_count",
		args: func(prompt string) map[string]any {
			text := prompt
			if _, after, ok := strings.Cut(prompt, ":"); ok {
				text = strings.TrimSpace(after)
			}
			return map[string]any{"text": text}
		},
	},
}

func (s *server) plan(req *openaicompat.ChatCompletionRequest) reply {
	last := req.Messages[len(req.Messages)-1]
	if last.Role == "tool" {
		return reply{kind: "summary", text: summarizeToolResults(req.Messages)}
	}

	prompt := lastUserMessage(req.Messages)
	lower := strings.ToLower(prompt)

	switch {
	case strings.Contains(lower, "rate limit"):
		return reply{kind: "error", status: http.StatusTooManyRequests, errType: "rate_limit_error",
			text: "rate limit reached for mock-model", retryAfter: "3"}
	case strings.Contains(lower, "server error"):
		return reply{kind: "error", status: http.StatusServiceUnavailable, errType: "server_error",
			text: "mock backend is overloaded"}
	case strings.Contains(lower, "malformed"):
		return reply{kind: "malformed", text: "This stream breaks", malformed: true}
	}

	if calls := matchTools(req, prompt); len(calls) > 0 {
		return reply{kind: "tool", calls: calls}
	}

	switch {
	case strings.HasPrefix(req.Model, "lorem") || strings.Contains(lower, "lorem"):
		return reply{kind: "lorem", text: s.lorem.Paragraph(3, 6)}
	case strings.Contains(lower, "count from 1 to 5"):
		return reply{kind: "text", text: "1, 2, 3, 4, 5"}
	case hasSystemPrompt(req.Messages):
		return reply{kind: "system", text: "Ahoy there, matey! Welcome aboard!"}
	default:
		return reply{kind: "text", text: "Hello, nice day!"}
	}
}

// matchTools returns one call per scenario whose keyword appears in the
// prompt and whose tool is offered. A tool_choice naming a function forces
// that function.
func matchTools(req *openaicompat.ChatCompletionRequest, prompt string) []openaicompat.ChatToolCall {
	offered := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		offered = append(offered, t.Function.Name)
	}
	if len(offered) == 0 || req.ToolChoice == "none" {
		return nil
	}

	forced := forcedTool(req.ToolChoice)
	lower := strings.ToLower(prompt)

	var calls []openaicompat.ChatToolCall
	for _, sc := range toolScenarios {
		if !slices.Contains(offered, sc.tool) {
			continue
		}
		hit := forced == sc.tool
		for _, kw := range sc.keywords {
			if strings.Contains(lower, kw) {
				hit = true
			}
		}
		if forced != "" && forced != sc.tool {
			hit = false
		}
		if !hit {
			continue
		}
		args, _ := json.Marshal(sc.args(prompt))
		calls = append(calls, openaicompat.ChatToolCall{
			ID:   callID(sc.tool, len(calls)),
			Type: "function",
			Function: openaicompat.ChatFunctionCall{
				Name:      sc.tool,
				Arguments: string(args),
			},
		})
	}
	return calls
}

// forcedTool extracts the function name from a {"type":"function",...}
// tool_choice, which arrives decoded as a map.
func forcedTool(choice any) string {
	m, ok := choice.(map[string]any)
	if !ok {
		return ""
	}
	fn, _ := m["function"].(map[string]any)
	name, _ := fn["name"].(string)
	return name
}

// summarizeToolResults answers from the tool messages that follow the last
// assistant message.
func summarizeToolResults(msgs []openaicompat.ChatMessage) string {
	var parts []string
	names := toolCallNames(msgs)
	for i := len(msgs) - 1; i >= 0 && msgs[i].Role == "tool"; i-- {
		content := ""
		if msgs[i].Content != nil {
			content = *msgs[i].Content
		}
		name := names[msgs[i].ToolCallID]
		if name == "" {
			name = msgs[i].ToolCallID
		}
		parts = append(parts, fmt.Sprintf("%s returned %s", name, content))
	}
	slices.Reverse(parts)
	return "Here is what I found: " + strings.Join(parts, "; ") + "."
}

func toolCallNames(msgs []openaicompat.ChatMessage) map[string]string {
	names := make(map[string]string)
	for _, m := range msgs {
		for _, c := range m.ToolCalls {
			names[c.ID] = c.Function.Name
		}
	}
	return names
}

func lastUserMessage(msgs []openaicompat.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" && msgs[i].Content != nil {
			return *msgs[i].Content
		}
	}
	return ""
}

func hasSystemPrompt(msgs []openaicompat.ChatMessage) bool {
	for _, m := range msgs {
		if m.Role == "system" {
			return true
		}
	}
	return false
}

// locationOf takes the words after " in " as the location.
func locationOf(prompt string) string {
	_, after, ok := strings.Cut(prompt, " in ")
	if !ok {
		return "San Francisco"
	}
	loc := strings.TrimRight(strings.TrimSpace(after), "?.!")
	if loc == "" {
		return "San Francisco"
	}
	return loc
}
