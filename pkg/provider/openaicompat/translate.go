package openaicompat

import (
	"fmt"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/provider"
)

// BuildRequest converts a conversation into a Chat Completions request.
// System prompts are sent first, followed by the message log. A tool result
// message expands into one "tool" message per result.
func BuildRequest(conv *api.Conversation, stream, includeUsage bool) (*ChatCompletionRequest, error) {
	cr := &ChatCompletionRequest{
		Model:       conv.Model,
		Stream:      stream,
		Temperature: conv.Temperature,
		MaxTokens:   conv.MaxTokens,
		TopP:        conv.TopP,
	}
	if stream && includeUsage {
		cr.StreamOptions = &ChatStreamOptions{IncludeUsage: true}
	}

	for _, m := range conv.SystemPrompts {
		cr.Messages = append(cr.Messages, ChatMessage{Role: string(api.RoleSystem), Content: strPtr(m.Content)})
	}
	for _, m := range conv.Messages {
		msgs, err := translateMessage(m)
		if err != nil {
			return nil, err
		}
		cr.Messages = append(cr.Messages, msgs...)
	}

	for _, t := range conv.Tools {
		cr.Tools = append(cr.Tools, ChatTool{
			Type: "function",
			Function: ChatFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	if len(cr.Tools) > 0 && conv.ToolChoice != nil {
		cr.ToolChoice = translateToolChoice(conv.ToolChoice)
	}

	return cr, nil
}

func translateMessage(m api.Message) ([]ChatMessage, error) {
	switch m.Role {
	case api.RoleUser, api.RoleSystem:
		return []ChatMessage{{Role: string(m.Role), Content: strPtr(m.Content)}}, nil

	case api.RoleAssistant:
		cm := ChatMessage{Role: string(api.RoleAssistant)}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			cm.Content = strPtr(m.Content)
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, ChatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: ChatFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return []ChatMessage{cm}, nil

	case api.RoleTool:
		out := make([]ChatMessage, 0, len(m.ToolResults))
		for _, r := range m.ToolResults {
			content, err := r.Content()
			if err != nil {
				return nil, err
			}
			out = append(out, ChatMessage{
				Role:       string(api.RoleTool),
				Content:    strPtr(content),
				ToolCallID: r.ToolCallID,
			})
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported message role %q", m.Role)
	}
}

func translateToolChoice(tc *api.ToolChoice) any {
	if tc.Mode == api.ToolChoiceFunction {
		var fn ChatToolChoiceFunction
		fn.Type = "function"
		fn.Function.Name = tc.Name
		return fn
	}
	return string(tc.Mode)
}

// ParseCompletion converts a non-streaming response into a Completion. It
// fails with api.ErrMissingChoices when the response has no choice. Unknown
// finish reasons map to Stop unless strict is set.
func ParseCompletion(resp *ChatCompletionResponse, strict bool) (*provider.Completion, error) {
	if len(resp.Choices) == 0 {
		return nil, api.ErrMissingChoices
	}
	choice := resp.Choices[0]

	reason, err := mapFinishReason(choice.FinishReason, strict)
	if err != nil {
		return nil, err
	}

	c := &provider.Completion{
		FinishReason: reason,
		Meta:         api.StepMeta{ID: resp.ID, Model: resp.Model},
	}
	if choice.Message.Content != nil {
		c.Text = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		c.ToolCalls = append(c.ToolCalls, api.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if resp.Usage != nil {
		c.Usage = api.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
	}
	return c, nil
}

func strPtr(s string) *string {
	return &s
}
