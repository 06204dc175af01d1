package api

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a finalized model request to invoke a tool. Arguments holds the
// raw JSON text exactly as the model produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// DecodeArguments parses the JSON arguments into a map. Empty arguments
// decode to an empty map.
func (c ToolCall) DecodeArguments() (map[string]any, error) {
	args := map[string]any{}
	if c.Arguments == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
		return nil, fmt.Errorf("decoding arguments for tool %q: %w", c.Name, err)
	}
	return args, nil
}

// ToolResult is the outcome of executing one ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Result     any    `json:"result"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Content renders the result for the wire. Strings are sent unchanged,
// anything else is JSON-encoded.
func (r ToolResult) Content() (string, error) {
	switch v := r.Result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	}
	data, err := json.Marshal(r.Result)
	if err != nil {
		return "", fmt.Errorf("encoding result for tool call %q: %w", r.ToolCallID, err)
	}
	return string(data), nil
}

// Message is one entry of a conversation. Role selects which fields are
// meaningful: Content for user, system, and assistant messages, ToolCalls for
// assistant messages, and ToolResults for tool messages.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewAssistantMessage creates an assistant message with optional tool calls.
func NewAssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolResultMessage creates a message carrying the results of one round
// of tool execution.
func NewToolResultMessage(results []ToolResult) Message {
	return Message{Role: RoleTool, ToolResults: results}
}

// ToolDefinition describes a callable tool offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolChoiceMode constrains whether and how the model calls tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceFunction ToolChoiceMode = "function"
)

// ToolChoice is a pending tool-choice constraint. Name is set only for
// ToolChoiceFunction.
type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode"`
	Name string         `json:"name,omitempty"`
}

// Conversation is the state of one logical request: a fixed list of leading
// system prompts, an append-only message log, and the settings sent with
// every round. It is owned by a single request and is not safe for
// concurrent mutation.
type Conversation struct {
	Model         string           `json:"model"`
	SystemPrompts []Message        `json:"system_prompts,omitempty"`
	Messages      []Message        `json:"messages"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	ToolChoice    *ToolChoice      `json:"tool_choice,omitempty"`

	// MaxSteps bounds the number of rounds. Zero selects the engine default.
	MaxSteps int `json:"max_steps,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// AddMessage appends a message to the log.
func (c *Conversation) AddMessage(m Message) {
	c.Messages = append(c.Messages, m)
}

// ResetToolChoice clears any pending tool-choice constraint.
func (c *Conversation) ResetToolChoice() {
	c.ToolChoice = nil
}

// Snapshot returns a copy of the message log that later appends do not affect.
func (c *Conversation) Snapshot() []Message {
	return slices.Clone(c.Messages)
}

// Usage reports token consumption for one round.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns the sum of prompt and completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

// FinishReason is the normalized cause for the end of a round.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
)

// ParseFinishReason maps a wire value to a FinishReason. The boolean is false
// for values outside the known set, in which case Stop is returned.
func ParseFinishReason(wire string) (FinishReason, bool) {
	switch wire {
	case "stop":
		return FinishReasonStop, true
	case "length":
		return FinishReasonLength, true
	case "tool_calls":
		return FinishReasonToolCalls, true
	default:
		return FinishReasonStop, false
	}
}
