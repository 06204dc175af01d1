package api

import "strings"

// StepMeta identifies the provider response a Step was built from.
type StepMeta struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

// Step is the result of one round.
type Step struct {
	Text          string       `json:"text"`
	FinishReason  FinishReason `json:"finish_reason"`
	ToolCalls     []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults   []ToolResult `json:"tool_results,omitempty"`
	Usage         Usage        `json:"usage"`
	Meta          StepMeta     `json:"meta"`
	Messages      []Message    `json:"messages,omitempty"`
	SystemPrompts []Message    `json:"system_prompts,omitempty"`
}

// Response aggregates the Steps of one logical request in chronological
// order.
type Response struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	Steps     []Step `json:"steps"`
	CreatedAt int64  `json:"created_at"`
}

// AddStep appends a Step.
func (r *Response) AddStep(s Step) {
	r.Steps = append(r.Steps, s)
}

// LastStep returns the most recent Step, or nil when there is none.
func (r *Response) LastStep() *Step {
	if len(r.Steps) == 0 {
		return nil
	}
	return &r.Steps[len(r.Steps)-1]
}

// Text returns the text of the final Step.
func (r *Response) Text() string {
	if s := r.LastStep(); s != nil {
		return s.Text
	}
	return ""
}

// FullText joins the non-empty texts of all Steps with blank lines.
func (r *Response) FullText() string {
	var parts []string
	for _, s := range r.Steps {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// FinishReason returns the finish reason of the final Step.
func (r *Response) FinishReason() FinishReason {
	if s := r.LastStep(); s != nil {
		return s.FinishReason
	}
	return ""
}

// Usage sums token usage over all Steps.
func (r *Response) Usage() Usage {
	var total Usage
	for _, s := range r.Steps {
		total = total.Add(s.Usage)
	}
	return total
}

// ToolCalls returns every tool call across all Steps in order.
func (r *Response) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, s := range r.Steps {
		calls = append(calls, s.ToolCalls...)
	}
	return calls
}
