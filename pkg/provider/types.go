package provider

import "github.com/rhuss/chatrelay/pkg/api"

// RequestState is the part of the stream state that belongs to the logical
// request rather than to one round. It survives tool-call continuations so
// stream_start is emitted once and all text shares one message ID.
type RequestState struct {
	StreamStarted bool
	MessageID     string

	// LastUsage is the usage of the most recently finished round.
	LastUsage api.Usage
}

// Round is the outcome of one streamed round.
type Round struct {
	// Handoff is set when the round ended with tool calls that must be
	// dispatched before the conversation can continue. No step_finish or
	// stream_end event has been emitted in that case.
	Handoff bool

	// Ended is set when the round emitted step_finish and stream_end.
	Ended bool

	// Empty is set when the stream carried no payload at all.
	Empty bool

	// Stopped is set when the consumer stopped pulling events.
	Stopped bool

	Text         string
	ToolCalls    []api.ToolCall
	FinishReason api.FinishReason
	Usage        api.Usage
	Meta         api.StepMeta
}

// Completion is the decoded result of one non-streaming round.
type Completion struct {
	Text         string
	ToolCalls    []api.ToolCall
	FinishReason api.FinishReason
	Usage        api.Usage
	Meta         api.StepMeta
}

// ModelInfo describes a model offered by the backend.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
	Created int64  `json:"created,omitempty"`
}
