package api

import "time"

// StreamEventType identifies the variant of a StreamEvent.
type StreamEventType string

const (
	EventStreamStart  StreamEventType = "stream_start"
	EventStepStart    StreamEventType = "step_start"
	EventTextStart    StreamEventType = "text_start"
	EventTextDelta    StreamEventType = "text_delta"
	EventTextComplete StreamEventType = "text_complete"
	EventToolCall     StreamEventType = "tool_call"
	EventToolResult   StreamEventType = "tool_result"
	EventStepFinish   StreamEventType = "step_finish"
	EventStreamEnd    StreamEventType = "stream_end"
)

// StreamEvent is one observable transition of a streaming request. Type
// selects which of the optional fields are populated.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`

	// stream_start
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`

	// text_*, tool_call, tool_result
	MessageID  string      `json:"message_id,omitempty"`
	Delta      string      `json:"delta,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// stream_end
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
}

func newEvent(t StreamEventType) StreamEvent {
	return StreamEvent{Type: t, ID: NewEventID(), Timestamp: time.Now()}
}

// NewStreamStartEvent creates the event that opens a logical request.
func NewStreamStartEvent(model, provider string) StreamEvent {
	ev := newEvent(EventStreamStart)
	ev.Model = model
	ev.Provider = provider
	return ev
}

// NewStepStartEvent creates the event that opens a round.
func NewStepStartEvent() StreamEvent {
	return newEvent(EventStepStart)
}

// NewTextStartEvent marks the first text content of a round.
func NewTextStartEvent(messageID string) StreamEvent {
	ev := newEvent(EventTextStart)
	ev.MessageID = messageID
	return ev
}

// NewTextDeltaEvent carries one newly observed text fragment.
func NewTextDeltaEvent(messageID, delta string) StreamEvent {
	ev := newEvent(EventTextDelta)
	ev.MessageID = messageID
	ev.Delta = delta
	return ev
}

// NewTextCompleteEvent marks the end of a round's text.
func NewTextCompleteEvent(messageID string) StreamEvent {
	ev := newEvent(EventTextComplete)
	ev.MessageID = messageID
	return ev
}

// NewToolCallEvent announces a finalized tool call.
func NewToolCallEvent(messageID string, call ToolCall) StreamEvent {
	ev := newEvent(EventToolCall)
	ev.MessageID = messageID
	ev.ToolCall = &call
	return ev
}

// NewToolResultEvent reports the result of an executed tool call.
func NewToolResultEvent(messageID string, result ToolResult) StreamEvent {
	ev := newEvent(EventToolResult)
	ev.MessageID = messageID
	ev.ToolResult = &result
	return ev
}

// NewStepFinishEvent closes a round.
func NewStepFinishEvent() StreamEvent {
	return newEvent(EventStepFinish)
}

// NewStreamEndEvent closes the logical request.
func NewStreamEndEvent(reason FinishReason, usage Usage) StreamEvent {
	ev := newEvent(EventStreamEnd)
	ev.FinishReason = reason
	ev.Usage = &usage
	return ev
}
