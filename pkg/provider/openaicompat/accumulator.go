package openaicompat

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/provider"
)

// StepState is the per-round record of the stream state machine.
type StepState struct {
	StepStarted      bool
	TextStarted      bool
	PromptTokens     int
	CompletionTokens int
}

// ToolCallFragment accumulates one tool call across chunks sharing an index.
type ToolCallFragment struct {
	ID        string
	Name      string
	Arguments strings.Builder
}

func (f *ToolCallFragment) merge(tc ChatChunkToolCall) {
	if tc.ID != "" {
		f.ID = tc.ID
	}
	if tc.Function.Name != "" {
		f.Name = tc.Function.Name
	}
	f.Arguments.WriteString(tc.Function.Arguments)
}

// Accumulator consumes the decoded chunks of one round and produces stream
// events. It holds the round's StepState and fragment table, and shares the
// RequestState of the logical request. An Accumulator serves exactly one
// round.
type Accumulator struct {
	req          *provider.RequestState
	model        string
	providerName string
	strict       bool

	step        StepState
	sawUsage    bool
	fragments   map[int]*ToolCallFragment
	text        strings.Builder
	payloads    int
	finished    bool
	finish      api.FinishReason
	meta        api.StepMeta
	textClosed  bool
	expectUsage bool
	usageClosed bool
}

// NewAccumulator creates the accumulator for one round. model is reported in
// stream_start when the chunk does not name one. With strict set, unknown
// finish reasons fail the round instead of mapping to Stop.
func NewAccumulator(req *provider.RequestState, model, providerName string, strict bool) *Accumulator {
	return &Accumulator{
		req:          req,
		model:        model,
		providerName: providerName,
		strict:       strict,
		fragments:    make(map[int]*ToolCallFragment),
		meta:         api.StepMeta{Model: model},
		expectUsage:  true,
	}
}

// ExpectTrailingUsage sets whether a usage-only chunk may follow the finish
// reason, as requested with stream_options.include_usage. It defaults to
// true.
func (a *Accumulator) ExpectTrailingUsage(expect bool) {
	a.expectUsage = expect
}

// Finished reports whether a finish reason has been seen.
func (a *Accumulator) Finished() bool {
	return a.finished
}

// Done reports whether the round is complete without reading further: the
// finish reason has arrived, and so has the usage when it is expected.
func (a *Accumulator) Done() bool {
	return a.finished && (!a.expectUsage || a.usageClosed)
}

// State returns a copy of the round's StepState.
func (a *Accumulator) State() StepState {
	return a.step
}

// Fragment returns the accumulated fragment for a tool call index.
func (a *Accumulator) Fragment(index int) (*ToolCallFragment, bool) {
	f, ok := a.fragments[index]
	return f, ok
}

// Apply folds one decoded chunk into the round and returns the events it
// produces. The finish reason closes the text block right away. Once it has
// been seen, later chunks only update usage.
func (a *Accumulator) Apply(chunk *ChatCompletionChunk) ([]api.StreamEvent, error) {
	a.payloads++

	if chunk.Usage != nil {
		a.step.PromptTokens = chunk.Usage.PromptTokens
		a.step.CompletionTokens = chunk.Usage.CompletionTokens
		a.sawUsage = true
		if a.finished {
			a.usageClosed = true
		}
	}
	if a.finished {
		return nil, nil
	}

	var events []api.StreamEvent

	if !a.req.StreamStarted {
		model := chunk.Model
		if model == "" {
			model = a.model
		}
		a.req.StreamStarted = true
		if a.req.MessageID == "" {
			a.req.MessageID = api.NewMessageID()
		}
		events = append(events, api.NewStreamStartEvent(model, a.providerName))
	}
	if !a.step.StepStarted {
		a.step.StepStarted = true
		events = append(events, api.NewStepStartEvent())
	}

	if a.meta.ID == "" && chunk.ID != "" {
		a.meta.ID = chunk.ID
	}
	if chunk.Model != "" {
		a.meta.Model = chunk.Model
	}

	if len(chunk.Choices) == 0 {
		return events, nil
	}
	choice := chunk.Choices[0]

	for _, tc := range choice.Delta.ToolCalls {
		f, ok := a.fragments[tc.Index]
		if !ok {
			f = &ToolCallFragment{}
			a.fragments[tc.Index] = f
		}
		f.merge(tc)
	}

	if content := choice.Delta.Content; content != nil && *content != "" {
		if !a.step.TextStarted {
			a.step.TextStarted = true
			events = append(events, api.NewTextStartEvent(a.req.MessageID))
		}
		a.text.WriteString(*content)
		events = append(events, api.NewTextDeltaEvent(a.req.MessageID, *content))
	}

	if choice.FinishReason != nil {
		reason, err := mapFinishReason(*choice.FinishReason, a.strict)
		if err != nil {
			return events, err
		}
		a.finished = true
		a.finish = reason
		a.usageClosed = chunk.Usage != nil
		if a.step.TextStarted {
			a.textClosed = true
			events = append(events, api.NewTextCompleteEvent(a.req.MessageID))
		}
		debug.Log("streaming", "finish reason received", "finish_reason", *choice.FinishReason, "tool_calls", len(a.fragments))
	}

	return events, nil
}

// Finish closes the round at end of stream and returns its outcome together
// with the closing events. A round that never saw a payload produces no
// events. A round that ended without a finish reason is completed as Stop,
// or handed off with ToolCalls when fragments were accumulated.
func (a *Accumulator) Finish() (*provider.Round, []api.StreamEvent) {
	usage := api.Usage{PromptTokens: a.step.PromptTokens, CompletionTokens: a.step.CompletionTokens}
	round := &provider.Round{
		Text:  a.text.String(),
		Usage: usage,
		Meta:  a.meta,
	}
	if a.payloads == 0 {
		round.Empty = true
		return round, nil
	}
	if a.sawUsage {
		a.req.LastUsage = usage
	}

	calls := a.toolCalls()
	reason := a.finish
	if !a.finished {
		reason = api.FinishReasonStop
		if len(calls) > 0 {
			reason = api.FinishReasonToolCalls
		}
		slog.Warn("stream ended without finish reason",
			"provider", a.providerName,
			"text_length", a.text.Len(),
			"tool_calls", len(calls),
			"completed_as", reason,
		)
	}
	round.FinishReason = reason

	var events []api.StreamEvent
	if a.step.TextStarted && !a.textClosed {
		events = append(events, api.NewTextCompleteEvent(a.req.MessageID))
	}

	if reason == api.FinishReasonToolCalls && len(calls) > 0 {
		round.Handoff = true
		round.ToolCalls = calls
		return round, events
	}

	if len(calls) > 0 {
		slog.Warn("discarding tool calls received with a non tool_calls finish reason",
			"provider", a.providerName,
			"finish_reason", reason,
			"tool_calls", len(calls),
		)
	}
	round.Ended = true
	events = append(events,
		api.NewStepFinishEvent(),
		api.NewStreamEndEvent(reason, usage),
	)
	return round, events
}

// toolCalls finalizes the fragment table in ascending index order.
func (a *Accumulator) toolCalls() []api.ToolCall {
	if len(a.fragments) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.fragments))
	for idx := range a.fragments {
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)

	calls := make([]api.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		f := a.fragments[idx]
		calls = append(calls, api.ToolCall{
			ID:        f.ID,
			Name:      f.Name,
			Arguments: f.Arguments.String(),
		})
	}
	return calls
}

// mapFinishReason maps a wire finish reason. Unknown values become Stop with a
// warning, or an error wrapping api.ErrUnknownFinishReason when strict.
func mapFinishReason(wire string, strict bool) (api.FinishReason, error) {
	reason, known := api.ParseFinishReason(wire)
	if known {
		return reason, nil
	}
	if strict {
		return "", fmt.Errorf("%w: %q", api.ErrUnknownFinishReason, wire)
	}
	slog.Warn("unknown finish_reason, treating as stop", "finish_reason", wire)
	return reason, nil
}
