package openaicompat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/provider"
)

// readEvents runs one round over sse and returns the events and outcome.
func readEvents(t *testing.T, sse string, state *provider.RequestState) ([]api.StreamEvent, *provider.Round, error) {
	t.Helper()
	if state == nil {
		state = &provider.RequestState{}
	}
	acc := NewAccumulator(state, "test-model", "test", false)
	var events []api.StreamEvent
	round, err := ReadRound(context.Background(), strings.NewReader(sse), acc, DefaultIdlePolicy, func(ev api.StreamEvent) bool {
		events = append(events, ev)
		return true
	})
	return events, round, err
}

func eventTypes(events []api.StreamEvent) []api.StreamEventType {
	types := make([]api.StreamEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func assertTypes(t *testing.T, events []api.StreamEvent, want ...api.StreamEventType) {
	t.Helper()
	if got := eventTypes(events); !slices.Equal(got, want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
}

func TestReadRoundTextStop(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"content":"Hel"}}]}
data: {"choices":[{"delta":{"content":"lo"}}]}
data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}
data: [DONE]
`
	events, round, err := readEvents(t, sse, nil)
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}

	assertTypes(t, events,
		api.EventStreamStart, api.EventStepStart, api.EventTextStart,
		api.EventTextDelta, api.EventTextDelta, api.EventTextComplete,
		api.EventStepFinish, api.EventStreamEnd,
	)
	if events[3].Delta != "Hel" || events[4].Delta != "lo" {
		t.Errorf("deltas = %q, %q", events[3].Delta, events[4].Delta)
	}

	end := events[len(events)-1]
	if end.FinishReason != api.FinishReasonStop {
		t.Errorf("finish reason = %q, want stop", end.FinishReason)
	}
	if end.Usage == nil || *end.Usage != (api.Usage{PromptTokens: 5, CompletionTokens: 2}) {
		t.Errorf("usage = %+v, want {5 2}", end.Usage)
	}
	if !round.Ended || round.Handoff || round.Text != "Hello" {
		t.Errorf("round = %+v", round)
	}
}

func TestReadRoundDeltasReproduceText(t *testing.T) {
	parts := []string{"The ", "quick ", "brown ", "fox", " ", "jumps."}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(`data: {"choices":[{"delta":{"content":"` + p + `"}}]}` + "\n\n")
	}
	b.WriteString(`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\ndata: [DONE]\n\n")

	events, round, err := readEvents(t, b.String(), nil)
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}
	var text strings.Builder
	for _, ev := range events {
		if ev.Type == api.EventTextDelta {
			text.WriteString(ev.Delta)
		}
	}
	if text.String() != strings.Join(parts, "") || round.Text != text.String() {
		t.Errorf("concatenated deltas = %q, round text = %q", text.String(), round.Text)
	}
}

func TestReadRoundNoContentSkipsTextEvents(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"role":"assistant"}}]}
data: {"choices":[{"delta":{"content":""}}]}
data: {"choices":[{"delta":{},"finish_reason":"length"}]}
data: [DONE]
`
	events, _, err := readEvents(t, sse, nil)
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}
	assertTypes(t, events, api.EventStreamStart, api.EventStepStart, api.EventStepFinish, api.EventStreamEnd)
	if events[3].FinishReason != api.FinishReasonLength {
		t.Errorf("finish reason = %q, want length", events[3].FinishReason)
	}
}

func TestReadRoundToolCallFragments(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"get_weather","arguments":""}}]}}]}
data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}
data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"get_time","arguments":"{}"}}]}}]}
data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a2","function":{"arguments":"\"Paris\"}"}}]}}]}
data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}
data: [DONE]
`
	events, round, err := readEvents(t, sse, nil)
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}

	assertTypes(t, events, api.EventStreamStart, api.EventStepStart)
	if !round.Handoff || round.Ended {
		t.Fatalf("round = %+v, want handoff", round)
	}
	want := []api.ToolCall{
		{ID: "call_a2", Name: "get_weather", Arguments: `{"city":"Paris"}`},
		{ID: "call_b", Name: "get_time", Arguments: "{}"},
	}
	if !slices.Equal(round.ToolCalls, want) {
		t.Errorf("tool calls = %+v, want %+v", round.ToolCalls, want)
	}
}

func TestReadRoundTextThenToolCalls(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"content":"Checking."}}]}
data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"lookup","arguments":"{}"}}]}}]}
data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}
data: [DONE]
`
	events, round, err := readEvents(t, sse, nil)
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}
	assertTypes(t, events, api.EventStreamStart, api.EventStepStart, api.EventTextStart, api.EventTextDelta, api.EventTextComplete)
	if !round.Handoff || round.Text != "Checking." {
		t.Errorf("round = %+v", round)
	}
}

func TestReadRoundToolCallsWithStopDoesNotHandOff(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"lookup","arguments":"{}"}}]}}]}
data: {"choices":[{"delta":{},"finish_reason":"stop"}]}
data: [DONE]
`
	var logs bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	events, round, err := readEvents(t, sse, nil)
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}
	assertTypes(t, events, api.EventStreamStart, api.EventStepStart, api.EventStepFinish, api.EventStreamEnd)
	if round.Handoff {
		t.Error("round handed off despite stop finish reason")
	}
	if !strings.Contains(logs.String(), "discarding tool calls") || !strings.Contains(logs.String(), "tool_calls=1") {
		t.Errorf("missing discard warning, logs:\n%s", logs.String())
	}
}

func TestReadRoundFallbackWithoutFinishReason(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		events, round, err := readEvents(t, `data: {"choices":[{"delta":{"content":"partial"}}]}`+"\n", nil)
		if err != nil {
			t.Fatalf("ReadRound() error: %v", err)
		}
		assertTypes(t, events,
			api.EventStreamStart, api.EventStepStart, api.EventTextStart, api.EventTextDelta,
			api.EventTextComplete, api.EventStepFinish, api.EventStreamEnd,
		)
		if events[len(events)-1].FinishReason != api.FinishReasonStop || round.Text != "partial" {
			t.Errorf("round = %+v", round)
		}
	})

	t.Run("tool fragments", func(t *testing.T) {
		sse := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"f","arguments":"{}"}}]}}]}` + "\n"
		_, round, err := readEvents(t, sse, nil)
		if err != nil {
			t.Fatalf("ReadRound() error: %v", err)
		}
		if !round.Handoff || len(round.ToolCalls) != 1 {
			t.Errorf("round = %+v, want handoff with one call", round)
		}
	})

	t.Run("done without finish", func(t *testing.T) {
		sse := `data: {"choices":[{"delta":{"content":"x"}}]}` + "\ndata: [DONE]\n"
		events, _, err := readEvents(t, sse, nil)
		if err != nil {
			t.Fatalf("ReadRound() error: %v", err)
		}
		if last := events[len(events)-1]; last.Type != api.EventStreamEnd || last.FinishReason != api.FinishReasonStop {
			t.Errorf("last event = %+v", last)
		}
	})
}

func TestReadRoundEmptyStream(t *testing.T) {
	events, round, err := readEvents(t, "\n\ndata: [DONE]\n", nil)
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %v, want none", eventTypes(events))
	}
	if !round.Empty {
		t.Error("round.Empty = false, want true")
	}
}

func TestReadRoundDoneIsNeverDecoded(t *testing.T) {
	for _, end := range []string{"data: [DONE]", "[DONE]"} {
		sse := `data: {"choices":[{"delta":{"content":"a"},"finish_reason":"stop"}]}` + "\n" + end + "\n" + "not json at all\n"
		if _, _, err := readEvents(t, sse, nil); err != nil {
			t.Errorf("%q: ReadRound() error: %v", end, err)
		}
	}
}

func TestReadRoundMalformedLineIsFatal(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"content":"a"}}]}
data: {broken
data: {"choices":[{"delta":{"content":"b"}}]}
`
	events, round, err := readEvents(t, sse, nil)
	if !errors.Is(err, api.ErrDecode) {
		t.Fatalf("error = %v, want ErrDecode", err)
	}
	if round != nil {
		t.Errorf("round = %+v, want nil", round)
	}
	for _, ev := range events {
		if ev.Type == api.EventStreamEnd || ev.Delta == "b" {
			t.Errorf("unexpected event after malformed frame: %+v", ev)
		}
	}
}

func TestReadRoundTrailingUsageChunk(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"content":"hi"}}]}
data: {"choices":[{"delta":{},"finish_reason":"stop"}]}
data: {"choices":[],"usage":{"prompt_tokens":9,"completion_tokens":1}}
data: [DONE]
`
	events, round, err := readEvents(t, sse, nil)
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}
	end := events[len(events)-1]
	if end.Usage == nil || *end.Usage != (api.Usage{PromptTokens: 9, CompletionTokens: 1}) {
		t.Errorf("stream end usage = %+v, want {9 1}", end.Usage)
	}
	if round.Usage.Total() != 10 {
		t.Errorf("round usage = %+v", round.Usage)
	}
}

func TestReadRoundUsageLastWriteWins(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"content":"a"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}
data: {"choices":[{"delta":{"content":"b"}}],"usage":{"prompt_tokens":4,"completion_tokens":2}}
data: {"choices":[{"delta":{},"finish_reason":"stop"}]}
data: [DONE]
`
	_, round, err := readEvents(t, sse, nil)
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}
	if round.Usage != (api.Usage{PromptTokens: 4, CompletionTokens: 2}) {
		t.Errorf("usage = %+v, want {4 2}", round.Usage)
	}
}

func TestReadRoundContentAfterFinishIgnored(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"content":"a"},"finish_reason":"stop"}]}
data: {"choices":[{"delta":{"content":"late"}}]}
data: [DONE]
`
	events, round, err := readEvents(t, sse, nil)
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}
	if round.Text != "a" {
		t.Errorf("text = %q, want %q", round.Text, "a")
	}
	for _, ev := range events {
		if ev.Delta == "late" {
			t.Error("delta after finish reason was emitted")
		}
	}
}

func TestReadRoundUnknownFinishReason(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"content":"a"},"finish_reason":"content_filter"}]}
data: [DONE]
`
	events, _, err := readEvents(t, sse, nil)
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}
	if last := events[len(events)-1]; last.FinishReason != api.FinishReasonStop {
		t.Errorf("finish reason = %q, want stop", last.FinishReason)
	}

	acc := NewAccumulator(&provider.RequestState{}, "m", "test", true)
	_, err = ReadRound(context.Background(), strings.NewReader(sse), acc, DefaultIdlePolicy, func(api.StreamEvent) bool { return true })
	if !errors.Is(err, api.ErrUnknownFinishReason) {
		t.Errorf("strict error = %v, want ErrUnknownFinishReason", err)
	}
}

func TestReadRoundConsumerStops(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"content":"a"}}]}
data: {"choices":[{"delta":{"content":"b"}}]}
data: {"choices":[{"delta":{"content":"c"}}]}
data: {"choices":[{"delta":{},"finish_reason":"stop"}]}
data: [DONE]
`
	acc := NewAccumulator(&provider.RequestState{}, "m", "test", false)
	var got []api.StreamEvent
	round, err := ReadRound(context.Background(), strings.NewReader(sse), acc, DefaultIdlePolicy, func(ev api.StreamEvent) bool {
		got = append(got, ev)
		return len(got) < 4
	})
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}
	if !round.Stopped {
		t.Error("round.Stopped = false")
	}
	if len(got) != 4 {
		t.Errorf("received %d events after stopping, want 4", len(got))
	}
}

func TestReadRoundRequestStateSpansRounds(t *testing.T) {
	state := &provider.RequestState{}
	first := `data: {"choices":[{"delta":{"content":"one"},"finish_reason":"stop"}]}` + "\n"
	second := `data: {"choices":[{"delta":{"content":"two"},"finish_reason":"stop"}]}` + "\n"

	ev1, _, err := readEvents(t, first, state)
	if err != nil {
		t.Fatal(err)
	}
	ev2, _, err := readEvents(t, second, state)
	if err != nil {
		t.Fatal(err)
	}

	if ev1[0].Type != api.EventStreamStart {
		t.Fatalf("first round starts with %s", ev1[0].Type)
	}
	if ev2[0].Type != api.EventStepStart {
		t.Errorf("second round starts with %s, want step_start", ev2[0].Type)
	}
	if ev1[2].MessageID == "" || ev1[2].MessageID != ev2[1].MessageID {
		t.Errorf("message IDs differ: %q vs %q", ev1[2].MessageID, ev2[1].MessageID)
	}
	if !api.ValidateMessageID(state.MessageID) {
		t.Errorf("state message ID = %q", state.MessageID)
	}
}

func TestReadRoundStreamStartCarriesModel(t *testing.T) {
	events, _, err := readEvents(t, `data: {"model":"served-model","choices":[{"delta":{},"finish_reason":"stop"}]}`+"\n", nil)
	if err != nil {
		t.Fatal(err)
	}
	if events[0].Model != "served-model" || events[0].Provider != "test" {
		t.Errorf("stream start = %+v", events[0])
	}

	events, _, err = readEvents(t, `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`+"\n", nil)
	if err != nil {
		t.Fatal(err)
	}
	if events[0].Model != "test-model" {
		t.Errorf("stream start model = %q, want request model", events[0].Model)
	}
}

func TestReadRoundIdleTolerance(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"content":"a"}}]}` + "\n" +
		strings.Repeat("\n", 25) +
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n"

	acc := NewAccumulator(&provider.RequestState{}, "m", "test", false)
	idle := IdlePolicy{SkipThreshold: 10, Delay: 5 * time.Millisecond}

	start := time.Now()
	round, err := ReadRound(context.Background(), strings.NewReader(sse), acc, idle, func(api.StreamEvent) bool { return true })
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}
	if !round.Ended {
		t.Errorf("round = %+v, want ended", round)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("elapsed %v, want at least two idle pauses", elapsed)
	}
}

func TestReadRoundIdleWaitHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	acc := NewAccumulator(&provider.RequestState{}, "m", "test", false)
	idle := IdlePolicy{SkipThreshold: 2, Delay: time.Hour}
	_, err := ReadRound(ctx, strings.NewReader("\n\n\n"), acc, idle, func(api.StreamEvent) bool { return true })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestAccumulatorState(t *testing.T) {
	acc := NewAccumulator(&provider.RequestState{}, "m", "test", false)
	content := "x"
	if _, err := acc.Apply(&ChatCompletionChunk{
		Choices: []ChatChunkChoice{{Delta: ChatChunkDelta{
			Content:   &content,
			ToolCalls: []ChatChunkToolCall{{Index: 2, ID: "call_z", Function: ChatChunkFunctionCall{Name: "z", Arguments: "{"}}},
		}}},
		Usage: &ChatUsage{PromptTokens: 7, CompletionTokens: 3},
	}); err != nil {
		t.Fatal(err)
	}

	st := acc.State()
	if !st.StepStarted || !st.TextStarted || st.PromptTokens != 7 || st.CompletionTokens != 3 {
		t.Errorf("state = %+v", st)
	}
	f, ok := acc.Fragment(2)
	if !ok || f.ID != "call_z" || f.Name != "z" || f.Arguments.String() != "{" {
		t.Errorf("fragment = %+v, %v", f, ok)
	}
	if _, ok := acc.Fragment(0); ok {
		t.Error("unexpected fragment at index 0")
	}
}

func TestReadRoundMalformedLineAfterFinish(t *testing.T) {
	sse := `data: {"choices":[{"delta":{"content":"ok"}}]}
data: {"choices":[{"delta":{},"finish_reason":"stop"}]}
data: {broken
`
	events, round, err := readEvents(t, sse, nil)
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}
	if !round.Ended || round.Text != "ok" {
		t.Errorf("round = %+v", round)
	}
	assertTypes(t, events,
		api.EventStreamStart, api.EventStepStart, api.EventTextStart, api.EventTextDelta,
		api.EventTextComplete, api.EventStepFinish, api.EventStreamEnd,
	)
}

func TestReadRoundStopsAtFinishWithoutTrailingUsage(t *testing.T) {
	// The body fails on any read past the finish frame.
	sse := `data: {"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}` + "\n"
	body := io.MultiReader(strings.NewReader(sse), iotest.ErrReader(errors.New("read past finish")))

	acc := NewAccumulator(&provider.RequestState{}, "m", "test", false)
	acc.ExpectTrailingUsage(false)

	var events []api.StreamEvent
	round, err := ReadRound(context.Background(), body, acc, DefaultIdlePolicy, func(ev api.StreamEvent) bool {
		events = append(events, ev)
		return true
	})
	if err != nil {
		t.Fatalf("ReadRound() error: %v", err)
	}
	if !round.Ended || !acc.Done() {
		t.Errorf("round = %+v, done = %v", round, acc.Done())
	}
	if events[len(events)-1].Type != api.EventStreamEnd {
		t.Errorf("last event = %s", events[len(events)-1].Type)
	}
}

func TestAccumulatorTextCompleteOnFinish(t *testing.T) {
	acc := NewAccumulator(&provider.RequestState{}, "m", "test", false)
	content := "hi"
	if _, err := acc.Apply(&ChatCompletionChunk{Choices: []ChatChunkChoice{{Delta: ChatChunkDelta{Content: &content}}}}); err != nil {
		t.Fatal(err)
	}
	stop := "stop"
	events, err := acc.Apply(&ChatCompletionChunk{Choices: []ChatChunkChoice{{FinishReason: &stop}}})
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, events, api.EventTextComplete)
	if acc.Done() {
		t.Error("Done() before the expected usage chunk")
	}

	if _, err := acc.Apply(&ChatCompletionChunk{Usage: &ChatUsage{PromptTokens: 1, CompletionTokens: 1}}); err != nil {
		t.Fatal(err)
	}
	if !acc.Done() {
		t.Error("Done() = false after the usage chunk")
	}

	_, closing := acc.Finish()
	assertTypes(t, closing, api.EventStepFinish, api.EventStreamEnd)
}
