package engine

import (
	"context"
	"iter"
	"log/slog"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/observability"
	"github.com/rhuss/chatrelay/pkg/provider"
)

// Text runs a logical request without streaming. Each round is one
// Complete call; tool calls are executed before the next round, and the
// loop ends when a round finishes without tool calls or the response holds
// as many steps as the bound allows.
func (e *Engine) Text(ctx context.Context, conv *api.Conversation) (*api.Response, error) {
	maxSteps, err := e.prepare(conv)
	if err != nil {
		return nil, err
	}

	resp := newResponse(conv)

	for len(resp.Steps) < maxSteps {
		c, err := e.provider.Complete(ctx, conv)
		if err != nil {
			return nil, err
		}

		conv.AddMessage(api.NewAssistantMessage(c.Text, c.ToolCalls))

		if len(c.ToolCalls) > 0 {
			results := e.executeTools(ctx, c.ToolCalls)
			conv.AddMessage(api.NewToolResultMessage(results))
			conv.ResetToolChoice()
			resp.AddStep(newStep(conv, c.Text, c.FinishReason, c.ToolCalls, results, c.Usage, c.Meta))

			debug.Log("engine", "tool round finished",
				"step", len(resp.Steps),
				"tool_calls", len(c.ToolCalls),
			)
			continue
		}

		if c.FinishReason == api.FinishReasonToolCalls {
			return nil, api.ErrMissingToolCalls
		}

		resp.AddStep(newStep(conv, c.Text, c.FinishReason, nil, nil, c.Usage, c.Meta))
		observability.ChainDepth.WithLabelValues("text").Observe(float64(len(resp.Steps)))
		e.save(ctx, resp)
		return resp, nil
	}

	observability.MaxStepsReachedTotal.WithLabelValues("text").Inc()
	observability.ChainDepth.WithLabelValues("text").Observe(float64(len(resp.Steps)))
	slog.Warn("max steps reached, returning partial response",
		"model", conv.Model,
		"max_steps", maxSteps,
	)
	e.save(ctx, resp)
	return resp, nil
}

// Stream runs a logical request as a lazy event sequence. Events are
// produced as the consumer pulls them; breaking out of the range loop
// closes the current provider connection and no further event or request
// follows. A fatal condition is yielded once as a (zero event, error) pair
// and ends the sequence.
//
// stream_start and the message ID are produced once per logical request;
// every round starts a fresh step. When the step bound is reached after a
// tool round, the request is closed with stream_end(stop) carrying the
// last reported usage.
//
// A continuation round that delivers no payload at all gets no
// step_start/step_finish pair: the request is closed with stream_end(stop)
// and the previous round's usage, so the last step pair belongs to the
// preceding tool round.
func (e *Engine) Stream(ctx context.Context, conv *api.Conversation) iter.Seq2[api.StreamEvent, error] {
	return func(yield func(api.StreamEvent, error) bool) {
		maxSteps, err := e.prepare(conv)
		if err != nil {
			yield(api.StreamEvent{}, err)
			return
		}

		var (
			state   provider.RequestState
			resp    = newResponse(conv)
			stopped bool
			rounds  int
		)

		emit := func(ev api.StreamEvent) bool {
			if stopped {
				return false
			}
			if !yield(ev, nil) {
				stopped = true
			}
			return !stopped
		}

		finish := func() {
			observability.ChainDepth.WithLabelValues("stream").Observe(float64(rounds))
			e.save(ctx, resp)
		}

		for depth := 0; depth < maxSteps; depth++ {
			rounds++
			round, err := e.provider.StreamRound(ctx, conv, &state, emit)
			if err != nil {
				if !stopped {
					yield(api.StreamEvent{}, err)
				}
				return
			}
			if round.Stopped || stopped {
				debug.Log("engine", "consumer stopped", "round", depth)
				return
			}

			if round.Empty {
				// Nothing arrived in this round. A request that already
				// started is closed with what the previous round reported.
				debug.Log("engine", "empty round", "round", depth, "stream_started", state.StreamStarted)
				if state.StreamStarted {
					emit(api.NewStreamEndEvent(api.FinishReasonStop, state.LastUsage))
				}
				finish()
				return
			}

			if !round.Handoff {
				conv.AddMessage(api.NewAssistantMessage(round.Text, nil))
				resp.AddStep(newStep(conv, round.Text, round.FinishReason, nil, nil, round.Usage, round.Meta))
				finish()
				return
			}

			results, ok := e.dispatchStreaming(ctx, conv, round, state.MessageID, emit)
			if results != nil {
				resp.AddStep(newStep(conv, round.Text, round.FinishReason, round.ToolCalls, results, round.Usage, round.Meta))
			}
			if !ok {
				return
			}
		}

		observability.MaxStepsReachedTotal.WithLabelValues("stream").Inc()
		slog.Warn("max steps reached, closing stream",
			"model", conv.Model,
			"max_steps", maxSteps,
		)
		if emit(api.NewStreamEndEvent(api.FinishReasonStop, state.LastUsage)) {
			finish()
		}
	}
}
