package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/observability"
	"github.com/rhuss/chatrelay/pkg/provider"
)

// IdlePolicy controls how the reader paces itself over runs of blank lines.
// After SkipThreshold consecutive blank lines it waits Delay before reading
// on. A zero SkipThreshold disables the pause.
type IdlePolicy struct {
	SkipThreshold int
	Delay         time.Duration
}

// DefaultIdlePolicy pauses 100ms after 10 consecutive blank lines.
var DefaultIdlePolicy = IdlePolicy{SkipThreshold: 10, Delay: 100 * time.Millisecond}

// ReadRound reads one streamed round from body and hands each event to
// yield as soon as it is produced. Reading stops at the [DONE] sentinel, at
// end of stream, or as soon as the accumulator is done: the finish reason
// has arrived, followed by the trailing usage chunk when one is expected.
// The round is then finished. When yield returns false the returned Round
// has Stopped set and no further events are produced.
//
// A malformed line aborts the round with a *api.DecodeError, unless the
// finish reason was already seen; then the round ends as received.
func ReadRound(ctx context.Context, body io.Reader, acc *Accumulator, idle IdlePolicy, yield func(api.StreamEvent) bool) (*provider.Round, error) {
	lines := NewLineReader(body)
	skips := 0

	emit := func(events []api.StreamEvent) bool {
		for _, ev := range events {
			if !yield(ev) {
				return false
			}
		}
		return true
	}

read:
	for {
		line, err := lines.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, MapNetworkError(acc.providerName, fmt.Errorf("reading stream: %w", err))
		}

		frame := ParseFrame(line)
		switch frame.Kind {
		case FrameSkip:
			skips++
			if idle.SkipThreshold > 0 && skips >= idle.SkipThreshold {
				skips = 0
				debug.Log("streaming", "idle stream, pausing", "delay", idle.Delay)
				if err := sleepContext(ctx, idle.Delay); err != nil {
					return nil, err
				}
			}

		case FrameEnd:
			break read

		case FrameFail:
			observability.StreamDecodeErrorsTotal.WithLabelValues(acc.providerName).Inc()
			if acc.Finished() {
				slog.Warn("ignoring malformed line after finish reason",
					"provider", acc.providerName,
					"error", frame.Err,
				)
				break read
			}
			return nil, frame.Err

		case FramePayload:
			skips = 0
			if debug.TraceIsEnabled("streaming") {
				debug.Trace("streaming", "chunk", "line", debug.Truncate(line, 500))
			}
			events, err := acc.Apply(frame.Chunk)
			if !emit(events) {
				return &provider.Round{Stopped: true}, nil
			}
			if err != nil {
				return nil, err
			}
			if acc.Done() {
				break read
			}
		}
	}

	round, events := acc.Finish()
	if !emit(events) {
		round.Stopped = true
	}
	return round, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
