package openaicompat

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rhuss/chatrelay/pkg/api"
)

// FrameKind classifies a parsed stream line.
type FrameKind int

const (
	// FrameSkip is a blank line.
	FrameSkip FrameKind = iota
	// FrameEnd is the [DONE] sentinel.
	FrameEnd
	// FramePayload is a decoded JSON chunk.
	FramePayload
	// FrameFail is a non-empty line that is not valid JSON.
	FrameFail
)

func (k FrameKind) String() string {
	switch k {
	case FrameSkip:
		return "skip"
	case FrameEnd:
		return "end"
	case FramePayload:
		return "payload"
	case FrameFail:
		return "fail"
	default:
		return "unknown"
	}
}

const (
	dataField    = "data:"
	doneSentinel = "[DONE]"
)

// Frame is the result of parsing one stream line.
type Frame struct {
	Kind  FrameKind
	Chunk *ChatCompletionChunk
	Err   error
}

var errNotObject = errors.New("payload is not a JSON object")

// ParseFrame parses one SSE line. Blank lines are skipped and the [DONE]
// sentinel ends the stream, with or without the "data:" field prefix. Anything
// else must decode as a JSON object, otherwise the frame carries a
// *api.DecodeError.
func ParseFrame(line string) Frame {
	payload := strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(payload, dataField); ok {
		payload = strings.TrimSpace(rest)
	}

	switch payload {
	case "":
		return Frame{Kind: FrameSkip}
	case doneSentinel:
		return Frame{Kind: FrameEnd}
	}

	if payload[0] != '{' {
		return Frame{Kind: FrameFail, Err: &api.DecodeError{Line: line, Err: errNotObject}}
	}

	var chunk ChatCompletionChunk
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	if err := dec.Decode(&chunk); err != nil {
		return Frame{Kind: FrameFail, Err: &api.DecodeError{Line: line, Err: err}}
	}
	if dec.More() {
		return Frame{Kind: FrameFail, Err: &api.DecodeError{Line: line, Err: errors.New("trailing data after JSON object")}}
	}
	return Frame{Kind: FramePayload, Chunk: &chunk}
}
