package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rhuss/chatrelay/pkg/provider/openaicompat"
)

func (s *server) stream(w http.ResponseWriter, r *http.Request, req *openaicompat.ChatCompletionRequest, rep reply) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	delay := s.delay
	if req.Model == "lorem-slow" {
		delay = max(delay, 200*time.Millisecond)
	}

	cw := &chunkWriter{w: w, flusher: flusher, id: "chatcmpl-mock-" + rep.kind, model: req.Model}
	send := func(delta openaicompat.ChatChunkDelta, finish *string) bool {
		if r.Context().Err() != nil {
			return false
		}
		cw.choice(delta, finish)
		if delay > 0 {
			time.Sleep(delay)
		}
		return true
	}

	if !send(openaicompat.ChatChunkDelta{Role: "assistant"}, nil) {
		return
	}

	for _, tok := range tokenize(rep.text) {
		if !send(openaicompat.ChatChunkDelta{Content: &tok}, nil) {
			return
		}
	}

	if rep.malformed {
		fmt.Fprint(w, "data: {\"choices\": [\n\n")
		flusher.Flush()
		return
	}

	for i, call := range rep.calls {
		// Name first, then the arguments in two fragments.
		head := openaicompat.ChatChunkToolCall{
			Index:    i,
			ID:       call.ID,
			Type:     "function",
			Function: openaicompat.ChatChunkFunctionCall{Name: call.Function.Name},
		}
		if !send(openaicompat.ChatChunkDelta{ToolCalls: []openaicompat.ChatChunkToolCall{head}}, nil) {
			return
		}
		args := call.Function.Arguments
		half := len(args) / 2
		for _, frag := range []string{args[:half], args[half:]} {
			if frag == "" {
				continue
			}
			part := openaicompat.ChatChunkToolCall{
				Index:    i,
				Function: openaicompat.ChatChunkFunctionCall{Arguments: frag},
			}
			if !send(openaicompat.ChatChunkDelta{ToolCalls: []openaicompat.ChatChunkToolCall{part}}, nil) {
				return
			}
		}
	}

	reason := rep.finishReason()
	send(openaicompat.ChatChunkDelta{}, &reason)

	if req.StreamOptions != nil && req.StreamOptions.IncludeUsage {
		cw.usage(rep.usage(req))
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

type chunkWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	id      string
	model   string
}

func (c *chunkWriter) choice(delta openaicompat.ChatChunkDelta, finish *string) {
	c.write(openaicompat.ChatCompletionChunk{
		Choices: []openaicompat.ChatChunkChoice{{Delta: delta, FinishReason: finish}},
	})
}

// usage writes the trailing usage-only chunk requested by
// stream_options.include_usage.
func (c *chunkWriter) usage(u *openaicompat.ChatUsage) {
	c.write(openaicompat.ChatCompletionChunk{
		Choices: []openaicompat.ChatChunkChoice{},
		Usage:   u,
	})
}

func (c *chunkWriter) write(chunk openaicompat.ChatCompletionChunk) {
	chunk.ID = c.id
	chunk.Object = "chat.completion.chunk"
	chunk.Model = c.model
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(c.w, "data: %s\n\n", data)
	c.flusher.Flush()
}
