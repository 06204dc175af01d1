package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/chatrelay/pkg/observability"
	"github.com/rhuss/chatrelay/pkg/provider/openaicompat"
)

const defaultModel = "mock-model"

var mockModels = []string{defaultModel, "lorem-fast", "lorem-slow"}

type server struct {
	lorem *loremgen.Lorem
	delay time.Duration
}

func newServer(delay time.Duration) *server {
	return &server{lorem: loremgen.New(), delay: delay}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return observability.MetricsMiddleware(mux)
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openaicompat.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}
	if req.Model == "" {
		req.Model = defaultModel
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	rep := s.plan(&req)
	if rep.status != 0 {
		if rep.retryAfter != "" {
			w.Header().Set("Retry-After", rep.retryAfter)
		}
		writeError(w, rep.status, rep.errType, rep.text)
		return
	}

	if req.Stream {
		s.stream(w, r, &req, rep)
		return
	}

	resp := openaicompat.ChatCompletionResponse{
		ID:     "chatcmpl-mock-" + rep.kind,
		Object: "chat.completion",
		Model:  req.Model,
		Choices: []openaicompat.ChatChoice{{
			Message: openaicompat.ChatResponseMessage{
				Role:      "assistant",
				ToolCalls: rep.calls,
			},
			FinishReason: rep.finishReason(),
		}},
		Usage: rep.usage(&req),
	}
	if len(rep.calls) == 0 {
		text := rep.text
		resp.Choices[0].Message.Content = &text
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func handleModels(w http.ResponseWriter, r *http.Request) {
	resp := openaicompat.ChatModelsResponse{Object: "list"}
	for _, id := range mockModels {
		resp.Data = append(resp.Data, openaicompat.ChatModel{
			ID:      id,
			Object:  "model",
			OwnedBy: "chatrelay-mock",
			Created: 1700000000,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, errType, msg string) {
	var body openaicompat.ChatErrorResponse
	body.Error.Message = msg
	body.Error.Type = errType
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// promptTokens approximates prompt size as the word count of all messages.
func promptTokens(req *openaicompat.ChatCompletionRequest) int {
	n := 0
	for _, m := range req.Messages {
		if m.Content != nil {
			n += len(strings.Fields(*m.Content))
		}
	}
	return max(n, 1)
}

func (rep reply) usage(req *openaicompat.ChatCompletionRequest) *openaicompat.ChatUsage {
	completion := len(tokenize(rep.text))
	for _, c := range rep.calls {
		completion += 1 + len(strings.Fields(c.Function.Arguments))
	}
	prompt := promptTokens(req)
	return &openaicompat.ChatUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func (rep reply) finishReason() string {
	if len(rep.calls) > 0 {
		return "tool_calls"
	}
	return "stop"
}

// tokenize splits text into word tokens that keep their trailing space.
func tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return strings.SplitAfter(text, " ")
}

func callID(kind string, i int) string {
	return fmt.Sprintf("call_mock_%s_%d", kind, i)
}
