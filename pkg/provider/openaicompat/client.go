package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/observability"
	"github.com/rhuss/chatrelay/pkg/provider"
)

const (
	// DefaultName is the provider identifier used when Config.Name is empty.
	DefaultName = "openai-compatible"

	chatCompletionsPath = "/v1/chat/completions"
	modelsPath          = "/v1/models"

	defaultTimeout    = 30 * time.Second
	minStreamTimeout  = 300 * time.Second
	defaultRetryDelay = time.Second
	userAgent         = "chatrelay"
)

// Config holds the client settings.
type Config struct {
	// BaseURL is the backend root, without the /v1 suffix.
	BaseURL string
	APIKey  string
	Name    string

	// Timeout bounds single-shot calls. Default 30s.
	Timeout time.Duration

	// StreamTimeout bounds a whole streamed round. Default is ten times
	// Timeout, at least 300s.
	StreamTimeout time.Duration

	// MaxRetries is the number of extra attempts for establishing a call
	// after a network error or 5xx response. 429 is never retried.
	MaxRetries int
	RetryDelay time.Duration

	// DisableStreamUsage omits stream_options.include_usage.
	DisableStreamUsage bool

	// StrictFinishReasons fails rounds with an unknown finish reason instead
	// of treating them as stop.
	StrictFinishReasons bool

	// Idle controls pacing over blank stream lines. Zero value selects
	// DefaultIdlePolicy.
	Idle IdlePolicy

	// Headers are added to every request.
	Headers map[string]string

	// Transport is the base round tripper. It is wrapped with metrics.
	Transport http.RoundTripper
}

// Client talks to an OpenAI-compatible Chat Completions backend and
// implements provider.Provider.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
	apiKey       string
	name         string
	maxRetries   int
	retryDelay   time.Duration
	includeUsage bool
	strict       bool
	idle         IdlePolicy
	headers      map[string]string
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates a Client. Streaming calls use a separate HTTP client
// with the longer StreamTimeout.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	streamTimeout := cfg.StreamTimeout
	if streamTimeout <= 0 {
		streamTimeout = max(timeout*10, minStreamTimeout)
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	idle := cfg.Idle
	if idle == (IdlePolicy{}) {
		idle = DefaultIdlePolicy
	}
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}

	transport := observability.InstrumentTransport(cfg.Transport)

	return &Client{
		httpClient:   &http.Client{Timeout: timeout, Transport: transport},
		streamClient: &http.Client{Timeout: streamTimeout, Transport: transport},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		name:         name,
		maxRetries:   max(cfg.MaxRetries, 0),
		retryDelay:   retryDelay,
		includeUsage: !cfg.DisableStreamUsage,
		strict:       cfg.StrictFinishReasons,
		idle:         idle,
		headers:      cfg.Headers,
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return c.name }

// StreamTimeout returns the timeout applied to streamed rounds.
func (c *Client) StreamTimeout() time.Duration { return c.streamClient.Timeout }

// Complete performs one non-streaming round.
func (c *Client) Complete(ctx context.Context, conv *api.Conversation) (*provider.Completion, error) {
	req, err := BuildRequest(conv, false, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.post(ctx, c.httpClient, req)
	if err != nil {
		c.recordRequest(conv.Model, "complete", err)
		return nil, err
	}
	defer resp.Body.Close()

	var chatResp ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		c.recordRequest(conv.Model, "complete", err)
		return nil, fmt.Errorf("decoding chat completion response: %w", err)
	}

	completion, err := ParseCompletion(&chatResp, c.strict)
	c.recordRequest(conv.Model, "complete", err)
	observability.ProviderLatency.WithLabelValues(c.name, conv.Model, "complete").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	observability.RecordUsage(c.name, conv.Model, completion.Usage)

	debug.Log("providers", "completion received",
		"id", completion.Meta.ID,
		"finish_reason", completion.FinishReason,
		"tool_calls", len(completion.ToolCalls),
	)
	return completion, nil
}

// StreamRound performs one streaming round. The response body is closed
// before StreamRound returns.
func (c *Client) StreamRound(ctx context.Context, conv *api.Conversation, state *provider.RequestState, yield func(api.StreamEvent) bool) (*provider.Round, error) {
	req, err := BuildRequest(conv, true, c.includeUsage)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.post(ctx, c.streamClient, req)
	if err != nil {
		c.recordRequest(conv.Model, "stream", err)
		return nil, err
	}
	defer resp.Body.Close()

	observability.ActiveStreams.Inc()
	defer observability.ActiveStreams.Dec()

	acc := NewAccumulator(state, conv.Model, c.name, c.strict)
	acc.ExpectTrailingUsage(c.includeUsage)
	round, err := ReadRound(ctx, resp.Body, acc, c.idle, yield)

	c.recordRequest(conv.Model, "stream", err)
	observability.ProviderLatency.WithLabelValues(c.name, conv.Model, "stream").Observe(time.Since(start).Seconds())
	observability.StreamRoundsTotal.WithLabelValues(c.name, roundOutcome(round, err)).Inc()
	if err != nil {
		return nil, err
	}
	observability.RecordUsage(c.name, conv.Model, round.Usage)
	return round, nil
}

// ListModels queries /v1/models.
func (c *Client) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+modelsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("creating models request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, MapHTTPError(c.name, resp)
	}

	var modelsResp ChatModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, fmt.Errorf("decoding models response: %w", err)
	}

	models := make([]provider.ModelInfo, 0, len(modelsResp.Data))
	for _, m := range modelsResp.Data {
		models = append(models, provider.ModelInfo{
			ID:      m.ID,
			Object:  m.Object,
			OwnedBy: m.OwnedBy,
			Created: m.Created,
		})
	}
	return models, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	c.streamClient.CloseIdleConnections()
	return nil
}

// post sends a chat completion request and returns the successful response.
// Network errors and 5xx responses are retried up to maxRetries times before
// any body has been read. The caller owns the returned body.
func (c *Client) post(ctx context.Context, client *http.Client, req *ChatCompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding chat completion request: %w", err)
	}

	url := c.baseURL + chatCompletionsPath
	debug.Log("providers", "chat completion request",
		"url", url,
		"model", req.Model,
		"stream", req.Stream,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)
	debug.Raw("providers", string(body))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying chat completion request",
				"provider", c.name,
				"attempt", attempt,
				"error", lastErr,
			)
			if err := sleepContext(ctx, c.retryDelay); err != nil {
				return nil, err
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating chat completion request: %w", err)
		}
		c.setHeaders(httpReq)
		httpReq.Header.Set("Content-Type", "application/json")
		if req.Stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		} else {
			httpReq.Header.Set("Accept", "application/json")
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = MapNetworkError(c.name, err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			pe := MapHTTPError(c.name, resp)
			resp.Body.Close()
			if !pe.Retryable() {
				return nil, pe
			}
			lastErr = pe
			continue
		}

		return resp, nil
	}
	return nil, lastErr
}

func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		r.Header.Set(k, v)
	}
}

func (c *Client) recordRequest(model, mode string, err error) {
	status := "ok"
	switch {
	case err == nil:
	case isRateLimited(err):
		status = "rate_limited"
	default:
		status = "error"
	}
	observability.ProviderRequestsTotal.WithLabelValues(c.name, model, mode, status).Inc()
}

func isRateLimited(err error) bool {
	_, ok := api.RetryAfter(err)
	return ok
}

func roundOutcome(r *provider.Round, err error) string {
	switch {
	case err != nil:
		return "error"
	case r.Stopped:
		return "stopped"
	case r.Empty:
		return "empty"
	case r.Handoff:
		return "handoff"
	default:
		return "end"
	}
}
