package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/provider"
	"github.com/rhuss/chatrelay/pkg/storage"
	"github.com/rhuss/chatrelay/pkg/tools"
)

// ErrModelRequired is returned when neither the conversation nor the
// configuration names a model.
var ErrModelRequired = errors.New("model is required")

// Engine runs logical requests. It holds no per-request state and is safe
// for concurrent use.
type Engine struct {
	provider provider.Provider
	tools    tools.Set
	store    storage.ResponseStore
	cfg      Config
}

// New creates an Engine. The provider must not be nil. The store can be nil
// for stateless operation.
func New(p provider.Provider, store storage.ResponseStore, cfg Config) (*Engine, error) {
	if p == nil {
		return nil, fmt.Errorf("engine: provider must not be nil")
	}
	return &Engine{
		provider: p,
		tools:    tools.Set(cfg.Executors),
		store:    store,
		cfg:      cfg,
	}, nil
}

// ToolDefinitions returns the definitions offered by the configured
// executors, for callers that want to advertise them to the model.
func (e *Engine) ToolDefinitions(ctx context.Context) ([]api.ToolDefinition, error) {
	return e.tools.Definitions(ctx)
}

// Store returns the configured response store, or nil.
func (e *Engine) Store() storage.ResponseStore {
	return e.store
}

// prepare applies defaults and returns the effective step bound. A bound
// that is not positive is fatal before any request is issued.
func (e *Engine) prepare(conv *api.Conversation) (int, error) {
	if conv == nil {
		return 0, fmt.Errorf("engine: conversation must not be nil")
	}
	if conv.Model == "" {
		if e.cfg.DefaultModel == "" {
			return 0, ErrModelRequired
		}
		conv.Model = e.cfg.DefaultModel
	}

	maxSteps := conv.MaxSteps
	if maxSteps == 0 {
		maxSteps = e.cfg.maxSteps()
	}
	if maxSteps <= 0 {
		return 0, fmt.Errorf("%w: max steps is %d", api.ErrMaxDepthExceeded, maxSteps)
	}
	return maxSteps, nil
}

func newResponse(conv *api.Conversation) *api.Response {
	return &api.Response{
		ID:        api.NewResponseID(),
		Model:     conv.Model,
		CreatedAt: time.Now().Unix(),
	}
}

func newStep(conv *api.Conversation, text string, reason api.FinishReason, calls []api.ToolCall, results []api.ToolResult, usage api.Usage, meta api.StepMeta) api.Step {
	if meta.Model == "" {
		meta.Model = conv.Model
	}
	return api.Step{
		Text:          text,
		FinishReason:  reason,
		ToolCalls:     calls,
		ToolResults:   results,
		Usage:         usage,
		Meta:          meta,
		Messages:      conv.Snapshot(),
		SystemPrompts: conv.SystemPrompts,
	}
}

// save persists a finished response. Store failures are logged and do not
// fail the request.
func (e *Engine) save(ctx context.Context, resp *api.Response) {
	if e.store == nil || len(resp.Steps) == 0 {
		return
	}
	// The request context may already be cancelled by a consumer that
	// stopped early; the save still gets a bounded window.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := e.store.SaveResponse(saveCtx, resp); err != nil {
		slog.Warn("failed to save response", "id", resp.ID, "error", err)
		return
	}
	debug.Log("engine", "response saved", "id", resp.ID, "steps", len(resp.Steps))
}
