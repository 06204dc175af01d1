package provider

import (
	"context"

	"github.com/rhuss/chatrelay/pkg/api"
)

// Provider abstracts a chat completion backend. The engine drives rounds
// through it and never sees the wire protocol.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Per-request state is passed in explicitly.
type Provider interface {
	// Name returns the provider identifier reported in stream_start events.
	Name() string

	// Complete performs one non-streaming round for the conversation.
	Complete(ctx context.Context, conv *api.Conversation) (*Completion, error)

	// StreamRound performs one streaming round for the conversation. Events
	// are handed to yield as soon as they are decoded. If yield returns
	// false, reading stops, the connection is closed, and the returned
	// Round has Stopped set. The response body is closed on every return
	// path.
	StreamRound(ctx context.Context, conv *api.Conversation, state *RequestState, yield func(api.StreamEvent) bool) (*Round, error)

	// ListModels returns the models offered by the backend.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Close releases idle connections.
	Close() error
}
