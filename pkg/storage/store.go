package storage

import (
	"context"
	"errors"

	"github.com/rhuss/chatrelay/pkg/api"
)

var (
	// ErrNotFound means no live response has the requested ID.
	ErrNotFound = errors.New("storage: response not found")

	// ErrConflict means a response with that ID was saved before.
	ErrConflict = errors.New("storage: duplicate response id")
)

// Pagination bounds for ListResponses.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ResponseStore persists finished Responses.
type ResponseStore interface {
	// SaveResponse stores a response. Saving an ID twice returns ErrConflict.
	SaveResponse(ctx context.Context, resp *api.Response) error

	// GetResponse returns a stored response or ErrNotFound.
	GetResponse(ctx context.Context, id string) (*api.Response, error)

	// ListResponses returns a page of responses, newest first unless
	// ListOptions.Order is "asc".
	ListResponses(ctx context.Context, opts ListOptions) (*ResponseList, error)

	// DeleteResponse soft-deletes a response. Deleted responses are no
	// longer returned by GetResponse or ListResponses.
	DeleteResponse(ctx context.Context, id string) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}

// ListOptions selects a page of stored responses.
type ListOptions struct {
	// Limit is the page size. Zero means DefaultListLimit; values above
	// MaxListLimit are clamped.
	Limit int

	// After and Before are response ID cursors. At most one should be set;
	// After wins when both are.
	After  string
	Before string

	// Model filters by model name when non-empty.
	Model string

	// Order is "asc" or "desc" (default) by creation time.
	Order string
}

// EffectiveLimit returns the page size with defaults and clamping applied.
func (o ListOptions) EffectiveLimit() int {
	switch {
	case o.Limit <= 0:
		return DefaultListLimit
	case o.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return o.Limit
	}
}

// Ascending reports whether results are ordered oldest first.
func (o ListOptions) Ascending() bool {
	return o.Order == "asc"
}

// ResponseList is one page of stored responses.
type ResponseList struct {
	Data    []*api.Response `json:"data"`
	FirstID string          `json:"first_id,omitempty"`
	LastID  string          `json:"last_id,omitempty"`
	HasMore bool            `json:"has_more"`
}

// NewResponseList builds a page from at most limit+1 responses, setting
// HasMore when the extra element is present.
func NewResponseList(matches []*api.Response, limit int) *ResponseList {
	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}
	list := &ResponseList{Data: matches, HasMore: hasMore}
	if len(matches) > 0 {
		list.FirstID = matches[0].ID
		list.LastID = matches[len(matches)-1].ID
	}
	if list.Data == nil {
		list.Data = []*api.Response{}
	}
	return list
}
