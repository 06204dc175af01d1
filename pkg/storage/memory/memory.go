// Package memory provides an in-memory storage.ResponseStore for tests and
// single-process use. Responses are lost when the process exits. Optional
// LRU eviction bounds memory usage.
package memory

import (
	"cmp"
	"container/list"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/storage"
)

type entry struct {
	resp      *api.Response
	deletedAt *time.Time
	lruElem   *list.Element
}

// Store is an in-memory ResponseStore with optional LRU eviction.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	lruList *list.List // front = most recently used
	maxSize int        // 0 = unlimited
}

var _ storage.ResponseStore = (*Store)(nil)

// New creates an in-memory store. If maxSize is 0 the store grows without
// limit; otherwise the least recently used entry is evicted at capacity.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveResponse stores a response.
func (s *Store) SaveResponse(_ context.Context, resp *api.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[resp.ID]; exists {
		return storage.ErrConflict
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(resp.ID)
	s.entries[resp.ID] = &entry{resp: resp, lruElem: elem}
	return nil
}

// GetResponse returns a response and marks it recently used.
func (s *Store) GetResponse(_ context.Context, id string) (*api.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.deletedAt != nil {
		return nil, storage.ErrNotFound
	}
	s.lruList.MoveToFront(e.lruElem)
	return e.resp, nil
}

// DeleteResponse soft-deletes a response.
func (s *Store) DeleteResponse(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.deletedAt != nil {
		return storage.ErrNotFound
	}

	now := time.Now()
	e.deletedAt = &now
	return nil
}

// ListResponses returns a page of live responses.
func (s *Store) ListResponses(_ context.Context, opts storage.ListOptions) (*storage.ResponseList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*api.Response
	for _, e := range s.entries {
		if e.deletedAt != nil {
			continue
		}
		if opts.Model != "" && e.resp.Model != opts.Model {
			continue
		}
		matches = append(matches, e.resp)
	}

	slices.SortFunc(matches, func(a, b *api.Response) int {
		c := cmp.Or(cmp.Compare(a.CreatedAt, b.CreatedAt), cmp.Compare(a.ID, b.ID))
		if opts.Ascending() {
			return c
		}
		return -c
	})

	switch {
	case opts.After != "":
		idx := slices.IndexFunc(matches, func(r *api.Response) bool { return r.ID == opts.After })
		if idx >= 0 {
			matches = matches[idx+1:]
		} else {
			matches = nil
		}
	case opts.Before != "":
		idx := slices.IndexFunc(matches, func(r *api.Response) bool { return r.ID == opts.Before })
		if idx > 0 {
			limit := opts.EffectiveLimit()
			start := max(0, idx-limit)
			page := storage.NewResponseList(matches[start:idx], limit)
			page.HasMore = start > 0
			return page, nil
		}
		matches = nil
	}

	limit := opts.EffectiveLimit()
	if len(matches) > limit+1 {
		matches = matches[:limit+1]
	}
	return storage.NewResponseList(matches, limit), nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored entries, including soft-deleted ones.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictOldest removes the least recently used entry. Must be called with
// s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}

	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
	debug.Log("storage", "evicted response", "id", id)
}
