package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Thejas-AM/consuma-api/internal/core/domain"
	"github.com/Thejas-AM/consuma-api/internal/core/ports"
)

// Store is an in-memory implementation of ports.RequestStore.
type Store struct {
	mu       sync.RWMutex
	requests map[string]*domain.Request
	order    []string // insertion order, oldest first
	now      func() time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		requests: make(map[string]*domain.Request),
		now:      time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Create(ctx context.Context, id string, mode domain.Mode, input json.RawMessage, callbackURL string) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[id]; exists {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrAlreadyExists)
	}

	req := &domain.Request{
		ID:        id,
		Mode:      mode,
		Input:     cloneRaw(input),
		Status:    domain.StatusPending,
		CreatedAt: s.now().UTC(),
	}
	if callbackURL != "" {
		req.CallbackURL = &callbackURL
		req.Callback.Status = domain.CallbackPending
	}

	s.requests[id] = req
	s.order = append(s.order, id)
	return clone(req), nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[id]
	if !exists {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	return clone(req), nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.Status, output json.RawMessage, errMsg string) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.requests[id]
	if !exists {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	if !domain.CanTransition(req.Status, status) {
		return nil, fmt.Errorf("request %s %s -> %s: %w", id, req.Status, status, domain.ErrInvalidTransition)
	}

	req.Status = status
	if len(output) > 0 {
		req.Output = cloneRaw(output)
	}
	if errMsg != "" {
		req.Error = &errMsg
	}
	if status.IsTerminal() {
		now := s.now().UTC()
		req.CompletedAt = &now
	}
	return clone(req), nil
}

func (s *Store) UpdateCallbackStatus(ctx context.Context, id string, u domain.CallbackUpdate) (*domain.Request, error) {
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("request %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.requests[id]
	if !exists {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	if !req.HasCallback() {
		return nil, fmt.Errorf("request %s has no callback target: %w", id, domain.ErrInvalidTransition)
	}
	if req.Callback.Status.IsTerminal() {
		return nil, fmt.Errorf("request %s callback already %s: %w", id, req.Callback.Status, domain.ErrInvalidTransition)
	}
	if u.Attempts < req.Callback.Attempts {
		return nil, fmt.Errorf("request %s callback attempts %d below recorded %d: %w",
			id, u.Attempts, req.Callback.Attempts, domain.ErrInvalidTransition)
	}

	req.Callback = domain.CallbackState{
		Status:    u.Status,
		Attempts:  u.Attempts,
		LastError: u.LastError,
		SentAt:    u.SentAt,
	}
	if u.SentAt != nil {
		t := u.SentAt.UTC()
		req.Callback.SentAt = &t
	}
	return clone(req), nil
}

func (s *Store) List(ctx context.Context, opts ports.ListOptions) ([]domain.RequestSummary, int, error) {
	opts = opts.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first. Creation order breaks timestamp ties.
	matched := make([]*domain.Request, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		req := s.requests[s.order[i]]
		if opts.Mode != "" && req.Mode != opts.Mode {
			continue
		}
		matched = append(matched, req)
	}
	slices.SortStableFunc(matched, func(a, b *domain.Request) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(matched)
	if opts.Offset >= total {
		return []domain.RequestSummary{}, total, nil
	}
	end := opts.Offset + opts.Limit
	if end > total {
		end = total
	}

	out := make([]domain.RequestSummary, 0, end-opts.Offset)
	for _, req := range matched[opts.Offset:end] {
		out = append(out, req.Summary())
	}
	return out, total, nil
}

func (s *Store) Close() error {
	return nil
}

func clone(r *domain.Request) *domain.Request {
	c := *r
	c.Input = cloneRaw(r.Input)
	c.Output = cloneRaw(r.Output)
	c.Error = clonePtr(r.Error)
	c.CallbackURL = clonePtr(r.CallbackURL)
	c.CompletedAt = clonePtr(r.CompletedAt)
	c.Callback.LastError = clonePtr(r.Callback.LastError)
	c.Callback.SentAt = clonePtr(r.Callback.SentAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
