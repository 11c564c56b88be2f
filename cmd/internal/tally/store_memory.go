package tally

import (
	"context"
	"sync"
	"time"

	"chattrack/cmd/internal/ids"
)

const (
	memMaxTalliesPerChat = 1_000
)

// InMemoryStore is a dev-only fallback when DB is not configured.
type InMemoryStore struct {
	mu    sync.Mutex
	chats map[string][]Tally // ordered oldest first
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		chats: make(map[string][]Tally),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Record appends a tally for in.ChatID.
func (s *InMemoryStore) Record(ctx context.Context, in RecordInput) (Tally, error) {
	if err := in.validate(); err != nil {
		return Tally{}, err
	}
	if err := ctx.Err(); err != nil {
		return Tally{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Tally{}, err
	}

	t := Tally{
		ID:           id,
		ChatID:       in.ChatID,
		Total:        in.Total,
		TerminatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.chats[in.ChatID], t)
	// Bound memory to avoid unbounded growth in dev.
	if len(list) > memMaxTalliesPerChat {
		list = list[len(list)-memMaxTalliesPerChat:]
	}
	s.chats[in.ChatID] = list

	return t, nil
}

// ListByChat returns tallies for a chat, newest first.
func (s *InMemoryStore) ListByChat(ctx context.Context, in ListInput) (ListResult, error) {
	if in.ChatID == "" {
		return ListResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return ListResult{}, err
	}

	limit := clampLimit(in.Limit)

	s.mu.Lock()
	list := s.chats[in.ChatID]
	out := make([]Tally, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	hasMore := len(list) > limit
	s.mu.Unlock()

	return ListResult{Tallies: out, HasMore: hasMore}, nil
}
