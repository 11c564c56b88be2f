// Package tally records the contribution totals of terminated chats.
package tally

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidInput is returned for a missing chat id or a negative total.
	ErrInvalidInput = errors.New("tally: invalid input")
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Tally is the persisted outcome of one chat termination.
type Tally struct {
	ID           string
	ChatID       string
	Total        int64
	TerminatedAt time.Time
}

// Store persists and queries termination tallies.
//
// Requirements:
//   - Every Record call appends; a chat may be terminated many times
//     (it can be re-created by later joins).
//   - ListByChat is ordered newest first.
type Store interface {
	Record(ctx context.Context, in RecordInput) (Tally, error)
	ListByChat(ctx context.Context, in ListInput) (ListResult, error)
	Close() error
}

// RecordInput describes one termination to persist.
type RecordInput struct {
	ChatID string
	Total  int64
	Now    time.Time
}

// ListInput describes a history query.
type ListInput struct {
	ChatID string
	Limit  int
}

// ListResult contains the newest-first window of tallies.
type ListResult struct {
	Tallies []Tally
	HasMore bool
}

func (in RecordInput) validate() error {
	if in.ChatID == "" || in.Total < 0 {
		return ErrInvalidInput
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
