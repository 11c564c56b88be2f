// Package chat applies input policy to tracker operations and persists
// termination tallies. Transports (websocket, HTTP) call into Service.
package chat

import (
	"context"
	"io"
	"log/slog"
	"time"

	"chattrack/cmd/internal/tally"
	"chattrack/cmd/internal/tracker"
)

// Termination is the outcome of closing a chat.
type Termination struct {
	ChatID string
	Total  int
	// Found is false when the chat had no live or departed records.
	Found bool
	// Tally is the persisted record; zero when persistence failed or
	// nothing was found.
	Tally tally.Tally
}

// Departure is the outcome of a leave.
type Departure struct {
	ChatID string
	Count  int
	Found  bool
}

// Service is the single entry point for chat membership operations.
type Service struct {
	log     *slog.Logger
	tracker *tracker.Tracker
	tallies tally.Store
	now     func() time.Time
}

// Option configures the Service.
type Option func(*Service) error

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// NewService constructs a Service. A nil tally store falls back to in-memory.
func NewService(tr *tracker.Tracker, tallies tally.Store, opts ...Option) (*Service, error) {
	if tr == nil {
		return nil, ErrInvalidInput
	}
	if tallies == nil {
		tallies = tally.NewInMemoryStore()
	}
	s := &Service{
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracker: tr,
		tallies: tallies,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Join makes user a member of chat.
func (s *Service) Join(user, chatID string) error {
	user, chatID = NormalizeID(user), NormalizeID(chatID)
	if !validID(user) {
		return invalid("chat.join", "user_id")
	}
	if !validID(chatID) {
		return invalid("chat.join", "chat_id")
	}

	s.tracker.Join(user, chatID)
	s.log.Info("chat.join", "user_id", user, "chat_id", chatID)
	return nil
}

// Contribute credits one message to the user's current chat.
// The bool is false when the user is not a member of any chat.
func (s *Service) Contribute(user string) (tracker.Contribution, bool, error) {
	user = NormalizeID(user)
	if !validID(user) {
		return tracker.Contribution{}, false, invalid("chat.contribute", "user_id")
	}

	c, ok := s.tracker.Contribute(user)
	return c, ok, nil
}

// Leave moves the user's membership of chatID to the departed archive.
// An empty chatID leaves the user's current chat; a blank one is invalid.
func (s *Service) Leave(user, chatID string) (Departure, error) {
	current := chatID == ""
	user, chatID = NormalizeID(user), NormalizeID(chatID)
	if !validID(user) {
		return Departure{}, invalid("chat.leave", "user_id")
	}

	var d Departure
	if current {
		d.ChatID, d.Count, d.Found = s.tracker.LeaveCurrent(user)
	} else {
		if !validID(chatID) {
			return Departure{}, invalid("chat.leave", "chat_id")
		}
		d.ChatID = chatID
		d.Count, d.Found = s.tracker.Leave(user, chatID)
	}

	s.log.Info("chat.leave", "user_id", user, "chat_id", d.ChatID, "found", d.Found, "count", d.Count)
	return d, nil
}

// Terminate closes chatID and records its total. A chat with no records
// returns a zero total and writes no tally. The tracker state is already
// gone when a tally error is returned; the Termination still carries the
// computed total.
func (s *Service) Terminate(ctx context.Context, chatID string) (Termination, error) {
	chatID = NormalizeID(chatID)
	if !validID(chatID) {
		return Termination{}, invalid("chat.terminate", "chat_id")
	}

	total, found := s.tracker.TerminateChat(chatID)
	out := Termination{ChatID: chatID, Total: total, Found: found}
	if !found {
		s.log.Info("chat.terminate", "chat_id", chatID, "total", total, "found", false)
		return out, nil
	}

	t, err := s.tallies.Record(ctx, tally.RecordInput{
		ChatID: chatID,
		Total:  int64(total),
		Now:    s.now(),
	})
	if err != nil {
		s.log.Error("chat.terminate.tally_fail", "chat_id", chatID, "total", total, "err", err)
		return out, OpError{Op: "chat.terminate", Kind: ErrTally, Err: err}
	}
	out.Tally = t

	s.log.Info("chat.terminate", "chat_id", chatID, "total", total, "tally_id", t.ID)
	return out, nil
}

// History returns stored terminations of chatID, newest first.
func (s *Service) History(ctx context.Context, chatID string, limit int) (tally.ListResult, error) {
	chatID = NormalizeID(chatID)
	if !validID(chatID) {
		return tally.ListResult{}, invalid("chat.history", "chat_id")
	}
	return s.tallies.ListByChat(ctx, tally.ListInput{ChatID: chatID, Limit: limit})
}

// Stats returns tracker occupancy.
func (s *Service) Stats() tracker.Stats {
	return s.tracker.Stats()
}
