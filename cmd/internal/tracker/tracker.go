package tracker

import (
	"io"
	"log/slog"
	"sync"
)

// Operation names reported to observers and logs.
const (
	OpJoin         = "join"
	OpContribute   = "contribute"
	OpLeave        = "leave"
	OpLeaveCurrent = "leave_current"
	OpTerminate    = "terminate"
)

// Event describes one completed tracker operation.
type Event struct {
	Op    string
	User  string
	Chat  string
	Found bool
	// Count is the resulting membership count, or the chat total for terminate.
	Count int

	Live     int
	Departed int
}

// Observer receives an Event after every operation. It is called while the
// tracker lock is held, in operation order, so it must be fast and must not
// call back into the tracker.
type Observer interface {
	Observe(Event)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger used for debug-level operation traces.
func WithLogger(log *slog.Logger) Option {
	return func(t *Tracker) {
		if log != nil {
			t.log = log
		}
	}
}

// WithObserver registers an operation observer (metrics, audit).
func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		t.obs = o
	}
}

// Tracker owns the live membership index and the departed archive.
//
// Concurrency guarantees:
//   - One mutex guards both structures, so a record is never visible as
//     live and departed at the same time.
//   - Operations are linearizable in lock acquisition order.
type Tracker struct {
	log *slog.Logger
	obs Observer

	mu       sync.Mutex
	live     *index
	departed archive
}

// New constructs a Tracker whose index has a fixed number of buckets.
func New(buckets int, opts ...Option) (*Tracker, error) {
	if buckets <= 0 {
		return nil, ErrInvalidBuckets
	}
	t := &Tracker{
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		live: newIndex(buckets),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Join makes user a member of chat. Re-joining a chat the user is already
// a live member of keeps the existing count. Departed records are not
// consulted: a rejoin after Leave starts again from zero.
func (t *Tracker) Join(user, chat string) {
	t.mu.Lock()
	prev, _ := t.live.take(user, chat)
	t.live.insert(Record{User: user, Chat: chat, Count: prev.Count})
	ev := t.eventLocked(OpJoin, user, chat, true, prev.Count)
	t.observeLocked(ev)
	t.mu.Unlock()

	t.trace(ev)
}

// Contribute credits one contribution to the user's current chat, which is
// the most recently joined live membership. It reports false if the user
// has no live membership.
func (t *Tracker) Contribute(user string) (Contribution, bool) {
	t.mu.Lock()
	r, ok := t.live.bump(user)
	ev := t.eventLocked(OpContribute, user, r.Chat, ok, r.Count)
	t.observeLocked(ev)
	t.mu.Unlock()

	t.trace(ev)
	if !ok {
		return Contribution{}, false
	}
	return Contribution{Chat: r.Chat, Count: r.Count}, true
}

// Leave moves the (user, chat) membership to the departed archive and
// returns its final count. It reports false if no such live membership exists.
func (t *Tracker) Leave(user, chat string) (int, bool) {
	t.mu.Lock()
	r, ok := t.live.take(user, chat)
	if ok {
		t.departed.append(r)
	}
	ev := t.eventLocked(OpLeave, user, chat, ok, r.Count)
	t.observeLocked(ev)
	t.mu.Unlock()

	t.trace(ev)
	return r.Count, ok
}

// LeaveCurrent is Leave for the user's current chat, whichever it is.
func (t *Tracker) LeaveCurrent(user string) (string, int, bool) {
	t.mu.Lock()
	r, ok := t.live.takeFirst(user)
	if ok {
		t.departed.append(r)
	}
	ev := t.eventLocked(OpLeaveCurrent, user, r.Chat, ok, r.Count)
	t.observeLocked(ev)
	t.mu.Unlock()

	t.trace(ev)
	return r.Chat, r.Count, ok
}

// Terminate removes every live and departed record of chat and returns
// the sum of their counts. A second call for the same chat returns 0.
func (t *Tracker) Terminate(chat string) int {
	total, _ := t.TerminateChat(chat)
	return total
}

// TerminateChat is Terminate that also reports whether any record of chat
// existed.
func (t *Tracker) TerminateChat(chat string) (int, bool) {
	t.mu.Lock()
	before := t.live.size + t.departed.len()
	total := t.live.removeChat(chat)
	total += t.departed.removeChat(chat)
	removed := before - t.live.size - t.departed.len()
	ev := t.eventLocked(OpTerminate, "", chat, removed > 0, total)
	t.observeLocked(ev)
	t.mu.Unlock()

	t.trace(ev)
	return total, removed > 0
}

// Stats returns current occupancy.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Buckets:  len(t.live.buckets),
		Live:     t.live.size,
		Departed: t.departed.len(),
	}
}

// Snapshot returns a copy of every live record, in bucket order.
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live.records()
}

// Departed returns a copy of the departed archive in departure order.
func (t *Tracker) Departed() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.departed.records()
}

func (t *Tracker) eventLocked(op, user, chat string, found bool, count int) Event {
	return Event{
		Op:       op,
		User:     user,
		Chat:     chat,
		Found:    found,
		Count:    count,
		Live:     t.live.size,
		Departed: t.departed.len(),
	}
}

func (t *Tracker) observeLocked(ev Event) {
	if t.obs != nil {
		t.obs.Observe(ev)
	}
}

func (t *Tracker) trace(ev Event) {
	t.log.Debug("tracker."+ev.Op,
		"user_id", ev.User,
		"chat_id", ev.Chat,
		"found", ev.Found,
		"count", ev.Count,
	)
}
