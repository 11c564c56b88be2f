package realtime

import (
	"log/slog"
	"sync"

	v1 "chattrack/shared/contracts/realtime/v1"
)

// Room is the fanout set of sessions connected to one chat.
// It only routes envelopes; contribution counting lives in the tracker.
//
// Concurrency guarantees:
// - Add/Remove are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
type Room struct {
	log    *slog.Logger
	ChatID string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs an empty room.
func NewRoom(log *slog.Logger, chatID string) *Room {
	return &Room{
		log:     log,
		ChatID:  chatID,
		members: make(map[string]*Client),
	}
}

// Add subscribes a session to the room.
func (r *Room) Add(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.SessionID] = client
	r.mu.Unlock()

	r.log.Debug("room.add", "chat_id", r.ChatID, "session_id", client.SessionID)
}

// Remove unsubscribes a session. The client itself stays open.
func (r *Room) Remove(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	delete(r.members, sessionID)
	r.mu.Unlock()

	r.log.Debug("room.remove", "chat_id", r.ChatID, "session_id", sessionID)
}

// Has reports whether sessionID is subscribed.
func (r *Room) Has(sessionID string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[sessionID]
	return ok
}

// Size returns the number of subscribed sessions.
func (r *Room) Size() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fans an envelope out to all members.
// Non-blocking: if a member queue is full or the client is shutting down, it is dropped.
func (r *Room) Broadcast(env v1.Envelope) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
		default:
			r.log.Debug("room.broadcast.drop", "chat_id", r.ChatID, "session_id", m.SessionID)
		}
	}
}
