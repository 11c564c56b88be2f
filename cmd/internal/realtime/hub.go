package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns the in-memory rooms keyed by chat id.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Join subscribes c to the room for chatID, creating the room on first use.
// The room is created and joined under the hub lock so a concurrent
// RemoveSession or Close cannot orphan it in between.
func (h *Hub) Join(chatID string, c *Client) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[chatID]
	if !ok {
		r = NewRoom(h.log, chatID)
		h.rooms[chatID] = r
	}
	r.Add(c)
	return r
}

// Leave unsubscribes sessionID from the room for chatID and drops the room
// if it is left empty.
func (h *Hub) Leave(chatID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[chatID]
	if !ok {
		return
	}
	r.Remove(sessionID)
	if r.Size() == 0 {
		delete(h.rooms, chatID)
	}
}

// Lookup returns the room for chatID without creating it.
func (h *Hub) Lookup(chatID string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[chatID]
	return r, ok
}

// Close removes the room for chatID and returns it so the caller can send
// a final broadcast. It returns nil if the room does not exist.
func (h *Hub) Close(chatID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[chatID]
	delete(h.rooms, chatID)
	return r
}

// RemoveSession unsubscribes sessionID from every room and drops rooms left empty.
func (h *Hub) RemoveSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, r := range h.rooms {
		r.Remove(sessionID)
		if r.Size() == 0 {
			delete(h.rooms, id)
		}
	}
}
