// Package httpapi exposes chat membership operations as a JSON HTTP API.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"chattrack/cmd/internal/chat"
	"chattrack/cmd/internal/tally"
	v1 "chattrack/shared/contracts/realtime/v1"
)

const defaultMaxBodyBytes = 64 << 10

// TerminationAnnouncer is told about chats closed through HTTP so connected
// websocket members hear about it too.
type TerminationAnnouncer interface {
	AnnounceTermination(chat.Termination)
}

// Handler wires HTTP routes to the chat Service.
type Handler struct {
	log      *slog.Logger
	svc      *chat.Service
	announce TerminationAnnouncer

	maxBodyBytes int64
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithAnnouncer forwards HTTP terminations to a realtime fanout.
func WithAnnouncer(a TerminationAnnouncer) HandlerOption {
	return func(h *Handler) {
		if h == nil || a == nil {
			return
		}
		h.announce = a
	}
}

// WithMaxBodyBytes overrides the request body limit.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if h == nil || n <= 0 {
			return
		}
		h.maxBodyBytes = n
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, svc *chat.Service, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("httpapi: nil chat service")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:          log,
		svc:          svc,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires API routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /v1/chats/{chat}/join", h.handleJoin)
	mux.HandleFunc("POST /v1/chats/{chat}/leave", h.handleLeave)
	mux.HandleFunc("POST /v1/chats/{chat}/terminate", h.handleTerminate)
	mux.HandleFunc("GET /v1/chats/{chat}/tallies", h.handleTallies)
	mux.HandleFunc("POST /v1/users/{user}/contribute", h.handleContribute)
	mux.HandleFunc("POST /v1/users/{user}/leave", h.handleLeaveCurrent)
	mux.HandleFunc("GET /v1/stats", h.handleStats)
}

// ---- handlers ----

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if err := h.svc.Join(req.User, r.PathValue("chat")); err != nil {
		h.writeServiceError(w, "api.join", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleContribute(w http.ResponseWriter, r *http.Request) {
	c, ok, err := h.svc.Contribute(r.PathValue("user"))
	if err != nil {
		h.writeServiceError(w, "api.contribute", err)
		return
	}
	writeJSON(w, http.StatusOK, contributeResponse{Found: ok, Chat: c.Chat, Count: c.Count})
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	chatID := chat.NormalizeID(r.PathValue("chat"))
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "chat is required")
		return
	}

	d, err := h.svc.Leave(req.User, chatID)
	if err != nil {
		h.writeServiceError(w, "api.leave", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveResponse(d))
}

func (h *Handler) handleLeaveCurrent(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Leave(r.PathValue("user"), "")
	if err != nil {
		h.writeServiceError(w, "api.leave_current", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveResponse(d))
}

func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	term, err := h.svc.Terminate(r.Context(), r.PathValue("chat"))
	persisted := err == nil && term.Found
	if err != nil && !errors.Is(err, chat.ErrTally) {
		h.writeServiceError(w, "api.terminate", err)
		return
	}

	if h.announce != nil {
		h.announce.AnnounceTermination(term)
	}

	writeJSON(w, http.StatusOK, terminateResponse{
		Chat:      term.ChatID,
		Total:     term.Total,
		TallyID:   term.Tally.ID,
		Persisted: persisted,
	})
}

func (h *Handler) handleTallies(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	res, err := h.svc.History(r.Context(), r.PathValue("chat"), limit)
	if err != nil {
		h.writeServiceError(w, "api.tallies", err)
		return
	}

	out := talliesResponse{Tallies: make([]tallyResponse, 0, len(res.Tallies)), HasMore: res.HasMore}
	for _, t := range res.Tallies {
		out.Tallies = append(out.Tallies, tallyResponse{
			ID:           t.ID,
			Chat:         t.ChatID,
			Total:        t.Total,
			TerminatedAt: t.TerminatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	s := h.svc.Stats()
	writeJSON(w, http.StatusOK, statsResponse{Buckets: s.Buckets, Live: s.Live, Departed: s.Departed})
}

// ---- helpers ----

func toLeaveResponse(d chat.Departure) leaveResponse {
	count := d.Count
	if !d.Found {
		count = v1.NotFoundCount
	}
	return leaveResponse{Found: d.Found, Chat: d.ChatID, Count: count}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidInput), errors.Is(err, tally.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
