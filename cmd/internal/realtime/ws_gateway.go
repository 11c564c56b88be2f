package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"chattrack/cmd/internal/chat"
	v1 "chattrack/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// SessionObserver is notified when websocket sessions open and close.
type SessionObserver interface {
	SessionOpened()
	SessionClosed()
}

// WSGateway is the WebSocket entrypoint for chattrack.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats,
// and routes validated envelopes to the chat Service and the Hub.
type WSGateway struct {
	log *slog.Logger
	hub *Hub
	svc *chat.Service
	obs SessionObserver

	cfg Config

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway. A nil hub gets a fresh one.
func NewWSGateway(log *slog.Logger, hub *Hub, svc *chat.Service, cfg Config, obs SessionObserver) (*WSGateway, error) {
	if svc == nil {
		return nil, errors.New("realtime: nil chat service")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}

	cfg = cfg.withDefaults()

	return &WSGateway{
		log:            log,
		hub:            hub,
		svc:            svc,
		obs:            obs,
		cfg:            cfg,
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}, nil
}

// Hub exposes the gateway's room registry (HTTP terminate shares it).
func (g *WSGateway) Hub() *Hub { return g.hub }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// session is the per-connection state owned by the read loop.
type session struct {
	client *Client
	rooms  map[string]*Room
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID := NewSessionID(time.Now().UTC())
	client := NewClient(sessionID, g.cfg.SendQueueSize)
	sess := &session{client: client, rooms: make(map[string]*Room)}

	if g.obs != nil {
		g.obs.SessionOpened()
		defer g.obs.SessionClosed()
	}
	g.log.Info("ws.session.open", "session_id", sessionID, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. Room removal happens before client.Close so
	// broadcasters never hold a client that is being torn down.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.RemoveSession(sessionID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		if env.Type != v1.TypeHello && client.UserID == "" {
			g.trySendError(ctx, client, "hello_required", "send hello first")
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			if err := g.onHello(ctx, client, env); err != nil {
				g.trySendError(ctx, client, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}

		case v1.TypeChatJoin:
			if err := g.onJoin(ctx, sess, env); err != nil {
				g.trySendError(ctx, client, "join_failed", err.Error())
			}

		case v1.TypeMessageSend:
			if err := g.onMessageSend(ctx, sess, env, now); err != nil {
				g.trySendError(ctx, client, "send_failed", err.Error())
			}

		case v1.TypeChatLeave:
			if err := g.onLeave(ctx, sess, env); err != nil {
				g.trySendError(ctx, client, "leave_failed", err.Error())
			}

		case v1.TypeChatTerminate:
			if err := g.onTerminate(ctx, sess, env); err != nil {
				g.trySendError(ctx, client, "terminate_failed", err.Error())
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}

	g.log.Info("ws.session.close", "session_id", sessionID, "user_id", client.UserID)
}

// ---- handlers ----

func (g *WSGateway) onHello(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	userID := chat.NormalizeID(p.UserID)
	if !chat.ValidID(userID) {
		return errors.New("invalid user_id")
	}
	if client.UserID != "" && client.UserID != userID {
		return errors.New("session already bound to another user")
	}
	client.UserID = userID

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{SessionID: client.SessionID, UserID: userID})
	ack := newEnvelope(v1.TypeHelloAck, "", ackPayload, time.Now().UTC())

	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: hello_ack")
	}
	return nil
}

func (g *WSGateway) onJoin(ctx context.Context, sess *session, env v1.Envelope) error {
	var p v1.ChatJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	chatID := chat.NormalizeID(p.ChatID)
	if err := g.svc.Join(sess.client.UserID, chatID); err != nil {
		return err
	}

	_, subscribed := sess.rooms[chatID]
	sess.rooms[chatID] = g.hub.Join(chatID, sess.client)

	echoPayload, _ := json.Marshal(v1.ChatJoinPayload{ChatID: chatID})
	echo := newEnvelope(v1.TypeChatJoin, chatID, echoPayload, time.Now().UTC())

	if !g.enqueue(ctx, sess.client, echo) {
		if !subscribed {
			g.hub.Leave(chatID, sess.client.SessionID)
			delete(sess.rooms, chatID)
		}
		return errors.New("backpressure: join echo")
	}
	return nil
}

func (g *WSGateway) onMessageSend(ctx context.Context, sess *session, env v1.Envelope, now time.Time) error {
	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	if strings.TrimSpace(p.ClientMsgID) == "" {
		return errors.New("missing client_msg_id")
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return errors.New("empty text")
	}
	if len([]rune(text)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	c, ok, err := g.svc.Contribute(sess.client.UserID)
	if err != nil {
		return err
	}

	ackPayload, _ := json.Marshal(v1.MessageAckPayload{
		ClientMsgID: p.ClientMsgID,
		ChatID:      c.Chat,
		Found:       ok,
		Count:       c.Count,
	})
	if !g.enqueue(ctx, sess.client, newEnvelope(v1.TypeMessageAck, c.Chat, ackPayload, now)) {
		return errors.New("backpressure: ack")
	}
	if !ok {
		return nil
	}

	newPayload, _ := json.Marshal(v1.MessageNewPayload{
		ChatID:      c.Chat,
		UserID:      sess.client.UserID,
		ClientMsgID: p.ClientMsgID,
		Text:        text,
		Count:       c.Count,
		ServerTS:    now,
	})
	if room, ok := g.hub.Lookup(c.Chat); ok {
		room.Broadcast(newEnvelope(v1.TypeMessageNew, c.Chat, newPayload, now))
	}
	return nil
}

func (g *WSGateway) onLeave(ctx context.Context, sess *session, env v1.Envelope) error {
	var p v1.ChatLeavePayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}

	d, err := g.svc.Leave(sess.client.UserID, p.ChatID)
	if err != nil {
		return err
	}

	count := d.Count
	if !d.Found {
		count = v1.NotFoundCount
	} else if _, ok := sess.rooms[d.ChatID]; ok {
		g.hub.Leave(d.ChatID, sess.client.SessionID)
		delete(sess.rooms, d.ChatID)
	}

	ackPayload, _ := json.Marshal(v1.ChatLeaveAckPayload{ChatID: d.ChatID, Found: d.Found, Count: count})
	if !g.enqueue(ctx, sess.client, newEnvelope(v1.TypeChatLeaveAck, d.ChatID, ackPayload, time.Now().UTC())) {
		return errors.New("backpressure: leave ack")
	}
	return nil
}

func (g *WSGateway) onTerminate(ctx context.Context, sess *session, env v1.Envelope) error {
	var p v1.ChatTerminatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	term, err := g.svc.Terminate(ctx, p.ChatID)
	if err != nil && !errors.Is(err, chat.ErrTally) {
		return err
	}

	subscribed := false
	if room, ok := g.hub.Lookup(term.ChatID); ok {
		subscribed = room.Has(sess.client.SessionID)
	}
	delete(sess.rooms, term.ChatID)
	g.AnnounceTermination(term)

	// The requester always learns the outcome, subscribed or not.
	if !subscribed {
		payload, _ := json.Marshal(v1.ChatTerminatedPayload{ChatID: term.ChatID, Total: term.Total, TallyID: term.Tally.ID})
		if !g.enqueue(ctx, sess.client, newEnvelope(v1.TypeChatTerminated, term.ChatID, payload, time.Now().UTC())) {
			return errors.New("backpressure: terminated")
		}
	}
	return nil
}

// AnnounceTermination closes the chat's room and tells its members the total.
func (g *WSGateway) AnnounceTermination(term chat.Termination) {
	room := g.hub.Close(term.ChatID)
	if room == nil {
		return
	}
	payload, _ := json.Marshal(v1.ChatTerminatedPayload{ChatID: term.ChatID, Total: term.Total, TallyID: term.Tally.ID})
	room.Broadcast(newEnvelope(v1.TypeChatTerminated, term.ChatID, payload, time.Now().UTC()))
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, "", p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ, chatID string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		ChatID:  chatID,
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, errBadJSON{err}
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type errBadJSON struct{ err error }

func (e errBadJSON) Error() string { return "bad json: " + e.err.Error() }
func (e errBadJSON) Unwrap() error { return e.err }

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	var bad errBadJSON
	if errors.As(err, &bad) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins maps the allowlist to the host
// patterns websocket.Accept checks, so the two layers agree.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
