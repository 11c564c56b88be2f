// Package main provides a CI-friendly WebSocket smoke test for chattrack realtime.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack session establishment
//   - join echo
//   - send -> ack with contribution count
//   - fanout message_new to another member
//   - leave -> frozen count, repeated leave -> not found
//   - terminate -> total across live and departed memberships
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "chattrack/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name      string
	userID    string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		chatID  = flag.String("chat", fmt.Sprintf("smoke-%d", time.Now().UnixNano()), "Chat ID to join and terminate")
		text    = flag.String("text", "hello chattrack", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	stamp := time.Now().UnixNano()

	a := mustConnect(root, "A", fmt.Sprintf("smoke-a-%d", stamp), *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", fmt.Sprintf("smoke-b-%d", stamp), *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q chat=%q\n", a.sessionID, b.sessionID, *origin, *chatID)
	}

	mustJoin(root, a, *chatID, *timeout)
	mustJoin(root, b, *chatID, *timeout)

	clientMsgID := fmt.Sprintf("cmsg-%d", stamp)
	if n := mustSendAndAssertAck(root, a, *chatID, clientMsgID, *text, *timeout); n != 1 {
		fatalf("A first contribution count=%d want=1", n)
	}
	mustAssertNew(root, b, *chatID, clientMsgID, a.userID, *text, 1, *timeout)

	for i := 1; i <= 2; i++ {
		if n := mustSendAndAssertAck(root, b, *chatID, fmt.Sprintf("%s-b%d", clientMsgID, i), *text, *timeout); n != i {
			fatalf("B contribution count=%d want=%d", n, i)
		}
	}

	if found, n := mustLeave(root, a, *chatID, *timeout); !found || n != 1 {
		fatalf("A leave: found=%v count=%d want found=true count=1", found, n)
	}
	if found, n := mustLeave(root, a, *chatID, *timeout); found || n != v1.NotFoundCount {
		fatalf("A repeated leave: found=%v count=%d want found=false count=%d", found, n, v1.NotFoundCount)
	}

	total := mustTerminate(root, b, *chatID, *timeout)
	if total != 3 {
		fatalf("terminate total=%d want=3", total)
	}

	if *verbose {
		_ = drainOptional(root, a, 500*time.Millisecond)
	}

	fmt.Printf("OK: A=%s B=%s chat_id=%s total=%d\n", a.sessionID, b.sessionID, *chatID, total)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, userID, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{UserID: userID}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id (%s)", name)
	}
	if p.UserID != userID {
		fatalf("hello_ack user_id mismatch (%s): got=%q want=%q", name, p.UserID, userID)
	}
	c.sessionID = p.SessionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

var skipNew = map[string]struct{}{v1.TypeMessageNew: {}}

func mustJoin(parent context.Context, c *smokeClient, chatID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeChatJoin,
		ID:      fmt.Sprintf("%s-join", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.ChatJoinPayload{ChatID: chatID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	echo := c.mustReadUntilType(parent, v1.TypeChatJoin, stepTimeout, nil)

	var p v1.ChatJoinPayload
	if err := json.Unmarshal(echo.Payload, &p); err != nil {
		fatalf("unmarshal join echo payload (%s): %v", c.name, err)
	}
	if p.ChatID != chatID {
		fatalf("join echo chat_id mismatch (%s): got=%q want=%q", c.name, p.ChatID, chatID)
	}
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, chatID, clientMsgID, text string, stepTimeout time.Duration) int {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeMessageSend,
		ID:   fmt.Sprintf("%s-send-%s", c.name, clientMsgID),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.MessageSendPayload{
			ClientMsgID: clientMsgID,
			Text:        text,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeMessageAck, stepTimeout, skipNew)

	var p v1.MessageAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal message_ack payload (%s): %v", c.name, err)
	}
	if !p.Found {
		fatalf("ack not found (%s): sender has no membership", c.name)
	}
	if p.ChatID != chatID {
		fatalf("ack chat_id mismatch (%s): got=%q want=%q", c.name, p.ChatID, chatID)
	}
	if p.ClientMsgID != clientMsgID {
		fatalf("ack client_msg_id mismatch (%s): got=%q want=%q", c.name, p.ClientMsgID, clientMsgID)
	}
	return p.Count
}

func mustAssertNew(parent context.Context, c *smokeClient, chatID, clientMsgID, senderUserID, text string, count int, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeMessageNew, stepTimeout, nil)

	var p v1.MessageNewPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message_new payload (%s): %v", c.name, err)
	}

	if p.ChatID != chatID {
		fatalf("new chat_id mismatch (%s): got=%q want=%q", c.name, p.ChatID, chatID)
	}
	if p.ClientMsgID != clientMsgID {
		fatalf("new client_msg_id mismatch (%s): got=%q want=%q", c.name, p.ClientMsgID, clientMsgID)
	}
	if p.UserID != senderUserID {
		fatalf("new sender mismatch (%s): got=%q want=%q", c.name, p.UserID, senderUserID)
	}
	if p.Text != text {
		fatalf("new text mismatch (%s): got=%q want=%q", c.name, p.Text, text)
	}
	if p.Count != count {
		fatalf("new count mismatch (%s): got=%d want=%d", c.name, p.Count, count)
	}
	if p.ServerTS.IsZero() {
		fatalf("new server_ts missing/zero (%s)", c.name)
	}
}

func mustLeave(parent context.Context, c *smokeClient, chatID string, stepTimeout time.Duration) (bool, int) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeChatLeave,
		ID:      fmt.Sprintf("%s-leave-%d", c.name, time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.ChatLeavePayload{ChatID: chatID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeChatLeaveAck, stepTimeout, skipNew)

	var p v1.ChatLeaveAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal chat_leave_ack payload (%s): %v", c.name, err)
	}
	return p.Found, p.Count
}

func mustTerminate(parent context.Context, c *smokeClient, chatID string, stepTimeout time.Duration) int {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeChatTerminate,
		ID:      fmt.Sprintf("%s-terminate", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.ChatTerminatePayload{ChatID: chatID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	done := c.mustReadUntilType(parent, v1.TypeChatTerminated, stepTimeout, skipNew)

	var p v1.ChatTerminatedPayload
	if err := json.Unmarshal(done.Payload, &p); err != nil {
		fatalf("unmarshal chat_terminated payload (%s): %v", c.name, err)
	}
	if p.ChatID != chatID {
		fatalf("terminated chat_id mismatch (%s): got=%q want=%q", c.name, p.ChatID, chatID)
	}
	return p.Total
}

func drainOptional(parent context.Context, c *smokeClient, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-c.errCh:
			if err != nil {
				return err
			}
			return errors.New("connection closed while draining")
		case env, ok := <-c.inbox:
			if !ok {
				return errors.New("connection closed while draining")
			}
			fmt.Printf("drained (%s): %s\n", c.name, env.Type)
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
