// Package v1 defines the chattrack realtime protocol v1 contract.
//
// It depends only on the standard library.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol clients must negotiate.
const Subprotocol = "chattrack.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake and names the user (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeChatJoin joins a chat (client -> server) and is echoed back.
	TypeChatJoin = "chat_join"

	// TypeMessageSend contributes a message to the user's current chat (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck acknowledges a send request with the new count (server -> client).
	TypeMessageAck = "message_ack"
	// TypeMessageNew broadcasts a credited message (server -> chat members).
	TypeMessageNew = "message_new"

	// TypeChatLeave leaves a chat, or the current chat when chat_id is empty (client -> server).
	TypeChatLeave = "chat_leave"
	// TypeChatLeaveAck returns the final count of the left membership (server -> client).
	TypeChatLeaveAck = "chat_leave_ack"

	// TypeChatTerminate closes a chat (client -> server).
	TypeChatTerminate = "chat_terminate"
	// TypeChatTerminated announces a closed chat and its total (server -> chat members).
	TypeChatTerminated = "chat_terminated"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// NotFoundCount is the count reported by leave acks when no membership matched.
const NotFoundCount = -1

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ChatID  string          `json:"chat_id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeChatJoin,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageNew,
		TypeChatLeave,
		TypeChatLeaveAck,
		TypeChatTerminate,
		TypeChatTerminated,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct {
	UserID string `json:"user_id"`
}

// HelloAckPayload carries the session id assigned by the server.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// ChatJoinPayload requests membership in a chat.
type ChatJoinPayload struct {
	ChatID string `json:"chat_id"`
}

// MessageSendPayload contributes one message to the sender's current chat.
type MessageSendPayload struct {
	ClientMsgID string `json:"client_msg_id"`
	Text        string `json:"text"`
}

// MessageAckPayload acknowledges a send request.
// Found is false (and Count 0) when the sender is not a member of any chat.
type MessageAckPayload struct {
	ClientMsgID string `json:"client_msg_id"`
	ChatID      string `json:"chat_id,omitempty"`
	Found       bool   `json:"found"`
	Count       int    `json:"count"`
}

// MessageNewPayload is broadcast to the members of the credited chat.
type MessageNewPayload struct {
	ChatID      string    `json:"chat_id"`
	UserID      string    `json:"user_id"`
	ClientMsgID string    `json:"client_msg_id"`
	Text        string    `json:"text"`
	Count       int       `json:"count"`
	ServerTS    time.Time `json:"server_ts"`
}

// ChatLeavePayload leaves ChatID, or the current chat when ChatID is empty.
type ChatLeavePayload struct {
	ChatID string `json:"chat_id,omitempty"`
}

// ChatLeaveAckPayload reports the frozen count of the left membership.
// Found is false and Count is NotFoundCount when nothing matched.
type ChatLeaveAckPayload struct {
	ChatID string `json:"chat_id,omitempty"`
	Found  bool   `json:"found"`
	Count  int    `json:"count"`
}

// ChatTerminatePayload requests closing a chat.
type ChatTerminatePayload struct {
	ChatID string `json:"chat_id"`
}

// ChatTerminatedPayload announces the total contributions of a closed chat.
type ChatTerminatedPayload struct {
	ChatID  string `json:"chat_id"`
	Total   int    `json:"total"`
	TallyID string `json:"tally_id,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
