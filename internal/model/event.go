package model

import (
	"time"
)

// EventType names a server-sent event on the chat stream.
type EventType string

const (
	EventTypeToken EventType = "token"
	EventTypeDone  EventType = "done"
	EventTypeError EventType = "error"

	// Admin message feed.
	EventTypeConnected      EventType = "connected"
	EventTypeMessage        EventType = "message"
	EventTypeReplayComplete EventType = "replay_complete"
	EventTypeHeartbeat      EventType = "heartbeat"
)

// TokenEvent represents a streaming token event.
type TokenEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// DoneEvent closes a successful chat stream.
type DoneEvent struct {
	ConversationID string   `json:"conversation_id,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// ErrorEvent represents an error event or an error response body.
type ErrorEvent struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// MessageEvent is published to the event feed for every persisted message.
// Sequence is the stream sequence and is only set on events read back from
// the feed.
type MessageEvent struct {
	Sequence       uint64    `json:"sequence,omitempty"`
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id"`
	MessageID      string    `json:"message_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Language       Language  `json:"language"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConnectedEvent opens an admin message feed.
type ConnectedEvent struct {
	ConversationID string `json:"conversation_id"`
}

// ReplayCompleteEvent marks the end of the stored messages on a feed.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	MessageCount int    `json:"message_count"`
}

// HeartbeatEvent keeps an idle feed connection open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
