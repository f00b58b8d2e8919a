// Package session is the signaling-side authority for room membership:
// who is in a class session, in what role, and who is presenting.
package session

import "encoding/json"

// Message is the signaling envelope riding on the per-client duplex channel.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client-sent events.
const (
	EventAuthenticate     = "authenticate"
	EventJoin             = "join"
	EventLeave            = "leave"
	EventScreenShareStart = "screen_share_start"
	EventScreenShareStop  = "screen_share_stop"
)

// Server-sent events.
const (
	EventAuthenticated      = "authenticated"
	EventJoined             = "joined"
	EventUserJoined         = "user_joined"
	EventUserLeft           = "user_left"
	EventScreenShareStarted = "screen_share_started"
	EventScreenShareStopped = "screen_share_stopped"
	EventError              = "error"
)

// AuthenticatePayload carries the bearer token for the authenticate step.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// JoinPayload names the room to join. The teacher flag is declared by the
// caller and honored only when the token carries a teaching role.
type JoinPayload struct {
	SessionID string `json:"session_id"`
	IsTeacher bool   `json:"is_teacher"`
}

// RosterEntry describes one participant in the joined reply.
type RosterEntry struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	IsTeacher    bool   `json:"is_teacher"`
	IsPresenting bool   `json:"is_presenting"`
}

// JoinedPayload is the reply to a successful join: the full current roster.
type JoinedPayload struct {
	SessionID string        `json:"session_id"`
	Roster    []RosterEntry `json:"roster"`
}

// UserEventPayload is the body of user_joined / user_left broadcasts.
type UserEventPayload struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	IsTeacher bool   `json:"is_teacher,omitempty"`
}

// ScreenSharePayload names the presenter in screen share broadcasts.
type ScreenSharePayload struct {
	UserID string `json:"user_id"`
}

// ErrorPayload is the body of error replies.
type ErrorPayload struct {
	Message string `json:"message"`
}

func mustMarshal(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

// NewMessage builds an envelope with a marshaled payload.
func NewMessage(event string, payload interface{}) Message {
	if payload == nil {
		return Message{Event: event}
	}
	return Message{Event: event, Data: mustMarshal(payload)}
}
