package session

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codefinch/classroom-backend/internal/auth"
)

// PeerState is the per-connection lifecycle:
// unauthenticated -> authenticated -> joined -> left (on disconnect).
type PeerState int

const (
	StateUnauthenticated PeerState = iota
	StateAuthenticated
	StateJoined
)

// Peer is one connected signaling client. Its fields are only touched from
// the connection's read loop, so they need no lock of their own.
type Peer struct {
	ID        string
	sink      MessageSink
	state     PeerState
	claims    *auth.Claims
	sessionID string
	isTeacher bool
}

// NewPeer wraps a connection's message sink as a coordinator peer.
func NewPeer(id string, sink MessageSink) *Peer {
	return &Peer{ID: id, sink: sink}
}

// TokenValidator resolves a bearer token to validated identity claims.
type TokenValidator func(token string) (*auth.Claims, error)

// RoomClosedHandler is called after the last participant leaves a room.
type RoomClosedHandler func(sessionID string)

// Coordinator is the authority for room membership, roles and presenter
// state across all concurrent class sessions. The registry lock only guards
// the room map; room state mutates under each room's own mutex.
type Coordinator struct {
	validate TokenValidator
	logger   *zap.Logger

	mu           sync.RWMutex
	rooms        map[string]*Room
	onRoomClosed RoomClosedHandler
}

// NewCoordinator creates a session coordinator.
func NewCoordinator(validate TokenValidator, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		validate: validate,
		logger:   logger,
		rooms:    make(map[string]*Room),
	}
}

// SetRoomClosedHandler registers the hook invoked when a room empties
// (e.g. to discard the session's health windows).
func (c *Coordinator) SetRoomClosedHandler(fn RoomClosedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRoomClosed = fn
}

// Room returns the live room for the session, or nil.
func (c *Coordinator) Room(sessionID string) *Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[sessionID]
}

// RoomCount returns the number of live rooms.
func (c *Coordinator) RoomCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms)
}

// Broadcast pushes an event to every participant of the session's room.
// Unknown sessions are a no-op.
func (c *Coordinator) Broadcast(sessionID, event string, payload interface{}) {
	room := c.Room(sessionID)
	if room == nil {
		return
	}
	room.Broadcast(uuid.Nil, NewMessage(event, payload))
}

// HandleMessage dispatches one client message. Every reply and state change
// flows through here, so the per-peer state machine lives in one place.
func (c *Coordinator) HandleMessage(p *Peer, msg Message) {
	switch msg.Event {
	case EventAuthenticate:
		var payload AuthenticatePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Token == "" {
			c.reject(p, "token required")
			return
		}
		c.authenticate(p, payload.Token)
	case EventJoin:
		var payload JoinPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.SessionID == "" {
			c.reject(p, "session_id required")
			return
		}
		c.join(p, payload)
	case EventLeave:
		c.Disconnect(p)
	case EventScreenShareStart:
		c.startScreenShare(p)
	case EventScreenShareStop:
		c.stopScreenShare(p)
	default:
		// unknown events are ignored
	}
}

func (c *Coordinator) authenticate(p *Peer, token string) {
	claims, err := c.validate(token)
	if err != nil {
		c.reject(p, "invalid token")
		return
	}
	p.claims = claims
	p.state = StateAuthenticated
	p.sink.Send(NewMessage(EventAuthenticated, UserEventPayload{
		UserID: claims.UserID.String(),
		Name:   claims.Name,
	}))
	c.logger.Debug("peer authenticated", zap.String("peer_id", p.ID), zap.String("user_id", claims.UserID.String()))
}

// join admits the peer into the named room, creating it on first entry.
func (c *Coordinator) join(p *Peer, payload JoinPayload) {
	if p.state != StateAuthenticated {
		c.reject(p, "not authenticated")
		return
	}

	c.mu.Lock()
	room, ok := c.rooms[payload.SessionID]
	if !ok {
		room = NewRoom(payload.SessionID)
		c.rooms[payload.SessionID] = room
	}
	c.mu.Unlock()

	// The teacher flag is declared by the joiner but honored only when the
	// token carries a teaching role.
	isTeacher := payload.IsTeacher && p.claims.IsTeacher()
	participant := &Participant{
		UserID:    p.claims.UserID,
		Name:      p.claims.Name,
		IsTeacher: isTeacher,
		sink:      p.sink,
	}
	roster := room.Add(participant)
	p.state = StateJoined
	p.sessionID = payload.SessionID
	p.isTeacher = isTeacher

	room.Broadcast(p.claims.UserID, NewMessage(EventUserJoined, UserEventPayload{
		UserID:    p.claims.UserID.String(),
		Name:      p.claims.Name,
		IsTeacher: isTeacher,
	}))
	p.sink.Send(NewMessage(EventJoined, JoinedPayload{SessionID: payload.SessionID, Roster: roster}))
	c.logger.Info("participant joined",
		zap.String("session_id", payload.SessionID),
		zap.String("user_id", p.claims.UserID.String()),
		zap.Bool("is_teacher", isTeacher),
	)
}

func (c *Coordinator) startScreenShare(p *Peer) {
	room := c.joinedRoom(p)
	if room == nil {
		return
	}
	superseded, ok := room.StartPresenting(p.claims.UserID)
	if !ok {
		return
	}
	// Last-writer-wins: broadcast the old presenter's stop before the new start.
	if superseded != uuid.Nil {
		room.Broadcast(uuid.Nil, NewMessage(EventScreenShareStopped, ScreenSharePayload{UserID: superseded.String()}))
	}
	room.Broadcast(p.claims.UserID, NewMessage(EventScreenShareStarted, ScreenSharePayload{UserID: p.claims.UserID.String()}))
	c.logger.Debug("screen share started",
		zap.String("session_id", room.SessionID),
		zap.String("user_id", p.claims.UserID.String()),
	)
}

func (c *Coordinator) stopScreenShare(p *Peer) {
	room := c.joinedRoom(p)
	if room == nil {
		return
	}
	if room.StopPresenting(p.claims.UserID) {
		room.Broadcast(p.claims.UserID, NewMessage(EventScreenShareStopped, ScreenSharePayload{UserID: p.claims.UserID.String()}))
	}
}

// Disconnect removes the peer from its room (if joined), synthesizing a
// screen-share stop when the leaving participant was the presenter so nobody
// sees a ghost presenter. The room is destroyed once empty. Disconnecting an
// already-left peer is a no-op.
func (c *Coordinator) Disconnect(p *Peer) {
	if p.state != StateJoined {
		p.state = StateUnauthenticated
		return
	}
	sessionID := p.sessionID
	p.state = StateAuthenticated
	p.sessionID = ""

	room := c.Room(sessionID)
	if room == nil {
		return
	}
	wasPresenter, remaining := room.Remove(p.claims.UserID)
	if wasPresenter {
		room.Broadcast(uuid.Nil, NewMessage(EventScreenShareStopped, ScreenSharePayload{UserID: p.claims.UserID.String()}))
	}
	room.Broadcast(uuid.Nil, NewMessage(EventUserLeft, UserEventPayload{UserID: p.claims.UserID.String()}))
	c.logger.Info("participant left",
		zap.String("session_id", sessionID),
		zap.String("user_id", p.claims.UserID.String()),
		zap.Int("remaining", remaining),
	)

	if remaining == 0 {
		c.mu.Lock()
		// Re-check under the registry lock; a concurrent join may have revived the room.
		closed := len(room.Roster()) == 0
		if closed {
			delete(c.rooms, sessionID)
		}
		onClosed := c.onRoomClosed
		c.mu.Unlock()
		if closed && onClosed != nil {
			onClosed(sessionID)
		}
	}
}

// joinedRoom returns the peer's room when the peer is in the joined state.
// Late messages after leave resolve to nil and are treated as no-ops.
func (c *Coordinator) joinedRoom(p *Peer) *Room {
	if p.state != StateJoined {
		c.reject(p, "not in a session")
		return nil
	}
	return c.Room(p.sessionID)
}

// reject replies with an error event; no broadcast, no state change.
func (c *Coordinator) reject(p *Peer, reason string) {
	p.sink.Send(NewMessage(EventError, ErrorPayload{Message: reason}))
}
