package session

import (
	"sync"

	"github.com/google/uuid"
)

// MessageSink delivers a message to one connected client. Send reports
// whether the message was accepted (a full buffer drops, not blocks).
type MessageSink interface {
	Send(msg Message) bool
}

// Participant is one joined member of a room.
type Participant struct {
	UserID       uuid.UUID
	Name         string
	IsTeacher    bool
	IsPresenting bool
	sink         MessageSink
}

// Room tracks the participants of one class session. Each room carries its
// own mutex so rooms mutate fully in parallel; only same-room operations
// serialize.
type Room struct {
	SessionID string

	mu           sync.Mutex
	participants map[uuid.UUID]*Participant
	presenter    uuid.UUID // uuid.Nil when nobody is presenting
}

// NewRoom creates an empty room for the session.
func NewRoom(sessionID string) *Room {
	return &Room{
		SessionID:    sessionID,
		participants: make(map[uuid.UUID]*Participant),
	}
}

// Add inserts (or replaces) a participant and returns the roster as seen by
// the joiner, including themselves.
func (r *Room) Add(p *Participant) []RosterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[p.UserID] = p
	return r.rosterLocked()
}

// Remove deletes the participant. It reports whether they were the active
// presenter and how many participants remain. Removing an unknown user is a
// no-op (expected race under concurrent disconnects).
func (r *Room) Remove(userID uuid.UUID) (wasPresenter bool, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[userID]; !ok {
		return false, len(r.participants)
	}
	delete(r.participants, userID)
	if r.presenter == userID {
		r.presenter = uuid.Nil
		wasPresenter = true
	}
	return wasPresenter, len(r.participants)
}

// StartPresenting marks the user as the room's presenter. At most one
// participant presents at a time: a new start supersedes the previous
// presenter (last-writer-wins) and the superseded user id is returned so the
// caller can broadcast their stop.
func (r *Room) StartPresenting(userID uuid.UUID) (superseded uuid.UUID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, exists := r.participants[userID]
	if !exists {
		return uuid.Nil, false
	}
	if r.presenter != uuid.Nil && r.presenter != userID {
		if prev, stillHere := r.participants[r.presenter]; stillHere {
			prev.IsPresenting = false
			superseded = prev.UserID
		}
	}
	r.presenter = userID
	p.IsPresenting = true
	return superseded, true
}

// StopPresenting clears the presenter flag if the user holds it.
func (r *Room) StopPresenting(userID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presenter != userID {
		return false
	}
	if p, ok := r.participants[userID]; ok {
		p.IsPresenting = false
	}
	r.presenter = uuid.Nil
	return true
}

// Presenter returns the active presenter's user id, or uuid.Nil.
func (r *Room) Presenter() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presenter
}

// Roster returns the current membership.
func (r *Room) Roster() []RosterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked()
}

func (r *Room) rosterLocked() []RosterEntry {
	roster := make([]RosterEntry, 0, len(r.participants))
	for _, p := range r.participants {
		roster = append(roster, RosterEntry{
			UserID:       p.UserID.String(),
			Name:         p.Name,
			IsTeacher:    p.IsTeacher,
			IsPresenting: p.IsPresenting,
		})
	}
	return roster
}

// Broadcast sends the message to every participant except the excluded user
// (pass uuid.Nil to reach everyone).
func (r *Room) Broadcast(except uuid.UUID, msg Message) {
	r.mu.Lock()
	sinks := make([]MessageSink, 0, len(r.participants))
	for id, p := range r.participants {
		if id == except || p.sink == nil {
			continue
		}
		sinks = append(sinks, p.sink)
	}
	r.mu.Unlock()

	for _, sink := range sinks {
		sink.Send(msg)
	}
}
