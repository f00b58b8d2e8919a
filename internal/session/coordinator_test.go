package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefinch/classroom-backend/internal/auth"
)

// recordingSink captures every message sent to one fake client.
type recordingSink struct {
	mu       sync.Mutex
	messages []Message
}

func (s *recordingSink) Send(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return true
}

func (s *recordingSink) all() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *recordingSink) events() []string {
	var names []string
	for _, m := range s.all() {
		names = append(names, m.Event)
	}
	return names
}

func (s *recordingSink) last(t *testing.T, event string) Message {
	t.Helper()
	msgs := s.all()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Event == event {
			return msgs[i]
		}
	}
	t.Fatalf("no %s message received, got %v", event, s.events())
	return Message{}
}

// validatorFor accepts the token "tok:<name>" for each registered user.
func validatorFor(users map[string]*auth.Claims) TokenValidator {
	return func(token string) (*auth.Claims, error) {
		if claims, ok := users[token]; ok {
			return claims, nil
		}
		return nil, errors.New("bad token")
	}
}

type testPeer struct {
	peer *Peer
	sink *recordingSink
}

func newTestHarness(t *testing.T) (*Coordinator, map[string]*auth.Claims) {
	t.Helper()
	users := make(map[string]*auth.Claims)
	return NewCoordinator(validatorFor(users), nil), users
}

func connect(t *testing.T, c *Coordinator, users map[string]*auth.Claims, name, role string) *testPeer {
	t.Helper()
	users["tok:"+name] = &auth.Claims{UserID: uuid.New(), Name: name, Role: role}
	sink := &recordingSink{}
	return &testPeer{peer: NewPeer(uuid.NewString(), sink), sink: sink}
}

func (tp *testPeer) authenticate(c *Coordinator, name string) {
	c.HandleMessage(tp.peer, NewMessage(EventAuthenticate, AuthenticatePayload{Token: "tok:" + name}))
}

func (tp *testPeer) join(c *Coordinator, sessionID string, isTeacher bool) {
	c.HandleMessage(tp.peer, NewMessage(EventJoin, JoinPayload{SessionID: sessionID, IsTeacher: isTeacher}))
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	c, _ := newTestHarness(t)
	sink := &recordingSink{}
	p := NewPeer("conn-1", sink)

	c.HandleMessage(p, NewMessage(EventAuthenticate, AuthenticatePayload{Token: "tok:nobody"}))
	msg := sink.last(t, EventError)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "invalid token", payload.Message)
}

func TestJoinBeforeAuthenticateRejected(t *testing.T) {
	c, _ := newTestHarness(t)
	sink := &recordingSink{}
	p := NewPeer("conn-1", sink)

	c.HandleMessage(p, NewMessage(EventJoin, JoinPayload{SessionID: "class-1"}))
	sink.last(t, EventError)
	assert.Equal(t, 0, c.RoomCount())
}

func TestJoinCreatesRoomAndReturnsRoster(t *testing.T) {
	c, users := newTestHarness(t)
	teacher := connect(t, c, users, "alice", "teacher")
	student := connect(t, c, users, "bob", "student")

	teacher.authenticate(c, "alice")
	teacher.join(c, "class-1", true)
	require.Equal(t, 1, c.RoomCount())

	student.authenticate(c, "bob")
	student.join(c, "class-1", false)

	var joined JoinedPayload
	require.NoError(t, json.Unmarshal(student.sink.last(t, EventJoined).Data, &joined))
	assert.Equal(t, "class-1", joined.SessionID)
	require.Len(t, joined.Roster, 2)
	byName := make(map[string]RosterEntry)
	for _, e := range joined.Roster {
		byName[e.Name] = e
	}
	assert.True(t, byName["alice"].IsTeacher)
	assert.False(t, byName["bob"].IsTeacher)

	// Existing members hear about the newcomer; the newcomer does not.
	var evt UserEventPayload
	require.NoError(t, json.Unmarshal(teacher.sink.last(t, EventUserJoined).Data, &evt))
	assert.Equal(t, "bob", evt.Name)
	assert.NotContains(t, student.sink.events(), EventUserJoined)
}

func TestJoinDowngradesTeacherClaimForStudents(t *testing.T) {
	c, users := newTestHarness(t)
	student := connect(t, c, users, "bob", "student")
	student.authenticate(c, "bob")
	student.join(c, "class-1", true)

	var joined JoinedPayload
	require.NoError(t, json.Unmarshal(student.sink.last(t, EventJoined).Data, &joined))
	require.Len(t, joined.Roster, 1)
	assert.False(t, joined.Roster[0].IsTeacher)

	mentor := connect(t, c, users, "dana", "mentor")
	mentor.authenticate(c, "dana")
	mentor.join(c, "class-1", true)
	var evt UserEventPayload
	require.NoError(t, json.Unmarshal(student.sink.last(t, EventUserJoined).Data, &evt))
	assert.True(t, evt.IsTeacher)
}

func TestScreenSharePresenterSupersede(t *testing.T) {
	c, users := newTestHarness(t)
	first := connect(t, c, users, "alice", "teacher")
	second := connect(t, c, users, "bob", "student")
	watcher := connect(t, c, users, "carol", "student")
	for name, tp := range map[string]*testPeer{"alice": first, "bob": second, "carol": watcher} {
		tp.authenticate(c, name)
		tp.join(c, "class-1", name == "alice")
	}

	c.HandleMessage(first.peer, NewMessage(EventScreenShareStart, nil))
	room := c.Room("class-1")
	require.NotNil(t, room)
	assert.Equal(t, users["tok:alice"].UserID, room.Presenter())

	// A second start takes over: everyone sees the old presenter stop
	// followed by the new presenter start.
	c.HandleMessage(second.peer, NewMessage(EventScreenShareStart, nil))
	assert.Equal(t, users["tok:bob"].UserID, room.Presenter())

	var stopped, started ScreenSharePayload
	require.NoError(t, json.Unmarshal(watcher.sink.last(t, EventScreenShareStopped).Data, &stopped))
	require.NoError(t, json.Unmarshal(watcher.sink.last(t, EventScreenShareStarted).Data, &started))
	assert.Equal(t, users["tok:alice"].UserID.String(), stopped.UserID)
	assert.Equal(t, users["tok:bob"].UserID.String(), started.UserID)
}

func TestScreenShareStopByNonPresenterIgnored(t *testing.T) {
	c, users := newTestHarness(t)
	presenter := connect(t, c, users, "alice", "teacher")
	other := connect(t, c, users, "bob", "student")
	presenter.authenticate(c, "alice")
	presenter.join(c, "class-1", true)
	other.authenticate(c, "bob")
	other.join(c, "class-1", false)

	c.HandleMessage(presenter.peer, NewMessage(EventScreenShareStart, nil))
	c.HandleMessage(other.peer, NewMessage(EventScreenShareStop, nil))
	assert.Equal(t, users["tok:alice"].UserID, c.Room("class-1").Presenter())
}

func TestDisconnectingPresenterSynthesizesStop(t *testing.T) {
	c, users := newTestHarness(t)
	presenter := connect(t, c, users, "alice", "teacher")
	watcher := connect(t, c, users, "bob", "student")
	presenter.authenticate(c, "alice")
	presenter.join(c, "class-1", true)
	watcher.authenticate(c, "bob")
	watcher.join(c, "class-1", false)

	c.HandleMessage(presenter.peer, NewMessage(EventScreenShareStart, nil))
	c.Disconnect(presenter.peer)

	// The stop lands before the leave so nobody is left watching a ghost presenter.
	events := watcher.sink.events()
	stopIdx, leftIdx := -1, -1
	for i, e := range events {
		switch e {
		case EventScreenShareStopped:
			stopIdx = i
		case EventUserLeft:
			leftIdx = i
		}
	}
	require.GreaterOrEqual(t, stopIdx, 0)
	require.GreaterOrEqual(t, leftIdx, 0)
	assert.Less(t, stopIdx, leftIdx)
	assert.Equal(t, uuid.Nil, c.Room("class-1").Presenter())
}

func TestRoomDestroyedWhenLastParticipantLeaves(t *testing.T) {
	c, users := newTestHarness(t)
	var closedSession string
	c.SetRoomClosedHandler(func(sessionID string) { closedSession = sessionID })

	solo := connect(t, c, users, "alice", "teacher")
	solo.authenticate(c, "alice")
	solo.join(c, "class-1", true)
	require.Equal(t, 1, c.RoomCount())

	c.Disconnect(solo.peer)
	assert.Equal(t, 0, c.RoomCount())
	assert.Nil(t, c.Room("class-1"))
	assert.Equal(t, "class-1", closedSession)
}

func TestLateMessagesAfterLeaveAreNoOps(t *testing.T) {
	c, users := newTestHarness(t)
	tp := connect(t, c, users, "alice", "teacher")
	tp.authenticate(c, "alice")
	tp.join(c, "class-1", true)
	c.Disconnect(tp.peer)

	// A second disconnect and a late screen share change nothing.
	c.Disconnect(tp.peer)
	c.HandleMessage(tp.peer, NewMessage(EventScreenShareStop, nil))
	assert.Equal(t, 0, c.RoomCount())
}

func TestRoomsAreIndependent(t *testing.T) {
	c, users := newTestHarness(t)
	a := connect(t, c, users, "alice", "teacher")
	b := connect(t, c, users, "bob", "teacher")
	a.authenticate(c, "alice")
	a.join(c, "class-1", true)
	b.authenticate(c, "bob")
	b.join(c, "class-2", true)
	require.Equal(t, 2, c.RoomCount())

	c.HandleMessage(a.peer, NewMessage(EventScreenShareStart, nil))
	assert.Equal(t, uuid.Nil, c.Room("class-2").Presenter())

	c.Disconnect(a.peer)
	assert.Nil(t, c.Room("class-1"))
	require.NotNil(t, c.Room("class-2"))
	assert.Len(t, c.Room("class-2").Roster(), 1)
}
