package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/polyglot-chat/polyglot/config"
	"github.com/polyglot-chat/polyglot/persistence"
	"github.com/polyglot-chat/polyglot/ratelimit"
	"github.com/polyglot-chat/polyglot/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePersister struct {
	mu       sync.Mutex
	rooms    map[string]*types.Room // by id
	saved    []types.Message
	failSave bool
}

func newFakePersister(rooms ...*types.Room) *fakePersister {
	p := &fakePersister{rooms: make(map[string]*types.Room)}
	for _, room := range rooms {
		p.rooms[room.Id] = room
	}
	return p
}

func (p *fakePersister) StoreUser(types.User) error                  { return nil }
func (p *fakePersister) GetUser(*types.User) error                   { return persistence.ErrNotFound }
func (p *fakePersister) GetUserByName(string) (*types.User, error)   { return nil, persistence.ErrNotFound }
func (p *fakePersister) GetUsers() ([]*types.User, error)            { return nil, nil }
func (p *fakePersister) UpdateUserLanguage(string, string) error     { return nil }
func (p *fakePersister) Close() error                                { return nil }

func (p *fakePersister) StoreRoom(room types.Room) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms[room.Id] = &room
	return nil
}

func (p *fakePersister) GetRoom(room *types.Room) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if found, ok := p.rooms[room.Id]; ok {
		*room = *found
		return nil
	}
	return persistence.ErrNotFound
}

func (p *fakePersister) GetRoomByName(name string) (*types.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, room := range p.rooms {
		if room.Name == name {
			return room, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (p *fakePersister) GetRooms() ([]*types.Room, error) { return nil, nil }

func (p *fakePersister) GetOrCreateRoom(name string) (*types.Room, error) {
	if room, err := p.GetRoomByName(name); err == nil {
		return room, nil
	}
	room := &types.Room{Id: "auto-" + name, Name: name, CreatedAt: time.Now()}
	_ = p.StoreRoom(*room)
	return room, nil
}

func (p *fakePersister) SaveMessage(msg *types.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSave {
		return errors.New("storage unavailable")
	}
	msg.Id = "m1"
	msg.Timestamp = time.Now().UTC()
	p.saved = append(p.saved, *msg)
	return nil
}

func (p *fakePersister) savedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saved)
}

func (p *fakePersister) GetMessages(string, int) ([]types.Message, error) { return nil, nil }
func (p *fakePersister) GetCachedTranslation(string, string, string) (string, bool, error) {
	return "", false, nil
}
func (p *fakePersister) CacheTranslation(string, string, string, string) error { return nil }

type fakeEnricher struct {
	source     string
	moderation types.ModerationResult
}

func (f *fakeEnricher) DetectLanguage(context.Context, string) string { return f.source }

func (f *fakeEnricher) ModerateContent(context.Context, string) types.ModerationResult {
	return f.moderation
}

func (f *fakeEnricher) TranslateForUsers(_ context.Context, text, source string, targets []string) map[string]string {
	translations := make(map[string]string, len(targets))
	for _, target := range targets {
		if target == source {
			translations[target] = text
		} else {
			translations[target] = target + ":" + text
		}
	}
	return translations
}

func newTestHub(persister persistence.Persister) *Hub {
	return NewHub(
		&config.Config{},
		persister,
		&fakeEnricher{source: "es"},
		ratelimit.New(10, time.Minute),
	)
}

// nextEvent pops one frame from the client's send buffer.
func nextEvent(t *testing.T, c *Client) types.WebsocketMessage {
	t.Helper()
	select {
	case raw := <-c.Send:
		message := types.WebsocketMessage{}
		require.NoError(t, json.Unmarshal(raw, &message))
		return message
	default:
		t.Fatal("expected an event, send buffer is empty")
		return types.WebsocketMessage{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		message := types.WebsocketMessage{}
		_ = json.Unmarshal(raw, &message)
		t.Fatalf("expected no event, got %q", message.Event)
	default:
	}
}

func join(h *Hub, c *Client, roomRef, userId, username, language string) {
	h.Registry.Register(c)
	h.HandleJoin(c, types.JoinRoomPayload{
		UserId:   userId,
		Username: username,
		RoomRef:  roomRef,
		Language: language,
	})
	// drop the joined_room ack
	<-c.Send
}

func TestJoinAcknowledgesAndNotifiesOthers(t *testing.T) {
	h := newTestHub(newFakePersister(&types.Room{Id: "r1", Name: "lobby"}))
	a := newTestClient()
	h.Registry.Register(a)

	h.HandleJoin(a, types.JoinRoomPayload{UserId: "u1", Username: "alice", RoomRef: "r1", Language: "en"})
	message := nextEvent(t, a)
	assert.Equal(t, types.EventJoinedRoom, message.Event)
	joined := types.JoinedRoomPayload{}
	require.NoError(t, json.Unmarshal(message.Data, &joined))
	assert.Equal(t, "r1", joined.RoomId)
	assert.Equal(t, "lobby", joined.RoomName)

	b := newTestClient()
	h.Registry.Register(b)
	h.HandleJoin(b, types.JoinRoomPayload{UserId: "u2", Username: "bob", RoomRef: "lobby", Language: "es"})
	assert.Equal(t, types.EventJoinedRoom, nextEvent(t, b).Event)
	// the new member is announced to the existing member only
	message = nextEvent(t, a)
	assert.Equal(t, types.EventUserJoined, message.Event)
	assertNoEvent(t, b)
}

func TestRejoinDoesNotAnnounceAgain(t *testing.T) {
	h := newTestHub(newFakePersister(&types.Room{Id: "r1", Name: "lobby"}))
	a, b := newTestClient(), newTestClient()
	join(h, a, "r1", "u1", "alice", "en")
	join(h, b, "r1", "u2", "bob", "es")
	<-a.Send // user_joined about bob

	h.HandleJoin(b, types.JoinRoomPayload{UserId: "u2", Username: "bob", RoomRef: "r1", Language: "fr"})
	assert.Equal(t, types.EventJoinedRoom, nextEvent(t, b).Event)
	assertNoEvent(t, a)
	// the preferred language was still updated
	assert.ElementsMatch(t, []string{"en", "fr"}, h.Registry.TargetLanguages("r1"))
}

func TestJoinUnknownRoom(t *testing.T) {
	persister := newFakePersister()
	h := newTestHub(persister)
	c := newTestClient()
	h.Registry.Register(c)

	h.HandleJoin(c, types.JoinRoomPayload{UserId: "u1", Username: "alice", RoomRef: "secret"})
	message := nextEvent(t, c)
	assert.Equal(t, types.EventError, message.Event)
	errPayload := types.ErrorPayload{}
	require.NoError(t, json.Unmarshal(message.Data, &errPayload))
	assert.Contains(t, errPayload.Message, "not found")

	// "general" is auto-created when referenced but absent
	h.HandleJoin(c, types.JoinRoomPayload{UserId: "u1", Username: "alice", RoomRef: "General"})
	message = nextEvent(t, c)
	assert.Equal(t, types.EventJoinedRoom, message.Event)
	room, err := persister.GetRoomByName("general")
	require.NoError(t, err)
	assert.True(t, h.Registry.IsMember(c, room.Id))
}

func TestJoinRequiresIdentity(t *testing.T) {
	h := newTestHub(newFakePersister(&types.Room{Id: "r1", Name: "lobby"}))
	c := newTestClient()
	h.Registry.Register(c)

	h.HandleJoin(c, types.JoinRoomPayload{RoomRef: "r1"})
	message := nextEvent(t, c)
	assert.Equal(t, types.EventError, message.Event)
}

func TestSendMessageBroadcastsEnriched(t *testing.T) {
	persister := newFakePersister(&types.Room{Id: "r1", Name: "lobby"})
	h := newTestHub(persister)
	a, b := newTestClient(), newTestClient()
	join(h, a, "r1", "u1", "alice", "es")
	join(h, b, "r1", "u2", "bob", "en")
	<-a.Send // user_joined about bob

	h.HandleSendMessage(a, types.SendMessagePayload{RoomId: "r1", Text: "  hola  "})

	// every member receives the message, including the sender
	for _, c := range []*Client{a, b} {
		message := nextEvent(t, c)
		require.Equal(t, types.EventReceiveMessage, message.Event)
		msg := types.Message{}
		require.NoError(t, json.Unmarshal(message.Data, &msg))
		assert.Equal(t, "m1", msg.Id)
		assert.Equal(t, "hola", msg.OriginalText)
		assert.Equal(t, "es", msg.SourceLanguage)
		assert.Equal(t, "alice", msg.Username)
		assert.Equal(t, "hola", msg.Translations["es"])
		assert.Equal(t, "en:hola", msg.Translations["en"])
	}
	assert.Equal(t, 1, persister.savedCount())
}

func TestSendMessageNotAuthenticated(t *testing.T) {
	persister := newFakePersister()
	h := newTestHub(persister)
	c := newTestClient()
	h.Registry.Register(c)

	h.HandleSendMessage(c, types.SendMessagePayload{RoomId: "r1", Text: "hello"})
	message := nextEvent(t, c)
	assert.Equal(t, types.EventError, message.Event)
	errPayload := types.ErrorPayload{}
	require.NoError(t, json.Unmarshal(message.Data, &errPayload))
	assert.Contains(t, errPayload.Message, "Not authenticated")
	assert.Equal(t, 0, persister.savedCount())
}

func TestSendMessageNotInRoom(t *testing.T) {
	persister := newFakePersister(&types.Room{Id: "r1", Name: "lobby"}, &types.Room{Id: "r2", Name: "dev"})
	h := newTestHub(persister)
	a, b := newTestClient(), newTestClient()
	join(h, a, "r1", "u1", "alice", "en")
	join(h, b, "r2", "u2", "bob", "en")

	h.HandleSendMessage(a, types.SendMessagePayload{RoomId: "r2", Text: "hello"})
	message := nextEvent(t, a)
	assert.Equal(t, types.EventError, message.Event)
	errPayload := types.ErrorPayload{}
	require.NoError(t, json.Unmarshal(message.Data, &errPayload))
	assert.Contains(t, errPayload.Message, "not in this room")

	// no persisted message, no broadcast
	assert.Equal(t, 0, persister.savedCount())
	assertNoEvent(t, b)
}

func TestEmptyMessageDoesNotConsumeRateLimit(t *testing.T) {
	persister := newFakePersister(&types.Room{Id: "r1", Name: "lobby"})
	h := newTestHub(persister)
	h.Limiter = ratelimit.New(1, time.Minute)
	c := newTestClient()
	join(h, c, "r1", "u1", "alice", "en")

	h.HandleSendMessage(c, types.SendMessagePayload{RoomId: "r1", Text: "   "})
	message := nextEvent(t, c)
	assert.Equal(t, types.EventError, message.Event)

	// the rejected empty message left the single rate limit slot free
	h.HandleSendMessage(c, types.SendMessagePayload{RoomId: "r1", Text: "hello"})
	assert.Equal(t, types.EventReceiveMessage, nextEvent(t, c).Event)

	h.HandleSendMessage(c, types.SendMessagePayload{RoomId: "r1", Text: "again"})
	message = nextEvent(t, c)
	assert.Equal(t, types.EventError, message.Event)
	errPayload := types.ErrorPayload{}
	require.NoError(t, json.Unmarshal(message.Data, &errPayload))
	assert.Contains(t, errPayload.Message, "Rate limit exceeded")
}

func TestSendMessageSurvivesStorageFailure(t *testing.T) {
	persister := newFakePersister(&types.Room{Id: "r1", Name: "lobby"})
	persister.failSave = true
	h := newTestHub(persister)
	c := newTestClient()
	join(h, c, "r1", "u1", "alice", "en")

	h.HandleSendMessage(c, types.SendMessagePayload{RoomId: "r1", Text: "hello"})

	// broadcast still happens, with a locally assigned id and timestamp
	message := nextEvent(t, c)
	require.Equal(t, types.EventReceiveMessage, message.Event)
	msg := types.Message{}
	require.NoError(t, json.Unmarshal(message.Data, &msg))
	assert.NotEmpty(t, msg.Id)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestTypingIndicator(t *testing.T) {
	persister := newFakePersister(&types.Room{Id: "r1", Name: "lobby"})
	h := newTestHub(persister)
	a, b := newTestClient(), newTestClient()
	join(h, a, "r1", "u1", "alice", "en")
	join(h, b, "r1", "u2", "bob", "es")
	<-a.Send // user_joined about bob

	h.HandleTyping(a, types.UserTypingPayload{RoomId: "r1", IsTyping: true})

	// only the other member is notified
	message := nextEvent(t, b)
	require.Equal(t, types.EventUserTyping, message.Event)
	typing := types.UserTypingBroadcast{}
	require.NoError(t, json.Unmarshal(message.Data, &typing))
	assert.Equal(t, "alice", typing.Username)
	assert.True(t, typing.IsTyping)
	assertNoEvent(t, a)

	// typing outside of a joined room is silently ignored
	h.HandleTyping(a, types.UserTypingPayload{RoomId: "r9", IsTyping: true})
	assertNoEvent(t, a)
	assertNoEvent(t, b)
}

func TestDisconnectNotifiesEachRoomOnce(t *testing.T) {
	persister := newFakePersister(&types.Room{Id: "r1", Name: "lobby"}, &types.Room{Id: "r2", Name: "dev"})
	h := newTestHub(persister)
	a, b := newTestClient(), newTestClient()
	join(h, a, "r1", "u1", "alice", "en")
	join(h, a, "r2", "u1", "alice", "en")
	join(h, b, "r1", "u2", "bob", "es")
	join(h, b, "r2", "u2", "bob", "es")
	<-a.Send // user_joined about bob in r1
	<-a.Send // user_joined about bob in r2

	h.HandleDisconnect(b)

	rooms := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		message := nextEvent(t, a)
		require.Equal(t, types.EventUserLeft, message.Event)
		left := types.UserLeftPayload{}
		require.NoError(t, json.Unmarshal(message.Data, &left))
		assert.Equal(t, "bob", left.Username)
		rooms = append(rooms, left.RoomId)
	}
	assert.ElementsMatch(t, []string{"r1", "r2"}, rooms)
	assertNoEvent(t, a)
	assertIndexConsistent(t, h.Registry)
}

func TestLeaveRoom(t *testing.T) {
	persister := newFakePersister(&types.Room{Id: "r1", Name: "lobby"})
	h := newTestHub(persister)
	a, b := newTestClient(), newTestClient()
	join(h, a, "r1", "u1", "alice", "en")
	join(h, b, "r1", "u2", "bob", "es")
	<-a.Send // user_joined about bob

	h.HandleLeave(b, types.LeaveRoomPayload{RoomId: "r1"})

	assert.Equal(t, types.EventLeftRoom, nextEvent(t, b).Event)
	message := nextEvent(t, a)
	require.Equal(t, types.EventUserLeft, message.Event)

	// leaving again acknowledges but does not notify the room
	h.HandleLeave(b, types.LeaveRoomPayload{RoomId: "r1"})
	assert.Equal(t, types.EventLeftRoom, nextEvent(t, b).Event)
	assertNoEvent(t, a)
}
