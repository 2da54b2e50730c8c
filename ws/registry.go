package ws

import (
	"sync"

	"github.com/polyglot-chat/polyglot/globals"
)

// Registry tracks the connection <-> room associations. It maintains a
// bidirectional index: a connection id is in rooms[roomId] iff roomId is in
// that client's joined-room set, and both directions are only ever updated
// together under the registry lock. Broadcast target sets are read under the
// same lock, so a client's Send channel is never written after Disconnect
// closed it.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client            // connection id -> client
	rooms   map[string]map[string]*Client // room id -> connection id -> client
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

// Register adds a freshly connected client. Identity fields stay unset until
// the first successful join.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Id] = c
}

// Join binds the client's identity and adds the membership in both index
// directions. Rejoining a room the client is already in only updates the
// identity and reports alreadyMember.
func (r *Registry) Join(c *Client, roomId, userId, username, language string) (alreadyMember bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.Id]; !ok {
		return false
	}
	c.UserId = userId
	c.Username = username
	c.Language = language
	if _, ok := c.rooms[roomId]; ok {
		return true
	}
	c.rooms[roomId] = struct{}{}
	members := r.rooms[roomId]
	if members == nil {
		members = make(map[string]*Client)
		r.rooms[roomId] = members
	}
	members[c.Id] = c
	return false
}

// Leave removes the membership in both index directions. It reports whether
// the client actually was a member; leaving a room one is not in is not an
// error.
func (r *Registry) Leave(c *Client, roomId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeMembership(c, roomId)
}

// Disconnect removes the client from every room it belonged to, discards the
// connection record and closes the Send channel. It returns the ids of the
// rooms that were left. Safe to call for clients that never joined anything.
func (r *Registry) Disconnect(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.Id]; !ok {
		return nil
	}
	left := make([]string, 0, len(c.rooms))
	for roomId := range c.rooms {
		left = append(left, roomId)
	}
	for _, roomId := range left {
		r.removeMembership(c, roomId)
	}
	delete(r.clients, c.Id)
	close(c.Send)
	return left
}

// removeMembership updates both index directions, pruning empty member sets.
// Callers must hold the write lock.
func (r *Registry) removeMembership(c *Client, roomId string) bool {
	if _, ok := c.rooms[roomId]; !ok {
		return false
	}
	delete(c.rooms, roomId)
	if members, ok := r.rooms[roomId]; ok {
		delete(members, c.Id)
		if len(members) == 0 {
			delete(r.rooms, roomId)
		}
	}
	return true
}

// IsMember reports whether the client currently belongs to the room.
func (r *Registry) IsMember(c *Client, roomId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := c.rooms[roomId]
	return ok
}

// Identity returns the identity bound to the connection. ok is false until
// the client has joined a room at least once.
func (r *Registry) Identity(c *Client) (userId, username string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, registered := r.clients[c.Id]; !registered {
		return "", "", false
	}
	return c.UserId, c.Username, c.UserId != ""
}

// TargetLanguages returns the distinct preferred languages of the room's
// currently joined members.
func (r *Registry) TargetLanguages(roomId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	languages := make([]string, 0)
	for _, member := range r.rooms[roomId] {
		if _, ok := seen[member.Language]; ok {
			continue
		}
		seen[member.Language] = struct{}{}
		languages = append(languages, member.Language)
	}
	return languages
}

// SendTo delivers a raw frame to one client if it is still registered.
func (r *Registry) SendTo(c *Client, data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.clients[c.Id]; !ok {
		return
	}
	r.push(c, data)
}

// Broadcast delivers a raw frame to every member of the room, optionally
// excluding one client.
func (r *Registry) Broadcast(roomId string, data []byte, except *Client) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, member := range r.rooms[roomId] {
		if member == except {
			continue
		}
		r.push(member, data)
	}
}

// push must be called with at least the read lock held, which guarantees the
// Send channel is not yet closed. Slow consumers have their frame dropped
// rather than stalling the whole room.
func (r *Registry) push(c *Client, data []byte) {
	select {
	case c.Send <- data:
	default:
		globals.AppLogger.Warn("send buffer full, dropping frame", "connection", c.Id)
	}
}
