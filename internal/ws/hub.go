package ws

import (
	"sort"
	"sync"

	"nhooyr.io/websocket"

	"github.com/atharvavshelke/SecureConnect/internal/logging"
	"github.com/atharvavshelke/SecureConnect/internal/protocol"
)

// Hub is the presence registry: at most one live client per identity,
// plus the group broadcast rooms. It is the single source of truth for
// "who is online and through which connection".
type Hub struct {
	mu      sync.RWMutex
	clients map[uint]*Client
	rooms   map[uint]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: map[uint]*Client{},
		rooms:   map[uint]map[*Client]struct{}{},
	}
}

// AddConn wraps a raw connection into an anonymous client and starts its
// write and keep-alive loops. The client is not registered until it
// authenticates.
func (h *Hub) AddConn(conn *websocket.Conn) *Client {
	c := newClient(conn)
	go c.writeLoop()
	go c.keepAliveLoop()
	return c
}

// Register binds the client's identity into the registry. A fresher
// authentication for the same identity overwrites the previous entry
// (last-writer-wins); the displaced connection keeps running but is no
// longer resolvable and loses its room subscriptions.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if old, ok := h.clients[c.UserID()]; ok && old != c {
		h.dropFromRoomsLocked(old)
		logging.Infof("presence: user %d reconnected, displacing previous connection", c.UserID())
	}
	h.clients[c.UserID()] = c
	h.mu.Unlock()
}

// Deregister removes the client on transport close. The identity mapping
// is only deleted if it still points at this exact client, so a stale
// disconnect cannot evict a fresher reconnect. Returns whether the client
// was the live entry for its identity.
func (h *Hub) Deregister(c *Client) bool {
	c.cancel()

	h.mu.Lock()
	h.dropFromRoomsLocked(c)
	live := false
	if c.Authenticated() && h.clients[c.UserID()] == c {
		delete(h.clients, c.UserID())
		live = true
	}
	h.mu.Unlock()

	if c.Conn != nil {
		_ = c.Conn.Close(websocket.StatusNormalClosure, "bye")
	}
	return live
}

func (h *Hub) dropFromRoomsLocked(c *Client) {
	for groupID, room := range h.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, groupID)
		}
	}
}

// Resolve returns the live connection for an identity, or false if the
// user is offline.
func (h *Hub) Resolve(userID uint) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[userID]
	return c, ok
}

// Online reports whether the identity currently has a live connection.
func (h *Hub) Online(userID uint) bool {
	_, ok := h.Resolve(userID)
	return ok
}

// OnlineIDs returns the online set shown to clients: every authenticated
// identity except privileged accounts, in stable order.
func (h *Hub) OnlineIDs() []uint {
	h.mu.RLock()
	ids := make([]uint, 0, len(h.clients))
	for id, c := range h.clients {
		if !c.IsAdmin() {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Broadcast queues an event on every live connection.
func (h *Hub) Broadcast(ev protocol.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.Enqueue(ev)
	}
}

// BroadcastOnline pushes the current online set to everyone.
func (h *Hub) BroadcastOnline() {
	h.Broadcast(protocol.Event{Type: protocol.EventUsersOnline, Data: h.OnlineIDs()})
}

// SendToUser queues an event for one identity. Returns false if the user
// is offline.
func (h *Hub) SendToUser(userID uint, ev protocol.Event) bool {
	c, ok := h.Resolve(userID)
	if !ok {
		return false
	}
	c.Enqueue(ev)
	return true
}

// Subscribe adds the identity's live connection to a group room.
// Idempotent; a no-op if the user has no live connection.
func (h *Hub) Subscribe(userID, groupID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[userID]
	if !ok {
		return
	}
	if h.rooms[groupID] == nil {
		h.rooms[groupID] = map[*Client]struct{}{}
	}
	h.rooms[groupID][c] = struct{}{}
}

// BroadcastGroup queues an event on every connection subscribed to the
// group's room except the named sender.
func (h *Hub) BroadcastGroup(groupID uint, ev protocol.Event, exceptUserID uint) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[groupID] {
		if c.UserID() == exceptUserID {
			continue
		}
		c.Enqueue(ev)
	}
}
