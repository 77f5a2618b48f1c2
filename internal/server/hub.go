package server

import (
	"log"
	"sync"

	"github.com/npezzotti/go-messenger/internal/stats"
)

const inboxRoomPrefix = "inbox_"

// InboxRoom is the room every connection of the user with this email
// joins to receive inbox updates.
func InboxRoom(email string) string {
	return inboxRoomPrefix + email
}

// Hub tracks live connections per user and the rooms each connection
// joined. Deliveries are snapshotted under the lock and queued outside it.
type Hub struct {
	log   *log.Logger
	stats stats.StatsProvider

	mu      sync.RWMutex
	clients map[*Client]map[string]struct{}
	users   map[int]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

func NewHub(logger *log.Logger, sp stats.StatsProvider) *Hub {
	return &Hub{
		log:     logger,
		stats:   sp,
		clients: make(map[*Client]map[string]struct{}),
		users:   make(map[int]map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		h.mu.Unlock()
		return
	}

	h.clients[c] = make(map[string]struct{})
	conns, ok := h.users[c.userId()]
	if !ok {
		conns = make(map[*Client]struct{})
		h.users[c.userId()] = conns
	}
	conns[c] = struct{}{}
	firstConn := len(conns) == 1
	h.mu.Unlock()

	h.stats.Incr(stats.NumActiveClients)
	if firstConn {
		h.stats.Incr(stats.NumOnlineUsers)
	}
}

// Unregister removes c from every room it joined and forgets it.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	joined, ok := h.clients[c]
	if !ok {
		h.mu.Unlock()
		return
	}

	for room := range joined {
		h.removeFromRoomLocked(c, room)
	}
	delete(h.clients, c)

	lastConn := false
	if conns, ok := h.users[c.userId()]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, c.userId())
			lastConn = true
		}
	}
	h.mu.Unlock()

	h.stats.Decr(stats.NumActiveClients)
	if lastConn {
		h.stats.Decr(stats.NumOnlineUsers)
	}
}

// Join adds a registered connection to room. It reports false for
// connections the hub does not know.
func (h *Hub) Join(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.clients[c]
	if !ok {
		return false
	}

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	joined[room] = struct{}{}
	return true
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(c, room)
}

func (h *Hub) removeFromRoomLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.clients[c]; ok {
		delete(joined, room)
	}
}

// Emit queues msg to every connection in room except skip and returns how
// many connections accepted it.
func (h *Hub) Emit(room string, msg *ServerMessage, skip *Client) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != skip {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if c.queueMessage(msg) {
			n++
		}
	}
	return n
}

// EvictUser removes every connection of userId from room.
func (h *Hub) EvictUser(room string, userId int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.users[userId] {
		h.removeFromRoomLocked(c, room)
	}
}

// CloseRoom removes every connection from room.
func (h *Hub) CloseRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[room] {
		if joined, ok := h.clients[c]; ok {
			delete(joined, room)
		}
	}
	delete(h.rooms, room)
}

func (h *Hub) IsOnline(userId int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userId]) > 0
}

func (h *Hub) Connections(userId int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userId])
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// InRoom reports whether c joined room.
func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[c][room]
	return ok
}

// Clients returns a snapshot of every registered connection.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}
