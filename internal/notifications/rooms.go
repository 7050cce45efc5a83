package notifications

import (
	"strconv"
	"sync"
)

// ChatRoom names the broadcast group of a chat.
func ChatRoom(chatID uint) string {
	return "chat:" + strconv.FormatUint(uint64(chatID), 10)
}

// UserRoom names the private room of a user.
func UserRoom(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10)
}

// Rooms is the many-to-many membership between connections and rooms.
type Rooms struct {
	mu       sync.RWMutex
	members  map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{}
}

// NewRooms returns an empty membership table.
func NewRooms() *Rooms {
	return &Rooms{
		members:  make(map[string]map[*Client]struct{}),
		byClient: make(map[*Client]map[string]struct{}),
	}
}

// Join adds c to room and reports whether it was not already a member.
func (r *Rooms) Join(room string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[room]
	if !ok {
		m = make(map[*Client]struct{})
		r.members[room] = m
	}
	if _, exists := m[c]; exists {
		return false
	}
	m[c] = struct{}{}

	joined, ok := r.byClient[c]
	if !ok {
		joined = make(map[string]struct{})
		r.byClient[c] = joined
	}
	joined[room] = struct{}{}
	return true
}

// Leave removes c from room and reports whether it was a member.
func (r *Rooms) Leave(room string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(room, c)
}

func (r *Rooms) leaveLocked(room string, c *Client) bool {
	m, ok := r.members[room]
	if !ok {
		return false
	}
	if _, exists := m[c]; !exists {
		return false
	}
	delete(m, c)
	if len(m) == 0 {
		delete(r.members, room)
	}
	if joined, ok := r.byClient[c]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.byClient, c)
		}
	}
	return true
}

// RemoveClient drops every membership of c and returns how many there were.
func (r *Rooms) RemoveClient(c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined := r.byClient[c]
	n := 0
	for room := range joined {
		if r.leaveLocked(room, c) {
			n++
		}
	}
	return n
}

// Members returns a snapshot of the connections in room.
func (r *Rooms) Members(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.members[room]
	out := make([]*Client, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}

// IsMember reports whether c has joined room.
func (r *Rooms) IsMember(room string, c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[room][c]
	return ok
}

// RoomsOf returns the rooms c has joined.
func (r *Rooms) RoomsOf(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byClient[c]))
	for room := range r.byClient[c] {
		out = append(out, room)
	}
	return out
}
