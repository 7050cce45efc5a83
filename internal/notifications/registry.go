package notifications

import (
	"sync"
	"time"
)

// SessionRegistry maps a user to their single live connection.
// A later registration for the same user replaces the earlier one.
type SessionRegistry struct {
	mu     sync.RWMutex
	byUser map[uint]*Client
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{byUser: make(map[uint]*Client)}
}

// Register stores c as the user's connection and returns the connection it replaced, if any.
func (r *SessionRegistry) Register(c *Client) (superseded *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byUser[c.UserID]
	r.byUser[c.UserID] = c
	if prev == c {
		return nil
	}
	return prev
}

// Unregister removes the user's entry only if it still points at c.
func (r *SessionRegistry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byUser[c.UserID]
	if !ok || cur.ID != c.ID {
		return false
	}
	delete(r.byUser, c.UserID)
	return true
}

// UnregisterOlder removes the user's entry if it connected before t and returns it.
// A connection made at or after t is left in place.
func (r *SessionRegistry) UnregisterOlder(userID uint, t time.Time) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byUser[userID]
	if !ok || !cur.ConnectedAt.Before(t) {
		return nil
	}
	delete(r.byUser, userID)
	return cur
}

// Lookup returns the user's current connection.
func (r *SessionRegistry) Lookup(userID uint) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// Len returns the number of registered users.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Clients returns a snapshot of every registered connection.
func (r *SessionRegistry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.byUser))
	for _, c := range r.byUser {
		out = append(out, c)
	}
	return out
}
