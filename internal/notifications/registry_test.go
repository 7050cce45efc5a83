package notifications

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestClient(id string, userID uint) *Client {
	return &Client{ID: id, UserID: userID, Username: "user" + id, Send: make(chan []byte, 16)}
}

func TestSessionRegistry_LaterRegistrationSupersedes(t *testing.T) {
	r := NewSessionRegistry()
	first := newTestClient("a", 1)
	second := newTestClient("b", 1)

	assert.Nil(t, r.Register(first))
	assert.Same(t, first, r.Register(second))

	got, ok := r.Lookup(1)
	assert.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Len())
}

func TestSessionRegistry_StaleUnregisterKeepsNewer(t *testing.T) {
	r := NewSessionRegistry()
	first := newTestClient("a", 1)
	second := newTestClient("b", 1)
	r.Register(first)
	r.Register(second)

	assert.False(t, r.Unregister(first))
	got, ok := r.Lookup(1)
	assert.True(t, ok)
	assert.Same(t, second, got)

	assert.True(t, r.Unregister(second))
	_, ok = r.Lookup(1)
	assert.False(t, ok)
	assert.False(t, r.Unregister(second))
}

func TestSessionRegistry_ReRegisterSameClient(t *testing.T) {
	r := NewSessionRegistry()
	c := newTestClient("a", 3)
	r.Register(c)
	assert.Nil(t, r.Register(c))
	assert.Len(t, r.Clients(), 1)
}

func TestSessionRegistry_UnregisterOlder(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Now()
	c := newTestClient("a", 1)
	c.ConnectedAt = now
	r.Register(c)

	assert.Nil(t, r.UnregisterOlder(1, now.Add(-time.Second)))
	assert.Nil(t, r.UnregisterOlder(1, now))
	assert.Nil(t, r.UnregisterOlder(2, now.Add(time.Second)))

	assert.Same(t, c, r.UnregisterOlder(1, now.Add(time.Second)))
	_, ok := r.Lookup(1)
	assert.False(t, ok)
}
