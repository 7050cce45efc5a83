package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name string `json:"name"`
}

func setupMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(mr.Addr())
	require.NoError(t, err)
	SetClient(c)
	t.Cleanup(func() {
		SetClient(nil)
		_ = c.Close()
	})
	return mr
}

func TestAside_MissThenHit(t *testing.T) {
	mr := setupMiniredis(t)
	ctx := context.Background()
	calls := 0

	fetch := func(dest *payload) func() error {
		return func() error {
			calls++
			dest.Name = "alice"
			return nil
		}
	}

	var first payload
	require.NoError(t, Aside(ctx, "user:1", &first, time.Minute, fetch(&first)))
	assert.Equal(t, "alice", first.Name)
	assert.True(t, mr.Exists("user:1"))

	var second payload
	require.NoError(t, Aside(ctx, "user:1", &second, time.Minute, fetch(&second)))
	assert.Equal(t, "alice", second.Name)
	assert.Equal(t, 1, calls)

	require.NoError(t, Invalidate(ctx, "user:1"))
	assert.False(t, mr.Exists("user:1"))
}

func TestAside_FetchErrorNotCached(t *testing.T) {
	mr := setupMiniredis(t)
	boom := errors.New("boom")

	var dest payload
	err := Aside(context.Background(), "user:2", &dest, time.Minute, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("user:2"))
}

func TestHelpers_NoClient(t *testing.T) {
	SetClient(nil)
	ctx := context.Background()

	found, err := GetJSON(ctx, "k", &payload{})
	assert.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, SetJSON(ctx, "k", payload{}, time.Minute))
	assert.NoError(t, Invalidate(ctx, "k"))

	var dest payload
	require.NoError(t, Aside(ctx, "k", &dest, time.Minute, func() error {
		dest.Name = "db"
		return nil
	}))
	assert.Equal(t, "db", dest.Name)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("redis://:bad:url")
	assert.Error(t, err)
}
