package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relay/internal/config"
	"relay/internal/database"
	"relay/internal/middleware"
	"relay/internal/models"
	"relay/internal/notifications"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret-that-is-long-enough-1234"

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:      testSecret,
		Port:           "0",
		Env:            "test",
		NodeID:         "test-node",
		AllowedOrigins: "*",
		WSTicketTTL:    30 * time.Second,
		WSSendBuffer:   32,
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

type testEnv struct {
	server *Server
	app    *fiber.App
	db     *gorm.DB
	mr     *miniredis.Miniredis
	rdb    *redis.Client
}

// newTestEnv builds a server over sqlite and miniredis. Pass withRedis=false to run
// without a Redis client.
func newTestEnv(t *testing.T, cfg *config.Config, withRedis bool) *testEnv {
	t.Helper()
	env := &testEnv{db: setupTestDB(t)}

	if withRedis {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		t.Cleanup(mr.Close)
		env.mr = mr
		env.rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = env.rdb.Close() })
	}

	s, err := NewServerWithDeps(cfg, env.db, env.rdb)
	require.NoError(t, err)
	env.server = s
	t.Cleanup(func() { _ = s.gateway.Shutdown(context.Background()) })
	env.app = s.NewApp()
	return env
}

func seedUser(t *testing.T, db *gorm.DB, name string) models.User {
	t.Helper()
	u := models.User{Username: name, Email: name + "@example.com", Password: "x", Avatar: name + ".png"}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func seedChat(t *testing.T, db *gorm.DB, users ...models.User) models.Chat {
	t.Helper()
	chat := models.Chat{IsGroup: len(users) > 2}
	for _, u := range users {
		chat.Participants = append(chat.Participants, models.ChatParticipant{UserID: u.ID})
	}
	require.NoError(t, db.Create(&chat).Error)
	return chat
}

func tokenFor(t *testing.T, userID uint) string {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func doRequest(t *testing.T, app *fiber.App, method, target, token string, body io.Reader) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func newTestClient(id string, user models.User) *notifications.Client {
	return &notifications.Client{
		ID:       id,
		UserID:   user.ID,
		Username: user.Username,
		Avatar:   user.Avatar,
		Send:     make(chan []byte, 32),
	}
}

func frame(t *testing.T, eventType string, payload any) []byte {
	t.Helper()
	var raw []byte
	switch p := payload.(type) {
	case string:
		raw = []byte(p)
	default:
		var err error
		raw, err = json.Marshal(p)
		require.NoError(t, err)
	}
	out, err := json.Marshal(notifications.Frame{Type: eventType, Payload: raw})
	require.NoError(t, err)
	return out
}

// nextFrame returns the next queued frame whose type is not in skip.
func nextFrame(t *testing.T, c *notifications.Client, skip ...string) notifications.Frame {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case raw := <-c.Send:
			var f notifications.Frame
			require.NoError(t, json.Unmarshal(raw, &f))
			if contains(skip, f.Type) {
				continue
			}
			return f
		case <-deadline:
			t.Fatalf("no frame queued for user %d", c.UserID)
			return notifications.Frame{}
		}
	}
}

func requireNoFrame(t *testing.T, c *notifications.Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("unexpected frame for user %d: %s", c.UserID, raw)
	case <-time.After(20 * time.Millisecond):
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
