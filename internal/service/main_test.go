package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"relay/internal/database"
	"relay/internal/models"
	"relay/internal/notifications"
	"relay/internal/repository"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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

// seedChat creates one user per name and a chat between all of them.
func seedChat(t *testing.T, db *gorm.DB, names ...string) ([]models.User, models.Chat) {
	t.Helper()
	users := make([]models.User, 0, len(names))
	chat := models.Chat{IsGroup: len(names) > 2}
	for _, name := range names {
		u := models.User{Username: name, Email: name + "@example.com", Password: "x", Avatar: name + ".png"}
		require.NoError(t, db.Create(&u).Error)
		users = append(users, u)
		chat.Participants = append(chat.Participants, models.ChatParticipant{UserID: u.ID})
	}
	require.NoError(t, db.Create(&chat).Error)
	return users, chat
}

type broadcastCall struct {
	ChatID      uint
	Event       string
	Payload     any
	ExcludeUser uint
}

type emitCall struct {
	UserID  uint
	Event   string
	Payload any
}

// recordingGateway captures deliveries instead of writing to sockets.
type recordingGateway struct {
	mu         sync.Mutex
	online     map[uint]bool
	broadcasts []broadcastCall
	emits      []emitCall
	cleared    []uint
}

func newRecordingGateway(online ...uint) *recordingGateway {
	g := &recordingGateway{online: make(map[uint]bool)}
	for _, id := range online {
		g.online[id] = true
	}
	return g
}

func (g *recordingGateway) BroadcastToChat(_ context.Context, chatID uint, event string, payload any, excludeUser uint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcasts = append(g.broadcasts, broadcastCall{chatID, event, payload, excludeUser})
	return nil
}

func (g *recordingGateway) EmitToUser(_ context.Context, userID uint, event string, payload any) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.online[userID] {
		return false
	}
	g.emits = append(g.emits, emitCall{userID, event, payload})
	return true
}

func (g *recordingGateway) ClearTyping(_ context.Context, chatID, _ uint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleared = append(g.cleared, chatID)
	return true
}

// chatRepoStub delegates to a real repository unless a hook overrides the call.
type chatRepoStub struct {
	repository.ChatRepository
	findChatFn      func(context.Context, uint) (*models.Chat, error)
	createMessageFn func(context.Context, *models.Message) error
	saveChatFn      func(context.Context, *models.Chat) error
	saveChatCalls   int
}

func (s *chatRepoStub) FindChatByID(ctx context.Context, id uint) (*models.Chat, error) {
	if s.findChatFn != nil {
		return s.findChatFn(ctx, id)
	}
	return s.ChatRepository.FindChatByID(ctx, id)
}

func (s *chatRepoStub) CreateMessage(ctx context.Context, msg *models.Message) error {
	if s.createMessageFn != nil {
		return s.createMessageFn(ctx, msg)
	}
	return s.ChatRepository.CreateMessage(ctx, msg)
}

func (s *chatRepoStub) SaveChat(ctx context.Context, chat *models.Chat, senderID uint) error {
	s.saveChatCalls++
	if s.saveChatFn != nil {
		return s.saveChatFn(ctx, chat)
	}
	return s.ChatRepository.SaveChat(ctx, chat, senderID)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, in NotifyInput) (*models.Notification, error) {
	args := m.Called(ctx, in)
	n, _ := args.Get(0).(*models.Notification)
	return n, args.Error(1)
}

func newTestConn(id string, user models.User) *notifications.Client {
	return &notifications.Client{
		ID:       id,
		UserID:   user.ID,
		Username: user.Username,
		Avatar:   user.Avatar,
		Send:     make(chan []byte, 32),
	}
}

func readFrame(t *testing.T, c *notifications.Client) notifications.Frame {
	t.Helper()
	select {
	case raw := <-c.Send:
		var f notifications.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame queued for user %d", c.UserID)
		return notifications.Frame{}
	}
}

func requireNoFrame(t *testing.T, c *notifications.Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("unexpected frame for user %d: %s", c.UserID, raw)
	default:
	}
}
