package seed

import (
	"fmt"

	"relay/internal/models"
	"relay/internal/observability"

	"gorm.io/gorm"
)

// Options configures the seeder.
type Options struct {
	NumUsers        int
	MessagesPerChat int
	Notifications   int
	SkipBcrypt      bool
	// RandSeed makes a run reproducible; zero means time based.
	RandSeed int64
}

// Result lists what a run created.
type Result struct {
	Users         []*models.User
	Chats         []*models.Chat
	Messages      int
	Notifications int
}

// Seeder fills the database with users, direct chats, messages and notifications.
type Seeder struct {
	db *gorm.DB
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{db: db}
}

// ClearAll removes every row the realtime service owns, children first.
func (s *Seeder) ClearAll() error {
	tables := []any{
		&models.Notification{},
		&models.MessageReadReceipt{},
		&models.Message{},
		&models.ChatParticipant{},
		&models.Chat{},
		&models.User{},
	}
	for _, t := range tables {
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(t).Error; err != nil {
			return fmt.Errorf("clear %T: %w", t, err)
		}
	}
	observability.GlobalLogger.Info("seed: database cleared")
	return nil
}

// Seed creates opts.NumUsers users and a direct chat between every consecutive pair,
// plus one group chat when there are at least three users.
func (s *Seeder) Seed(opts Options) (*Result, error) {
	if opts.NumUsers < 2 {
		return nil, fmt.Errorf("need at least 2 users, got %d", opts.NumUsers)
	}

	f := NewFactory(s.db, opts)
	res := &Result{}

	for i := 0; i < opts.NumUsers; i++ {
		u, err := f.CreateUser()
		if err != nil {
			return nil, err
		}
		res.Users = append(res.Users, u)
	}

	for i := 0; i+1 < len(res.Users); i++ {
		chat, err := f.CreateChat(res.Users[i], res.Users[i+1])
		if err != nil {
			return nil, err
		}
		res.Chats = append(res.Chats, chat)
	}
	if len(res.Users) >= 3 {
		chat, err := f.CreateChat(res.Users...)
		if err != nil {
			return nil, err
		}
		res.Chats = append(res.Chats, chat)
	}

	for _, chat := range res.Chats {
		msgs, err := f.CreateMessages(chat, opts.MessagesPerChat)
		if err != nil {
			return nil, err
		}
		res.Messages += len(msgs)
	}

	for i := 0; i < opts.Notifications; i++ {
		recipient := res.Users[i%len(res.Users)]
		sender := res.Users[(i+1)%len(res.Users)]
		if _, err := f.CreateNotification(recipient, sender); err != nil {
			return nil, err
		}
		res.Notifications++
	}

	observability.GlobalLogger.Info("seed: completed",
		"users", len(res.Users), "chats", len(res.Chats),
		"messages", res.Messages, "notifications", res.Notifications)
	return res, nil
}
