// Package seed provides helpers to create demo data for the realtime service.
// These helpers are intended for development and testing only.
package seed

import (
	"fmt"
	"math/rand"
	"time"

	"relay/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is the password every seeded user gets.
const DefaultPassword = "password123"

// Factory builds domain entities and persists them to the database.
type Factory struct {
	db   *gorm.DB
	opts Options
	rng  *rand.Rand
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gofakeit.Seed(seed)
	return &Factory{db: db, opts: opts, rng: rand.New(rand.NewSource(seed))}
}

// CreateUser constructs and persists a sample user.
// Optional override functions may modify the generated user before saving.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	user := &models.User{
		Username: gofakeit.Username() + fmt.Sprintf("%d", gofakeit.Number(100, 999)),
		Email:    gofakeit.Email(),
		Avatar:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", gofakeit.UUID()),
	}

	// Password hashing is skipped in fast mode
	if f.opts.SkipBcrypt {
		user.Password = DefaultPassword
	} else {
		hashed, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.Password = string(hashed)
	}

	for _, override := range overrides {
		override(user)
	}

	if err := f.db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// CreateChat persists a chat between the given users. Two users make a direct chat.
func (f *Factory) CreateChat(users ...*models.User) (*models.Chat, error) {
	chat := &models.Chat{IsGroup: len(users) > 2}
	if chat.IsGroup {
		chat.Name = gofakeit.HipsterWord() + " " + gofakeit.Noun()
	}
	for _, u := range users {
		chat.Participants = append(chat.Participants, models.ChatParticipant{UserID: u.ID})
	}
	if err := f.db.Create(chat).Error; err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// CreateMessages writes n messages with random senders from the chat's participants,
// oldest first, and keeps the chat's last-message pointer and unread counters in step.
func (f *Factory) CreateMessages(chat *models.Chat, n int) ([]models.Message, error) {
	if len(chat.Participants) == 0 || n <= 0 {
		return nil, nil
	}

	start := time.Now().Add(-time.Duration(n) * time.Minute)
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		sender := chat.Participants[f.rng.Intn(len(chat.Participants))].UserID
		msg := models.Message{
			ChatID:      chat.ID,
			SenderID:    sender,
			Content:     fakeMessage(),
			MessageType: models.MessageTypeText,
			CreatedAt:   start.Add(time.Duration(i) * time.Minute),
		}
		if err := f.db.Create(&msg).Error; err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}
		chat.RecordMessage(&msg)
		out = append(out, msg)
	}

	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(chat).Updates(map[string]interface{}{
			"last_message_id": chat.LastMessageID,
			"last_message_at": chat.LastMessageAt,
		}).Error; err != nil {
			return err
		}
		for _, p := range chat.Participants {
			if err := tx.Model(&models.ChatParticipant{}).
				Where("chat_id = ? AND user_id = ?", chat.ID, p.UserID).
				Update("unread_count", p.UnreadCount).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}
	return out, nil
}

// CreateNotification persists a notification of a random type from sender to recipient.
func (f *Factory) CreateNotification(recipient, sender *models.User) (*models.Notification, error) {
	types := []models.NotificationType{
		models.NotificationLike,
		models.NotificationComment,
		models.NotificationFollow,
		models.NotificationMention,
	}
	n := &models.Notification{
		RecipientID: recipient.ID,
		SenderID:    sender.ID,
		Type:        types[f.rng.Intn(len(types))],
		IsRead:      f.rng.Intn(3) == 0,
	}
	if n.Type != models.NotificationFollow {
		postID := uint(gofakeit.Number(1, 5000))
		n.PostID = &postID
	}
	if err := f.db.Create(n).Error; err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

func fakeMessage() string {
	content := gofakeit.Sentence(gofakeit.Number(3, 18))
	if len([]rune(content)) > models.MaxMessageContentLen {
		content = string([]rune(content)[:models.MaxMessageContentLen])
	}
	return content
}
