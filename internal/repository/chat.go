package repository

import (
	"context"
	"errors"
	"time"

	"relay/internal/models"
	"relay/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRepository is the persistence collaborator for chats, messages and read receipts.
type ChatRepository interface {
	CreateChat(ctx context.Context, chat *models.Chat) error
	FindChatByID(ctx context.Context, id uint) (*models.Chat, error)
	FindChatWithUsers(ctx context.Context, id uint) (*models.Chat, error)
	FindDirectChat(ctx context.Context, userA, userB uint) (*models.Chat, error)
	ListChatsForUser(ctx context.Context, userID uint, offset, limit int) ([]models.Chat, int64, error)
	SaveChat(ctx context.Context, chat *models.Chat, senderID uint) error
	CreateMessage(ctx context.Context, msg *models.Message) error
	FindMessageByID(ctx context.Context, id uint) (*models.Message, error)
	ListMessages(ctx context.Context, chatID uint, offset, limit int) ([]models.Message, int64, error)
	DeleteMessage(ctx context.Context, id uint) error
	UpdateMessagesReadReceipt(ctx context.Context, chatID, userID uint, readAt time.Time) (int64, error)
	ResetUnreadCount(ctx context.Context, chatID, userID uint) error
}

type chatRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewChatRepository returns the gorm-backed ChatRepository.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db, log: observability.NewRepoLogger("chats")}
}

func (r *chatRepository) CreateChat(ctx context.Context, chat *models.Chat) error {
	defer observability.TrackQuery("create", "chats")()
	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewPersistenceError("failed to create chat", err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"chat_id": chat.ID})
	return nil
}

func (r *chatRepository) FindChatByID(ctx context.Context, id uint) (*models.Chat, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, "FindChatByID", "chats")
	defer span.End()
	defer observability.TrackQuery("find", "chats")()

	var chat models.Chat
	err := r.db.WithContext(ctx).Preload("Participants").First(&chat, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Chat", id)
		}
		span.RecordError(err)
		r.log.LogError(ctx, err, "find")
		return nil, models.NewPersistenceError("failed to load chat", err)
	}
	return &chat, nil
}

// FindChatWithUsers loads a chat with each participant's user record.
func (r *chatRepository) FindChatWithUsers(ctx context.Context, id uint) (*models.Chat, error) {
	defer observability.TrackQuery("find", "chats")()

	var chat models.Chat
	err := r.db.WithContext(ctx).Preload("Participants.User").First(&chat, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Chat", id)
		}
		r.log.LogError(ctx, err, "find")
		return nil, models.NewPersistenceError("failed to load chat", err)
	}
	return &chat, nil
}

// FindDirectChat returns the one-to-one chat between two users.
func (r *chatRepository) FindDirectChat(ctx context.Context, userA, userB uint) (*models.Chat, error) {
	defer observability.TrackQuery("find", "chats")()

	member := func(userID uint) *gorm.DB {
		return r.db.Model(&models.ChatParticipant{}).Select("chat_id").Where("user_id = ?", userID)
	}
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Where("is_group = ?", false).
		Where("id IN (?)", member(userA)).
		Where("id IN (?)", member(userB)).
		Preload("Participants.User").
		Order("id").
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Direct chat with user", userB)
		}
		r.log.LogError(ctx, err, "find")
		return nil, models.NewPersistenceError("failed to find direct chat", err)
	}
	return &chat, nil
}

// ListChatsForUser returns a page of the user's chats, most recently active first,
// together with the total number of chats the user belongs to.
func (r *chatRepository) ListChatsForUser(ctx context.Context, userID uint, offset, limit int) ([]models.Chat, int64, error) {
	defer observability.TrackQuery("list", "chats")()

	scope := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.Chat{}).
			Where("id IN (?)", r.db.Model(&models.ChatParticipant{}).Select("chat_id").Where("user_id = ?", userID))
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		r.log.LogError(ctx, err, "list")
		return nil, 0, models.NewPersistenceError("failed to count chats", err)
	}

	var chats []models.Chat
	err := scope().
		Preload("Participants.User").
		Order("last_message_at IS NULL, last_message_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&chats).Error
	if err != nil {
		r.log.LogError(ctx, err, "list")
		return nil, 0, models.NewPersistenceError("failed to list chats", err)
	}
	return chats, total, nil
}

// SaveChat writes the last-message pointer and the unread counter of every participant
// except senderID, whose counter a new message never changes. Counters are written as
// absolute values, so concurrent savers of the same chat can overwrite each other's
// increments.
func (r *chatRepository) SaveChat(ctx context.Context, chat *models.Chat, senderID uint) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "SaveChat", "chats")
	defer span.End()
	defer observability.TrackQuery("update", "chats")()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Chat{ID: chat.ID}).Updates(map[string]interface{}{
			"last_message_id": chat.LastMessageID,
			"last_message_at": chat.LastMessageAt,
			"updated_at":      time.Now().UTC(),
		}).Error; err != nil {
			return err
		}
		for _, p := range chat.Participants {
			if p.UserID == senderID {
				continue
			}
			if err := tx.Model(&models.ChatParticipant{}).
				Where("chat_id = ? AND user_id = ?", chat.ID, p.UserID).
				Update("unread_count", p.UnreadCount).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		r.log.LogError(ctx, err, "update")
		return models.NewPersistenceError("failed to save chat", err)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"chat_id": chat.ID})
	return nil
}

func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "CreateMessage", "messages")
	defer span.End()
	defer observability.TrackQuery("create", "messages")()

	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(msg).Error; err != nil {
		span.RecordError(err)
		r.log.LogError(ctx, err, "create")
		return models.NewPersistenceError("failed to save message", err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"message_id": msg.ID, "chat_id": msg.ChatID})
	return nil
}

func (r *chatRepository) FindMessageByID(ctx context.Context, id uint) (*models.Message, error) {
	defer observability.TrackQuery("find", "messages")()

	var msg models.Message
	err := r.db.WithContext(ctx).Preload("Sender").First(&msg, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message", id)
		}
		r.log.LogError(ctx, err, "find")
		return nil, models.NewPersistenceError("failed to load message", err)
	}
	return &msg, nil
}

// ListMessages returns one page of a chat's messages, counted back from the newest, in
// chronological order, plus the chat's total message count.
func (r *chatRepository) ListMessages(ctx context.Context, chatID uint, offset, limit int) ([]models.Message, int64, error) {
	defer observability.TrackQuery("list", "messages")()

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Message{}).Where("chat_id = ?", chatID).Count(&total).Error; err != nil {
		r.log.LogError(ctx, err, "list")
		return nil, 0, models.NewPersistenceError("failed to count messages", err)
	}

	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Preload("Sender").
		Preload("ReplyTo").
		Preload("ReadBy").
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		r.log.LogError(ctx, err, "list")
		return nil, 0, models.NewPersistenceError("failed to list messages", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, total, nil
}

func (r *chatRepository) DeleteMessage(ctx context.Context, id uint) error {
	defer observability.TrackQuery("delete", "messages")()

	res := r.db.WithContext(ctx).Delete(&models.Message{}, id)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "delete")
		return models.NewPersistenceError("failed to delete message", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Message", id)
	}
	r.log.LogDelete(ctx, map[string]interface{}{"message_id": id})
	return nil
}

// UpdateMessagesReadReceipt adds a receipt for userID to every message in the chat
// sent by someone else that the user has not read yet, and returns how many were added.
func (r *chatRepository) UpdateMessagesReadReceipt(ctx context.Context, chatID, userID uint, readAt time.Time) (int64, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, "UpdateMessagesReadReceipt", "message_read_receipts")
	defer span.End()
	defer observability.TrackQuery("update", "message_read_receipts")()

	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("chat_id = ? AND sender_id <> ?", chatID, userID).
		Where("NOT EXISTS (?)", r.db.Model(&models.MessageReadReceipt{}).
			Select("1").
			Where("message_read_receipts.message_id = messages.id AND message_read_receipts.user_id = ?", userID)).
		Pluck("id", &ids).Error
	if err != nil {
		span.RecordError(err)
		r.log.LogError(ctx, err, "update")
		return 0, models.NewPersistenceError("failed to find unread messages", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	receipts := make([]models.MessageReadReceipt, 0, len(ids))
	for _, id := range ids {
		receipts = append(receipts, models.MessageReadReceipt{MessageID: id, UserID: userID, ReadAt: readAt})
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&receipts)
	if res.Error != nil {
		span.RecordError(res.Error)
		r.log.LogError(ctx, res.Error, "update")
		return 0, models.NewPersistenceError("failed to save read receipts", res.Error)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"chat_id": chatID, "user_id": userID, "receipts": res.RowsAffected})
	return res.RowsAffected, nil
}

func (r *chatRepository) ResetUnreadCount(ctx context.Context, chatID, userID uint) error {
	defer observability.TrackQuery("update", "chat_participants")()

	err := r.db.WithContext(ctx).Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Update("unread_count", 0).Error
	if err != nil {
		r.log.LogError(ctx, err, "update")
		return models.NewPersistenceError("failed to reset unread count", err)
	}
	return nil
}
