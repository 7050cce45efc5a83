package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

// Message types accepted on the realtime channel.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeFile  = "file"
)

// MaxMessageContentLen is the maximum message length in characters.
const MaxMessageContentLen = 1000

// Chat is a conversation between a fixed set of participants (two for a direct chat).
type Chat struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	IsGroup       bool              `gorm:"default:false" json:"is_group"`
	Name          string            `json:"name,omitempty"`
	LastMessageID *uint             `json:"last_message_id,omitempty"`
	LastMessageAt *time.Time        `gorm:"index" json:"last_message_at,omitempty"`
	Participants  []ChatParticipant `gorm:"foreignKey:ChatID" json:"participants,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	DeletedAt     gorm.DeletedAt    `gorm:"index" json:"-"`
}

// ChatParticipant holds membership plus the participant's unread counter.
type ChatParticipant struct {
	ChatID      uint      `gorm:"primaryKey" json:"chat_id"`
	UserID      uint      `gorm:"primaryKey" json:"user_id"`
	User        *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	UnreadCount int       `gorm:"not null;default:0" json:"unread_count"`
	JoinedAt    time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID uint) bool {
	if c == nil {
		return false
	}
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the user ids of every participant.
func (c *Chat) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// UnreadFor returns the unread counter of userID, 0 for non-participants.
func (c *Chat) UnreadFor(userID uint) int {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p.UnreadCount
		}
	}
	return 0
}

// RecordMessage points the chat at msg and bumps the unread counter of every
// participant except the sender.
func (c *Chat) RecordMessage(msg *Message) {
	id := msg.ID
	at := msg.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	c.LastMessageID = &id
	c.LastMessageAt = &at
	for i := range c.Participants {
		if c.Participants[i].UserID == msg.SenderID {
			continue
		}
		c.Participants[i].UnreadCount++
	}
}

// Message is a single chat message.
type Message struct {
	ID          uint                 `gorm:"primaryKey" json:"id"`
	ChatID      uint                 `gorm:"not null;index:idx_messages_chat_created,priority:1" json:"chat_id"`
	SenderID    uint                 `gorm:"not null;index" json:"sender_id"`
	Sender      *User                `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Content     string               `gorm:"type:text;not null" json:"content"`
	MessageType string               `gorm:"not null;default:'text'" json:"message_type"`
	ReplyToID   *uint                `gorm:"index" json:"reply_to_id,omitempty"`
	ReplyTo     *Message             `gorm:"foreignKey:ReplyToID" json:"reply_to,omitempty"`
	ReadBy      []MessageReadReceipt `gorm:"foreignKey:MessageID" json:"read_by"`
	CreatedAt   time.Time            `gorm:"index:idx_messages_chat_created,priority:2" json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	DeletedAt   gorm.DeletedAt       `gorm:"index" json:"-"`
}

// IsRead reports whether anyone has read the message.
func (m *Message) IsRead() bool {
	return len(m.ReadBy) > 0
}

// ReadByUser reports whether userID holds a receipt for the message.
func (m *Message) ReadByUser(userID uint) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// MessageReadReceipt records that a user has viewed a message. A user appears once per message.
type MessageReadReceipt struct {
	MessageID uint      `gorm:"primaryKey" json:"message_id"`
	UserID    uint      `gorm:"primaryKey" json:"user_id"`
	ReadAt    time.Time `gorm:"not null" json:"read_at"`
}

// ValidMessageType reports whether t is an accepted message type.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeFile:
		return true
	}
	return false
}

// NormalizeMessageContent trims content and checks its length.
func NormalizeMessageContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", NewValidationError("Message content is required")
	}
	if utf8.RuneCountInString(content) > MaxMessageContentLen {
		return "", NewValidationError("Message content too long (max 1000 characters)")
	}
	return content, nil
}
