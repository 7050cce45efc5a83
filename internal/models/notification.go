package models

import (
	"fmt"
	"time"
)

// NotificationType enumerates what triggered a notification.
type NotificationType string

// Notification types.
const (
	NotificationLike    NotificationType = "like"
	NotificationComment NotificationType = "comment"
	NotificationFollow  NotificationType = "follow"
	NotificationMessage NotificationType = "message"
	NotificationMention NotificationType = "mention"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationLike, NotificationComment, NotificationFollow, NotificationMessage, NotificationMention:
		return true
	}
	return false
}

// Notification is the durable record of an event addressed to one user.
type Notification struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	RecipientID uint             `gorm:"not null;index:idx_notifications_recipient,priority:1" json:"recipient_id"`
	SenderID    uint             `gorm:"not null" json:"sender_id"`
	Sender      *User            `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Type        NotificationType `gorm:"type:varchar(16);not null" json:"type"`
	PostID      *uint            `json:"post_id,omitempty"`
	CommentID   *uint            `json:"comment_id,omitempty"`
	ChatID      *uint            `json:"chat_id,omitempty"`
	MessageID   *uint            `json:"message_id,omitempty"`
	IsRead      bool             `gorm:"not null;default:false;index:idx_notifications_recipient,priority:2" json:"is_read"`
	ReadAt      *time.Time       `json:"read_at"`
	CreatedAt   time.Time        `gorm:"index:idx_notifications_recipient,priority:3" json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Text renders the sentence shown in notification lists.
func (n *Notification) Text() string {
	name := "Someone"
	if n.Sender != nil && n.Sender.Username != "" {
		name = n.Sender.Username
	}
	switch n.Type {
	case NotificationLike:
		return fmt.Sprintf("%s liked your post", name)
	case NotificationComment:
		return fmt.Sprintf("%s commented on your post", name)
	case NotificationFollow:
		return fmt.Sprintf("%s started following you", name)
	case NotificationMessage:
		return fmt.Sprintf("%s sent you a message", name)
	case NotificationMention:
		return fmt.Sprintf("%s mentioned you in a comment", name)
	default:
		return "New notification"
	}
}
