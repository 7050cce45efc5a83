package notifications

import (
	"encoding/json"
	"errors"
	"fmt"

	"relay/internal/models"
)

// Inbound event names.
const (
	EventJoinChat    = "join-chat"
	EventLeaveChat   = "leave-chat"
	EventTypingStart = "typing-start"
	EventTypingStop  = "typing-stop"
	EventNewMessage  = "new-message"
	EventMarkRead    = "mark-read"
)

// Outbound event names.
const (
	EventConnected       = "connected"
	EventUserTyping      = "user-typing"
	EventUserTypingStop  = "user-typing-stop"
	EventNewNotification = "new-notification"
	EventMessagesRead    = "messages-read"
	EventError           = "error"
)

var errBufferFull = errors.New("send buffer full")

// Frame is the wire envelope used in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals an outbound frame.
func Encode(eventType string, payload any) ([]byte, error) {
	_, raw, err := encodeFrame(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return raw, nil
}

// ConnectedPayload greets a freshly registered connection.
type ConnectedPayload struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
}

// TypingPayload is carried by user-typing and user-typing-stop.
type TypingPayload struct {
	ChatID   uint   `json:"chatId"`
	UserID   uint   `json:"userId"`
	Username string `json:"username,omitempty"`
}

// NewMessagePayload is broadcast to a chat room after a message is stored.
type NewMessagePayload struct {
	Message *models.Message `json:"message"`
	ChatID  uint            `json:"chatId"`
}

// MessagesReadPayload tells the room that a user has read the chat.
type MessagesReadPayload struct {
	ChatID uint `json:"chatId"`
	UserID uint `json:"userId"`
}

// NotificationPayload is pushed to an online recipient.
type NotificationPayload struct {
	NotificationID uint                    `json:"notificationId"`
	Type           models.NotificationType `json:"type"`
	ChatID         *uint                   `json:"chatId,omitempty"`
	MessageID      *uint                   `json:"messageId,omitempty"`
	PostID         *uint                   `json:"postId,omitempty"`
	CommentID      *uint                   `json:"commentId,omitempty"`
	Text           string                  `json:"text"`
	Sender         models.UserSummary      `json:"sender"`
}

// ErrorPayload reports a failed new-message to its sender.
type ErrorPayload struct {
	Message string `json:"message"`
}
