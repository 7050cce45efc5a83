package service

import (
	"context"

	"relay/internal/models"
	"relay/internal/notifications"
	"relay/internal/observability"
	"relay/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// MessageService runs the ingest pipeline for chat messages sent over the realtime channel.
type MessageService struct {
	chats    repository.ChatRepository
	notifier Notifier
	gateway  Broadcaster
}

// SubmitInput is a new-message event after decoding.
type SubmitInput struct {
	Sender      models.UserSummary
	ChatID      uint
	Content     string
	MessageType string
	ReplyToID   *uint
}

// NewMessageService returns a new MessageService.
func NewMessageService(chats repository.ChatRepository, notifier Notifier, gateway Broadcaster) *MessageService {
	return &MessageService{chats: chats, notifier: notifier, gateway: gateway}
}

// Submit validates, persists and delivers a message. Silent errors mean the event is
// dropped without telling the sender.
func (s *MessageService) Submit(ctx context.Context, in SubmitInput) (*models.Message, error) {
	span, ctx := observability.NewSpan(ctx, "MessageService.Submit",
		attribute.Int64("chat.id", int64(in.ChatID)),
		attribute.Int64("user.id", int64(in.Sender.ID)))
	defer span.End()

	content, err := models.NormalizeMessageContent(in.Content)
	if err != nil {
		return nil, err
	}
	messageType := in.MessageType
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	if !models.ValidMessageType(messageType) {
		return nil, models.NewValidationError("Invalid message type")
	}

	chat, err := s.chats.FindChatByID(ctx, in.ChatID)
	if err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			return nil, models.NewAuthorizationError("Chat not found")
		}
		span.SetError(err)
		return nil, asPersistence("failed to load chat", err)
	}
	if !chat.HasParticipant(in.Sender.ID) {
		return nil, models.NewAuthorizationError("Not a participant of this chat")
	}

	var replyTo *models.Message
	if in.ReplyToID != nil {
		replyTo, err = s.chats.FindMessageByID(ctx, *in.ReplyToID)
		switch {
		case models.ErrorCode(err) == models.CodeNotFound:
			return nil, models.NewSilentValidationError("Replied-to message not found")
		case err != nil:
			span.SetError(err)
			return nil, asPersistence("failed to load replied-to message", err)
		case replyTo.ChatID != chat.ID:
			return nil, models.NewSilentValidationError("Replied-to message belongs to another chat")
		}
	}

	msg := &models.Message{
		ChatID:      chat.ID,
		SenderID:    in.Sender.ID,
		Content:     content,
		MessageType: messageType,
		ReplyToID:   in.ReplyToID,
	}
	if err := s.chats.CreateMessage(ctx, msg); err != nil {
		span.SetError(err)
		return nil, asPersistence("failed to save message", err)
	}
	observability.MessageThroughput.WithLabelValues(messageType).Inc()

	chat.RecordMessage(msg)
	if err := s.chats.SaveChat(ctx, chat, msg.SenderID); err != nil {
		// The message is already stored, so delivery goes ahead.
		observability.LogAsyncOperationError(ctx, "chat.update_last_message", err, map[string]interface{}{
			"chat_id":    chat.ID,
			"message_id": msg.ID,
		})
	}

	sender := &models.User{ID: in.Sender.ID, Username: in.Sender.Username, Avatar: in.Sender.Avatar}
	msg.Sender = sender
	msg.ReplyTo = replyTo
	if msg.ReadBy == nil {
		msg.ReadBy = []models.MessageReadReceipt{}
	}

	if err := s.gateway.BroadcastToChat(ctx, chat.ID, notifications.EventNewMessage,
		notifications.NewMessagePayload{Message: msg, ChatID: chat.ID}, 0); err != nil {
		observability.LogAsyncOperationError(ctx, "message.broadcast", err, map[string]interface{}{"chat_id": chat.ID})
	}
	s.gateway.ClearTyping(ctx, chat.ID, in.Sender.ID)

	chatID, messageID := chat.ID, msg.ID
	senderSummary := in.Sender
	for _, recipientID := range chat.ParticipantIDs() {
		if recipientID == in.Sender.ID {
			continue
		}
		_, err := s.notifier.Notify(ctx, NotifyInput{
			RecipientID: recipientID,
			SenderID:    in.Sender.ID,
			Sender:      &senderSummary,
			Type:        models.NotificationMessage,
			ChatID:      &chatID,
			MessageID:   &messageID,
		})
		if err != nil {
			observability.LogAsyncOperationError(ctx, "notification.fanout", err, map[string]interface{}{
				"recipient_id": recipientID,
				"chat_id":      chatID,
			})
		}
	}

	return msg, nil
}
