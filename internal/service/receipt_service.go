package service

import (
	"context"
	"time"

	"relay/internal/models"
	"relay/internal/notifications"
	"relay/internal/observability"
	"relay/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// ReceiptService marks chats read on behalf of a participant.
type ReceiptService struct {
	chats   repository.ChatRepository
	gateway Broadcaster
	now     func() time.Time
}

// NewReceiptService returns a new ReceiptService.
func NewReceiptService(chats repository.ChatRepository, gateway Broadcaster) *ReceiptService {
	return &ReceiptService{chats: chats, gateway: gateway, now: func() time.Time { return time.Now().UTC() }}
}

// MarkRead adds userID's receipt to every unread message from others in the chat, resets
// the unread counter and tells the room. The broadcast happens even when nothing was new.
func (s *ReceiptService) MarkRead(ctx context.Context, userID, chatID uint) (int, error) {
	span, ctx := observability.NewSpan(ctx, "ReceiptService.MarkRead",
		attribute.Int64("chat.id", int64(chatID)),
		attribute.Int64("user.id", int64(userID)))
	defer span.End()

	chat, err := s.chats.FindChatByID(ctx, chatID)
	if err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			return 0, models.NewAuthorizationError("Chat not found")
		}
		span.SetError(err)
		return 0, asPersistence("failed to load chat", err)
	}
	if !chat.HasParticipant(userID) {
		return 0, models.NewAuthorizationError("Not a participant of this chat")
	}

	marked, err := s.chats.UpdateMessagesReadReceipt(ctx, chatID, userID, s.now())
	if err != nil {
		span.SetError(err)
		return 0, asPersistence("failed to mark messages read", err)
	}
	if err := s.chats.ResetUnreadCount(ctx, chatID, userID); err != nil {
		span.SetError(err)
		return int(marked), asPersistence("failed to reset unread count", err)
	}
	span.AddAttributes(attribute.Int64("receipts.marked", marked))

	if err := s.gateway.BroadcastToChat(ctx, chatID, notifications.EventMessagesRead,
		notifications.MessagesReadPayload{ChatID: chatID, UserID: userID}, userID); err != nil {
		observability.LogAsyncOperationError(ctx, "receipt.broadcast", err, map[string]interface{}{"chat_id": chatID})
	}
	return int(marked), nil
}
