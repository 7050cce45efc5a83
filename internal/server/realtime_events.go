package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"relay/internal/featureflags"
	"relay/internal/middleware"
	"relay/internal/models"
	"relay/internal/notifications"
	"relay/internal/observability"
	"relay/internal/service"
)

const (
	typingRateLimit   = 10
	typingRateWindow  = 10 * time.Second
	messageRateLimit  = 15
	messageRateWindow = time.Minute
)

var errMissingChatID = errors.New("chatId is required")

// chatRef accepts a bare chat id or an object carrying chatId.
type chatRef struct {
	ChatID uint `json:"chatId"`
}

func parseChatID(raw json.RawMessage) (uint, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, errMissingChatID
	}

	var id uint
	if raw[0] == '{' {
		var ref chatRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return 0, err
		}
		id = ref.ChatID
	} else if err := json.Unmarshal(raw, &id); err != nil {
		return 0, err
	}

	if id == 0 {
		return 0, errMissingChatID
	}
	return id, nil
}

type newMessagePayload struct {
	ChatID      uint   `json:"chatId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	ReplyTo     *uint  `json:"replyTo"`
}

// handleRealtimeEvent dispatches one inbound frame. Unknown or malformed frames are ignored,
// except new-message, which reports validation failures to the sender.
func (s *Server) handleRealtimeEvent(ctx context.Context, c *notifications.Client, raw []byte) {
	var frame notifications.Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
		middleware.Logger.DebugContext(ctx, "ignoring malformed websocket frame",
			slog.Uint64("user_id", uint64(c.UserID)))
		return
	}

	ctx, span := observability.TraceWebSocket(ctx, frame.Type, c.UserID)
	defer span.End()

	observability.WebSocketEventsTotal.WithLabelValues(frame.Type).Inc()
	s.gateway.Touch(ctx, c.UserID)

	switch frame.Type {
	case notifications.EventJoinChat:
		s.handleJoinChat(ctx, c, frame.Payload)
	case notifications.EventLeaveChat:
		if chatID, err := parseChatID(frame.Payload); err == nil {
			s.gateway.LeaveChat(c, chatID)
		}
	case notifications.EventTypingStart:
		s.handleTyping(ctx, c, frame.Payload, true)
	case notifications.EventTypingStop:
		s.handleTyping(ctx, c, frame.Payload, false)
	case notifications.EventNewMessage:
		s.handleNewMessage(ctx, c, frame.Payload)
	case notifications.EventMarkRead:
		s.handleMarkRead(ctx, c, frame.Payload)
	default:
		middleware.Logger.DebugContext(ctx, "unknown websocket event",
			slog.String("type", frame.Type), slog.Uint64("user_id", uint64(c.UserID)))
	}
}

func (s *Server) handleJoinChat(ctx context.Context, c *notifications.Client, payload json.RawMessage) {
	chatID, err := parseChatID(payload)
	if err != nil {
		return
	}

	if s.featureFlags.Enabled(featureflags.FlagStrictRoomJoin, c.UserID) {
		chat, err := s.chatRepo.FindChatByID(ctx, chatID)
		if err != nil || !chat.HasParticipant(c.UserID) {
			return
		}
	}

	s.gateway.JoinChat(c, chatID)
}

func (s *Server) handleTyping(ctx context.Context, c *notifications.Client, payload json.RawMessage, typing bool) {
	chatID, err := parseChatID(payload)
	if err != nil {
		return
	}

	if !typing {
		s.gateway.ClearTyping(ctx, chatID, c.UserID)
		return
	}

	if !s.allowRealtime(ctx, "typing", c.UserID, typingRateLimit, typingRateWindow) {
		return
	}
	s.gateway.SetTyping(ctx, chatID, c.Summary())
}

func (s *Server) handleNewMessage(ctx context.Context, c *notifications.Client, payload json.RawMessage) {
	var in newMessagePayload
	if err := json.Unmarshal(payload, &in); err != nil || in.ChatID == 0 {
		s.gateway.Send(c, notifications.EventError, notifications.ErrorPayload{Message: "Invalid message payload"})
		return
	}

	if !s.allowRealtime(ctx, "send_chat", c.UserID, messageRateLimit, messageRateWindow) {
		s.gateway.Send(c, notifications.EventError, notifications.ErrorPayload{Message: "Rate limit exceeded. Please wait a moment."})
		return
	}

	_, err := s.messageService.Submit(ctx, service.SubmitInput{
		Sender:      c.Summary(),
		ChatID:      in.ChatID,
		Content:     in.Content,
		MessageType: in.MessageType,
		ReplyToID:   in.ReplyTo,
	})
	if err == nil || models.IsSilent(err) {
		return
	}

	switch models.ErrorCode(err) {
	case models.CodeValidation:
		var appErr *models.AppError
		errors.As(err, &appErr)
		s.gateway.Send(c, notifications.EventError, notifications.ErrorPayload{Message: appErr.Message})
	default:
		middleware.Logger.ErrorContext(ctx, "failed to send message",
			slog.Uint64("chat_id", uint64(in.ChatID)), slog.String("error", err.Error()))
		s.gateway.Send(c, notifications.EventError, notifications.ErrorPayload{Message: "Failed to send message"})
	}
}

func (s *Server) handleMarkRead(ctx context.Context, c *notifications.Client, payload json.RawMessage) {
	chatID, err := parseChatID(payload)
	if err != nil {
		return
	}
	if _, err := s.receiptService.MarkRead(ctx, c.UserID, chatID); err != nil && !models.IsSilent(err) {
		middleware.Logger.ErrorContext(ctx, "failed to mark chat read",
			slog.Uint64("chat_id", uint64(chatID)), slog.String("error", err.Error()))
	}
}

// allowRealtime applies a per-user limit to a realtime event. An unreachable limiter
// store lets the event through, like the HTTP limiter's FailOpen policy.
func (s *Server) allowRealtime(ctx context.Context, resource string, userID uint, limit int, window time.Duration) bool {
	allowed, err := middleware.CheckRateLimit(ctx, s.redis, resource, rateLimitID(userID), limit, window)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "rate limit store unavailable",
			slog.String("resource", resource), slog.String("error", err.Error()))
		return true
	}
	return allowed
}

func rateLimitID(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}
