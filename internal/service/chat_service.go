package service

import (
	"context"
	"math"

	"relay/internal/models"
	"relay/internal/observability"
	"relay/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// Pagination defaults for the chat REST API.
const (
	DefaultChatPageSize    = 20
	DefaultMessagePageSize = 50
	MaxChatPageSize        = 100
)

// ChatService serves the chat REST surface: direct chat creation, chat lookup, message
// history and message deletion. Sending and reading go through MessageService and
// ReceiptService so both transports share one pipeline.
type ChatService struct {
	chats repository.ChatRepository
	users repository.UserRepository
}

// ChatPagination is the paging block of the chat list.
type ChatPagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	TotalChats  int64 `json:"totalChats"`
	HasNext     bool  `json:"hasNext"`
	HasPrev     bool  `json:"hasPrev"`
}

// ChatPage is one page of the caller's chats.
type ChatPage struct {
	Chats      []models.Chat  `json:"chats"`
	Pagination ChatPagination `json:"pagination"`
}

// MessagePagination is the paging block of a message history page.
type MessagePagination struct {
	CurrentPage   int   `json:"currentPage"`
	TotalPages    int   `json:"totalPages"`
	TotalMessages int64 `json:"totalMessages"`
	HasNext       bool  `json:"hasNext"`
	HasPrev       bool  `json:"hasPrev"`
}

// MessagePage is one page of a chat's history in chronological order.
type MessagePage struct {
	Messages   []models.Message  `json:"messages"`
	Pagination MessagePagination `json:"pagination"`
}

// NewChatService returns a new ChatService.
func NewChatService(chats repository.ChatRepository, users repository.UserRepository) *ChatService {
	return &ChatService{chats: chats, users: users}
}

// CreateOrGetDirect returns the direct chat between userID and otherID, creating it on
// first use. created reports whether a new chat was made.
func (s *ChatService) CreateOrGetDirect(ctx context.Context, userID, otherID uint) (chat *models.Chat, created bool, err error) {
	span, ctx := observability.NewSpan(ctx, "ChatService.CreateOrGetDirect",
		attribute.Int64("user.id", int64(userID)),
		attribute.Int64("other.id", int64(otherID)))
	defer span.End()

	if otherID == 0 {
		return nil, false, models.NewValidationError("userId is required")
	}
	if otherID == userID {
		return nil, false, models.NewValidationError("Cannot create chat with yourself")
	}
	if _, err := s.users.FindUserByID(ctx, otherID); err != nil {
		return nil, false, asPersistence("failed to load user", err)
	}

	existing, err := s.chats.FindDirectChat(ctx, userID, otherID)
	if err == nil {
		return existing, false, nil
	}
	if models.ErrorCode(err) != models.CodeNotFound {
		span.SetError(err)
		return nil, false, asPersistence("failed to find chat", err)
	}

	chat = &models.Chat{Participants: []models.ChatParticipant{{UserID: userID}, {UserID: otherID}}}
	if err := s.chats.CreateChat(ctx, chat); err != nil {
		span.SetError(err)
		return nil, false, asPersistence("failed to create chat", err)
	}
	full, err := s.chats.FindChatWithUsers(ctx, chat.ID)
	if err != nil {
		return chat, true, nil
	}
	return full, true, nil
}

// ListChats returns a page of the user's chats, most recently active first.
func (s *ChatService) ListChats(ctx context.Context, userID uint, page, limit int) (*ChatPage, error) {
	page, limit = clampPage(page, limit, DefaultChatPageSize, MaxChatPageSize)

	chats, total, err := s.chats.ListChatsForUser(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return nil, asPersistence("failed to list chats", err)
	}
	if chats == nil {
		chats = []models.Chat{}
	}

	pages := totalPages(total, limit)
	return &ChatPage{
		Chats: chats,
		Pagination: ChatPagination{
			CurrentPage: page,
			TotalPages:  pages,
			TotalChats:  total,
			HasNext:     page < pages,
			HasPrev:     page > 1,
		},
	}, nil
}

// GetChat returns a chat the user participates in.
func (s *ChatService) GetChat(ctx context.Context, userID, chatID uint) (*models.Chat, error) {
	chat, err := s.chats.FindChatWithUsers(ctx, chatID)
	if err != nil {
		return nil, asPersistence("failed to load chat", err)
	}
	if !chat.HasParticipant(userID) {
		return nil, models.NewAuthorizationError("Access denied")
	}
	return chat, nil
}

// ListMessages returns a page of the chat's history, counted back from the newest
// message. Only participants may read it.
func (s *ChatService) ListMessages(ctx context.Context, userID, chatID uint, page, limit int) (*MessagePage, error) {
	span, ctx := observability.NewSpan(ctx, "ChatService.ListMessages",
		attribute.Int64("chat.id", int64(chatID)),
		attribute.Int64("user.id", int64(userID)))
	defer span.End()

	chat, err := s.chats.FindChatByID(ctx, chatID)
	if err != nil {
		return nil, asPersistence("failed to load chat", err)
	}
	if !chat.HasParticipant(userID) {
		return nil, models.NewAuthorizationError("Access denied")
	}

	page, limit = clampPage(page, limit, DefaultMessagePageSize, MaxChatPageSize)
	messages, total, err := s.chats.ListMessages(ctx, chatID, (page-1)*limit, limit)
	if err != nil {
		span.SetError(err)
		return nil, asPersistence("failed to list messages", err)
	}
	if messages == nil {
		messages = []models.Message{}
	}

	pages := totalPages(total, limit)
	return &MessagePage{
		Messages: messages,
		Pagination: MessagePagination{
			CurrentPage:   page,
			TotalPages:    pages,
			TotalMessages: total,
			HasNext:       page < pages,
			HasPrev:       page > 1,
		},
	}, nil
}

// DeleteMessage removes a message. Only its sender may delete it.
func (s *ChatService) DeleteMessage(ctx context.Context, userID, messageID uint) error {
	msg, err := s.chats.FindMessageByID(ctx, messageID)
	if err != nil {
		return asPersistence("failed to load message", err)
	}
	if msg.SenderID != userID {
		return models.NewAuthorizationError("You can only delete your own messages")
	}
	if err := s.chats.DeleteMessage(ctx, messageID); err != nil {
		return asPersistence("failed to delete message", err)
	}
	return nil
}

func clampPage(page, limit, def, maxLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = def
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

func totalPages(total int64, limit int) int {
	return int(math.Ceil(float64(total) / float64(limit)))
}
