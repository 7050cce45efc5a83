package server

import (
	"log/slog"

	"relay/internal/middleware"
	"relay/internal/models"
	"relay/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateOrGetChat handles POST /api/chats
func (s *Server) CreateOrGetChat(c *fiber.Ctx) error {
	userID, err := s.getUserIDFromContext(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}

	var req struct {
		UserID uint `json:"userId"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	chat, created, err := s.chatService.CreateOrGetDirect(c.UserContext(), userID, req.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(chat)
}

// GetChats handles GET /api/chats
func (s *Server) GetChats(c *fiber.Ctx) error {
	userID, err := s.getUserIDFromContext(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}

	page, err := s.chatService.ListChats(c.UserContext(), userID,
		c.QueryInt("page", 1), c.QueryInt("limit", service.DefaultChatPageSize))
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(page)
}

// GetChat handles GET /api/chats/:id
func (s *Server) GetChat(c *fiber.Ctx) error {
	userID, err := s.getUserIDFromContext(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}
	chatID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	chat, err := s.chatService.GetChat(c.UserContext(), userID, chatID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(chat)
}

// SendMessage handles POST /api/chats/:id/messages. It runs the same pipeline as the
// realtime new-message event, so connected participants receive the broadcast.
func (s *Server) SendMessage(c *fiber.Ctx) error {
	chatID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	user, ok := c.Locals("user").(models.UserSummary)
	if !ok {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewAuthError("Authorization required"))
	}

	var req newMessagePayload
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if !s.allowRealtime(c.UserContext(), "send_chat", user.ID, messageRateLimit, messageRateWindow) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "rate limit exceeded",
		})
	}

	msg, err := s.messageService.Submit(c.UserContext(), service.SubmitInput{
		Sender:      user,
		ChatID:      chatID,
		Content:     req.Content,
		MessageType: req.MessageType,
		ReplyToID:   req.ReplyTo,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(msg)
}

// GetChatMessages handles GET /api/chats/:id/messages. Fetching history also marks the
// chat read for the caller.
func (s *Server) GetChatMessages(c *fiber.Ctx) error {
	userID, err := s.getUserIDFromContext(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}
	chatID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	ctx := c.UserContext()
	page, err := s.chatService.ListMessages(ctx, userID, chatID,
		c.QueryInt("page", 1), c.QueryInt("limit", service.DefaultMessagePageSize))
	if err != nil {
		return respondServiceError(c, err)
	}

	if _, err := s.receiptService.MarkRead(ctx, userID, chatID); err != nil {
		middleware.Logger.ErrorContext(ctx, "failed to mark chat read",
			slog.Uint64("chat_id", uint64(chatID)), slog.String("error", err.Error()))
	}

	return c.JSON(page)
}

// MarkChatRead handles PUT /api/chats/:id/read
func (s *Server) MarkChatRead(c *fiber.Ctx) error {
	userID, err := s.getUserIDFromContext(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}
	chatID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	marked, err := s.receiptService.MarkRead(c.UserContext(), userID, chatID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{"message": "Messages marked as read", "marked": marked})
}

// DeleteMessage handles DELETE /api/chats/messages/:messageId
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	userID, err := s.getUserIDFromContext(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}
	messageID, err := s.parseID(c, "messageId")
	if err != nil {
		return nil
	}

	if err := s.chatService.DeleteMessage(c.UserContext(), userID, messageID); err != nil {
		return respondServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
