package server

import (
	"relay/internal/models"
	"relay/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetNotifications handles GET /api/notifications
func (s *Server) GetNotifications(c *fiber.Ctx) error {
	userID, err := s.getUserIDFromContext(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}

	page, err := s.notificationService.List(c.UserContext(), service.ListInput{
		RecipientID: userID,
		Page:        c.QueryInt("page", 1),
		Limit:       c.QueryInt("limit", service.DefaultNotificationPageSize),
		UnreadOnly:  c.QueryBool("unreadOnly", false),
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(page)
}

// GetUnreadNotificationCount handles GET /api/notifications/unread-count
func (s *Server) GetUnreadNotificationCount(c *fiber.Ctx) error {
	userID, err := s.getUserIDFromContext(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}

	count, err := s.notificationService.UnreadCount(c.UserContext(), userID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{"count": count})
}

// MarkNotificationRead handles PUT /api/notifications/:id/read
func (s *Server) MarkNotificationRead(c *fiber.Ctx) error {
	userID, err := s.getUserIDFromContext(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	n, err := s.notificationService.MarkRead(c.UserContext(), userID, id)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(n)
}

// MarkAllNotificationsRead handles PUT /api/notifications/read-all
func (s *Server) MarkAllNotificationsRead(c *fiber.Ctx) error {
	userID, err := s.getUserIDFromContext(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}

	updated, err := s.notificationService.MarkAllRead(c.UserContext(), userID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{"updated": updated})
}

// DeleteNotification handles DELETE /api/notifications/:id
func (s *Server) DeleteNotification(c *fiber.Ctx) error {
	userID, err := s.getUserIDFromContext(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.notificationService.Delete(c.UserContext(), userID, id); err != nil {
		return respondServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GetUserPresence handles GET /api/users/:id/presence
func (s *Server) GetUserPresence(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	return c.JSON(fiber.Map{
		"userId": id,
		"online": s.gateway.IsOnlineAnywhere(c.UserContext(), id),
	})
}
