package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"relay/internal/middleware"
	"relay/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const wsTicketPrefix = "ws_ticket:"

var errTicketNotFound = errors.New("ticket not found or already used")

func wsTicketKey(ticket string) string {
	return wsTicketPrefix + ticket
}

// AuthRequired authenticates the request. Credentials are tried in order: a single-use
// websocket ticket, a Bearer header, then the token query parameter.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// 1. Ticket. A ticket that was supplied but does not redeem is final.
		if ticket := c.Query("ticket"); ticket != "" {
			userID, err := s.redeemTicket(c.UserContext(), ticket)
			if err != nil {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewAuthError("Invalid or expired WebSocket ticket"))
			}
			return s.authenticated(c, userID)
		}

		// 2. JWT from the Authorization header or query param
		tokenString := middleware.BearerToken(c)
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewAuthError("Authorization required"))
		}

		userID, err := middleware.ParseToken(s.config.JWTSecret, tokenString)
		if err != nil {
			msg := "Invalid or expired token"
			if errors.Is(err, middleware.ErrInvalidSubject) {
				msg = "Invalid token subject"
			}
			return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewAuthError(msg))
		}
		return s.authenticated(c, userID)
	}
}

func (s *Server) authenticated(c *fiber.Ctx, userID uint) error {
	c.Locals("userID", userID)
	c.SetUserContext(middleware.WithUserID(c.UserContext(), userID))
	return c.Next()
}

// redeemTicket consumes a websocket ticket atomically and returns the user it was issued to.
func (s *Server) redeemTicket(ctx context.Context, ticket string) (uint, error) {
	if s.redis == nil {
		return 0, errors.New("ticket store unavailable")
	}
	raw, err := s.redis.GetDel(ctx, wsTicketKey(ticket)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, errTicketNotFound
	}
	if err != nil {
		return 0, err
	}
	userID, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil || userID == 0 {
		return 0, fmt.Errorf("malformed ticket value %q", raw)
	}
	return uint(userID), nil
}

// RequireUser loads the authenticated user's public attributes. A token for a user that
// no longer exists is rejected before the upgrade.
func (s *Server) RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("userID").(uint)
		if !ok || userID == 0 {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewAuthError("Authorization required"))
		}

		user, err := s.userRepo.FindUserByID(c.UserContext(), userID)
		if err != nil {
			if models.ErrorCode(err) == models.CodeNotFound {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewAuthError("User not found"))
			}
			return models.RespondWithError(c, fiber.StatusInternalServerError, err)
		}

		c.Locals("user", user.Summary())
		return c.Next()
	}
}

// IssueWSTicket handles POST /api/ws/ticket
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	if s.redis == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewInternalError(errors.New("websocket tickets are unavailable")))
	}

	userID, err := s.getUserIDFromContext(c)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}

	ticket := uuid.NewString()
	err = s.redis.Set(c.UserContext(), wsTicketKey(ticket), strconv.FormatUint(uint64(userID), 10), s.config.WSTicketTTL).Err()
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}

	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(s.config.WSTicketTTL.Seconds()),
	})
}
