package server

import (
	"context"

	"relay/internal/middleware"
	"relay/internal/models"
	"relay/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// WebsocketHandler upgrades an authenticated request into a realtime connection.
// AuthRequired and RequireUser have already run, so the socket is never half-established.
func (s *Server) WebsocketHandler() fiber.Handler {
	upgrade := websocket.New(func(conn *websocket.Conn) {
		user, ok := conn.Locals("user").(models.UserSummary)
		if !ok {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"message":"unauthorized"}}`))
			_ = conn.Close()
			return
		}

		// Work started by a frame outlives the socket, so the connection context is
		// not tied to the request.
		ctx := middleware.WithUserID(context.Background(), user.ID)

		client := notifications.NewClient(conn, user, s.config.WSSendBuffer)
		client.IncomingHandler = func(c *notifications.Client, raw []byte) {
			s.handleRealtimeEvent(ctx, c, raw)
		}
		client.OnClose = func(c *notifications.Client) {
			s.gateway.Disconnect(ctx, c, "read_closed")
		}

		s.gateway.Connect(ctx, client)

		go client.WritePump()
		client.ReadPump()
	})

	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return models.RespondWithError(c, fiber.StatusUpgradeRequired,
				models.NewValidationError("WebSocket upgrade required"))
		}
		return upgrade(c)
	}
}
