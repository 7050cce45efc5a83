// Package notifications holds the realtime delivery layer: connections, the session
// registry, chat rooms, typing state, Redis presence and the cross-process relay.
package notifications

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"relay/internal/models"
	"relay/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const componentName = "gateway"

var wsLog = observability.NewWSLogger(componentName)

// Gateway owns every piece of realtime state of this process and is the single entry
// point services use to reach connected users.
type Gateway struct {
	registry *SessionRegistry
	rooms    *Rooms
	typing   *TypingSet
	relay    *Relay
	presence *PresenceMirror

	stopRelay context.CancelFunc
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRelay fans deliveries out to other processes.
func WithRelay(r *Relay) Option {
	return func(g *Gateway) { g.relay = r }
}

// WithPresence mirrors connection state to Redis.
func WithPresence(p *PresenceMirror) Option {
	return func(g *Gateway) { g.presence = p }
}

// NewGateway creates a Gateway with empty state.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		registry: NewSessionRegistry(),
		rooms:    NewRooms(),
		typing:   NewTypingSet(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Connect registers c as its user's live connection, joins the private user room and
// greets the client.
func (g *Gateway) Connect(ctx context.Context, c *Client) {
	if c.ConnectedAt.IsZero() {
		c.ConnectedAt = time.Now()
	}
	if prev := g.registry.Register(c); prev != nil {
		wsLog.LogLifecycle(ctx, "superseded", map[string]interface{}{
			"user_id":     c.UserID,
			"old_conn_id": prev.ID,
			"new_conn_id": c.ID,
		})
	}
	if g.rooms.Join(UserRoom(c.UserID), c) {
		observability.RoomMemberships.Inc()
	}
	if g.presence != nil {
		g.presence.Register(ctx, c.UserID)
	}
	if err := g.relay.PublishSuperseded(ctx, c.UserID, c.ID, c.ConnectedAt); err != nil {
		wsLog.LogError(ctx, c.UserID, UserRoom(c.UserID), err, relaySuperseded)
	}
	observability.WebSocketConnectionsTotal.Inc()
	wsLog.LogConnect(ctx, c.UserID, c.ID)

	g.send(c, EventConnected, ConnectedPayload{UserID: c.UserID, Username: c.Username})
}

// Disconnect tears down c. Typing state is only cleared when no newer connection of
// the same user has taken over.
func (g *Gateway) Disconnect(ctx context.Context, c *Client, reason string) {
	current := g.registry.Unregister(c)

	if n := g.rooms.RemoveClient(c); n > 0 {
		observability.RoomMemberships.Sub(float64(n))
	}

	if current {
		for _, chatID := range g.typing.ClearUser(c.UserID) {
			_ = g.BroadcastToChat(ctx, chatID, EventUserTypingStop,
				TypingPayload{ChatID: chatID, UserID: c.UserID}, c.UserID)
		}
	}

	c.Close()
	if g.presence != nil {
		g.presence.Unregister(ctx, c.UserID)
	}
	observability.WebSocketConnectionsTotal.Dec()
	wsLog.LogDisconnect(ctx, c.UserID, c.ID, reason)
}

// JoinChat adds c to the chat room. Joining twice is a no-op.
func (g *Gateway) JoinChat(c *Client, chatID uint) bool {
	if !g.rooms.Join(ChatRoom(chatID), c) {
		return false
	}
	observability.RoomMemberships.Inc()
	return true
}

// LeaveChat removes c from the chat room. Leaving a room never joined is a no-op.
func (g *Gateway) LeaveChat(c *Client, chatID uint) bool {
	if !g.rooms.Leave(ChatRoom(chatID), c) {
		return false
	}
	observability.RoomMemberships.Dec()
	return true
}

// InChat reports whether c has joined the chat room.
func (g *Gateway) InChat(c *Client, chatID uint) bool {
	return g.rooms.IsMember(ChatRoom(chatID), c)
}

// BroadcastToChat delivers an event to every connection in the chat room except those
// of excludeUser (0 excludes nobody). Delivery is best effort and never blocks.
func (g *Gateway) BroadcastToChat(ctx context.Context, chatID uint, event string, payload any, excludeUser uint) error {
	ctx, span := observability.TraceWebSocket(ctx, event, excludeUser)
	defer span.End()
	span.SetAttributes(attribute.Int64("chat.id", int64(chatID)))

	frame, raw, err := encodeFrame(event, payload)
	if err != nil {
		span.RecordError(err)
		wsLog.LogError(ctx, excludeUser, ChatRoom(chatID), err, event)
		return err
	}

	delivered := g.deliverRoom(chatID, event, raw, excludeUser)
	span.SetAttributes(attribute.Int("ws.delivered", delivered))

	if err := g.relay.PublishRoom(ctx, chatID, frame, excludeUser); err != nil {
		wsLog.LogError(ctx, excludeUser, ChatRoom(chatID), err, event)
	}
	return nil
}

// EmitToChat delivers an event to everyone in the chat room.
func (g *Gateway) EmitToChat(ctx context.Context, chatID uint, event string, payload any) error {
	return g.BroadcastToChat(ctx, chatID, event, payload, 0)
}

// EmitToUser delivers an event to the user's current connection only and reports
// whether that connection lives in this process.
func (g *Gateway) EmitToUser(ctx context.Context, userID uint, event string, payload any) bool {
	frame, raw, err := encodeFrame(event, payload)
	if err != nil {
		wsLog.LogError(ctx, userID, UserRoom(userID), err, event)
		return false
	}

	delivered := g.deliverUser(userID, event, raw)
	if err := g.relay.PublishUser(ctx, userID, frame); err != nil {
		wsLog.LogError(ctx, userID, UserRoom(userID), err, event)
	}
	return delivered
}

// SetTyping records that user is typing in the chat and tells the rest of the room.
func (g *Gateway) SetTyping(ctx context.Context, chatID uint, user models.UserSummary) {
	g.typing.Set(chatID, user.ID)
	_ = g.BroadcastToChat(ctx, chatID, EventUserTyping,
		TypingPayload{ChatID: chatID, UserID: user.ID, Username: user.Username}, user.ID)
}

// ClearTyping removes the user's typing entry. Nothing is broadcast when there was no entry.
func (g *Gateway) ClearTyping(ctx context.Context, chatID, userID uint) bool {
	if !g.typing.Clear(chatID, userID) {
		return false
	}
	_ = g.BroadcastToChat(ctx, chatID, EventUserTypingStop,
		TypingPayload{ChatID: chatID, UserID: userID}, userID)
	return true
}

// IsOnline reports whether the user holds a connection in this process.
func (g *Gateway) IsOnline(userID uint) bool {
	_, ok := g.registry.Lookup(userID)
	return ok
}

// IsOnlineAnywhere also consults the Redis presence mirror when one is configured.
func (g *Gateway) IsOnlineAnywhere(ctx context.Context, userID uint) bool {
	if g.IsOnline(userID) {
		return true
	}
	return g.presence != nil && g.presence.IsOnline(ctx, userID)
}

// Touch refreshes the user's presence keys.
func (g *Gateway) Touch(ctx context.Context, userID uint) {
	if g.presence != nil {
		g.presence.Touch(ctx, userID)
	}
}

// ConnectionCount returns the number of users connected to this process.
func (g *Gateway) ConnectionCount() int {
	return g.registry.Len()
}

// StartRelay subscribes to envelopes from other processes. It is a no-op without a relay.
func (g *Gateway) StartRelay(ctx context.Context) error {
	if g.relay == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	if err := g.relay.Start(ctx, RelayHandlers{
		Room: func(chatID uint, env Envelope) {
			if raw, err := json.Marshal(Frame{Type: env.Type, Payload: env.Payload}); err == nil {
				g.deliverRoom(chatID, env.Type, raw, env.ExcludeUser)
			}
		},
		User: func(userID uint, env Envelope) {
			if raw, err := json.Marshal(Frame{Type: env.Type, Payload: env.Payload}); err == nil {
				g.deliverUser(userID, env.Type, raw)
			}
		},
		Superseded: func(userID uint, env Envelope) {
			g.dropSuperseded(ctx, userID, env)
		},
	}); err != nil {
		cancel()
		return err
	}
	g.stopRelay = cancel
	wsLog.LogLifecycle(ctx, "relay_started", map[string]interface{}{"origin": g.relay.Origin()})
	return nil
}

// dropSuperseded forgets the local connection of a user who has since connected to
// another process, so user deliveries only reach the newest connection.
func (g *Gateway) dropSuperseded(ctx context.Context, userID uint, env Envelope) {
	prev := g.registry.UnregisterOlder(userID, time.Unix(0, env.ConnectedAt))
	if prev == nil {
		return
	}
	g.typing.ClearUser(userID)
	wsLog.LogLifecycle(ctx, "superseded_remote", map[string]interface{}{
		"user_id":     userID,
		"old_conn_id": prev.ID,
		"new_conn_id": env.ConnID,
		"origin":      env.Origin,
	})
}

// Shutdown closes every connection and stops background work.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.stopRelay != nil {
		g.stopRelay()
	}
	clients := g.registry.Clients()
	for _, c := range clients {
		c.Close()
	}
	if g.presence != nil {
		g.presence.Stop()
	}
	wsLog.LogLifecycle(ctx, "shutdown", map[string]interface{}{"connections": len(clients)})
	return ctx.Err()
}

func (g *Gateway) deliverRoom(chatID uint, event string, frame []byte, excludeUser uint) int {
	delivered := 0
	for _, c := range g.rooms.Members(ChatRoom(chatID)) {
		if excludeUser != 0 && c.UserID == excludeUser {
			continue
		}
		if c.TrySend(frame) {
			delivered++
		}
	}
	if delivered > 0 {
		observability.OutboundEventsTotal.WithLabelValues(event).Add(float64(delivered))
	}
	return delivered
}

func (g *Gateway) deliverUser(userID uint, event string, frame []byte) bool {
	c, ok := g.registry.Lookup(userID)
	if !ok {
		return false
	}
	if !c.TrySend(frame) {
		return false
	}
	observability.OutboundEventsTotal.WithLabelValues(event).Inc()
	return true
}

func (g *Gateway) send(c *Client, event string, payload any) {
	_, raw, err := encodeFrame(event, payload)
	if err != nil {
		observability.GlobalLogger.Error("encode frame failed", slog.String("event", event), slog.String("error", err.Error()))
		return
	}
	if c.TrySend(raw) {
		observability.OutboundEventsTotal.WithLabelValues(event).Inc()
	}
}

// Send delivers one event to a single connection.
func (g *Gateway) Send(c *Client, event string, payload any) {
	g.send(c, event, payload)
}

func encodeFrame(event string, payload any) (Frame, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, nil, err
	}
	frame := Frame{Type: event, Payload: body}
	raw, err := json.Marshal(frame)
	if err != nil {
		return Frame{}, nil, err
	}
	return frame, raw, nil
}
