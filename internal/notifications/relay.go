package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"relay/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	roomChannelPrefix = "relay:room:"
	userChannelPrefix = "relay:user:"
)

// RoomChannel derives the Redis channel name for a chat room.
func RoomChannel(chatID uint) string {
	return roomChannelPrefix + strconv.FormatUint(uint64(chatID), 10)
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID uint) string {
	return userChannelPrefix + strconv.FormatUint(uint64(userID), 10)
}

// Envelope is what crosses the relay between processes.
type Envelope struct {
	Origin      string          `json:"origin"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ExcludeUser uint            `json:"excludeUser,omitempty"`
	ConnID      string          `json:"connId,omitempty"`
	ConnectedAt int64           `json:"connectedAt,omitempty"`
}

// relaySuperseded marks a user envelope announcing a newer connection elsewhere.
// It never reaches a client.
const relaySuperseded = "session-superseded"

// Relay fans gateway deliveries out to the other processes through Redis pub/sub.
type Relay struct {
	rdb    *redis.Client
	origin string
}

// NewRelay creates a Relay. Envelopes published with origin are ignored on receipt.
func NewRelay(rdb *redis.Client, origin string) *Relay {
	return &Relay{rdb: rdb, origin: origin}
}

// Origin returns the node id stamped on published envelopes.
func (r *Relay) Origin() string {
	return r.origin
}

// PublishRoom sends a frame to the chat room on every other process.
func (r *Relay) PublishRoom(ctx context.Context, chatID uint, frame Frame, excludeUser uint) error {
	return r.publish(ctx, RoomChannel(chatID), "room", frame, excludeUser)
}

// PublishUser sends a frame to the user's connection on every other process.
func (r *Relay) PublishUser(ctx context.Context, userID uint, frame Frame) error {
	return r.publish(ctx, UserChannel(userID), "user", frame, 0)
}

// PublishSuperseded tells every other process that the user now holds connection
// connID, opened at connectedAt.
func (r *Relay) PublishSuperseded(ctx context.Context, userID uint, connID string, connectedAt time.Time) error {
	return r.send(ctx, UserChannel(userID), "superseded", Envelope{
		Type:        relaySuperseded,
		ConnID:      connID,
		ConnectedAt: connectedAt.UnixNano(),
	})
}

func (r *Relay) publish(ctx context.Context, channel, scope string, frame Frame, excludeUser uint) error {
	return r.send(ctx, channel, scope, Envelope{
		Type:        frame.Type,
		Payload:     frame.Payload,
		ExcludeUser: excludeUser,
	})
}

func (r *Relay) send(ctx context.Context, channel, scope string, env Envelope) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	ctx, span := observability.TraceRedisOperation(ctx, "PUBLISH")
	defer span.End()

	env.Origin = r.origin
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := r.rdb.Publish(ctx, channel, body).Err(); err != nil {
		span.RecordError(err)
		return err
	}
	observability.RelayPublishedTotal.WithLabelValues(scope).Inc()
	return nil
}

// RelayHandlers receive envelopes published by other processes.
type RelayHandlers struct {
	Room       func(chatID uint, env Envelope)
	User       func(userID uint, env Envelope)
	Superseded func(userID uint, env Envelope)
}

// Start subscribes to both relay patterns and dispatches foreign envelopes until ctx is done.
func (r *Relay) Start(ctx context.Context, h RelayHandlers) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	sub := r.rdb.PSubscribe(ctx, roomChannelPrefix+"*", userChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("relay subscribe: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if rec := recover(); rec != nil {
							observability.GlobalLogger.Error("panic in relay subscriber",
								slog.Any("panic", rec),
								slog.String("stack", string(debug.Stack())))
						}
					}()
					r.dispatch(msg.Channel, msg.Payload, h)
				}()
			}
		}
	}()

	return nil
}

func (r *Relay) dispatch(channel, payload string, h RelayHandlers) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		observability.GlobalLogger.Warn("relay envelope rejected",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
		return
	}
	if env.Origin == r.origin {
		return
	}

	switch {
	case strings.HasPrefix(channel, roomChannelPrefix):
		if id, ok := parseChannelID(channel, roomChannelPrefix); ok && h.Room != nil {
			h.Room(id, env)
		}
	case strings.HasPrefix(channel, userChannelPrefix):
		id, ok := parseChannelID(channel, userChannelPrefix)
		if !ok {
			return
		}
		if env.Type == relaySuperseded {
			if h.Superseded != nil {
				h.Superseded(id, env)
			}
			return
		}
		if h.User != nil {
			h.User(id, env)
		}
	}
}

func parseChannelID(channel, prefix string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimPrefix(channel, prefix), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
