package notifications

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"relay/internal/models"
	"relay/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	// DefaultSendBuffer is the outbound queue length when none is configured.
	DefaultSendBuffer = 256
)

var dropNotice = []byte(`{"type":"messages_dropped","payload":{"reason":"buffer_full"}}`)

// Client is one authenticated realtime connection.
type Client struct {
	// ID distinguishes successive connections of the same user.
	ID       string
	UserID   uint
	Username string
	Avatar   string

	// ConnectedAt orders connections of the same user across processes.
	ConnectedAt time.Time

	Conn *websocket.Conn

	// Buffered channel of outbound frames.
	Send chan []byte

	// IncomingHandler receives every inbound frame, one at a time.
	IncomingHandler func(*Client, []byte)

	// OnClose runs once when the read pump exits.
	OnClose func(*Client)

	done      chan struct{}
	initOnce  sync.Once
	closeOnce sync.Once
}

// NewClient creates a Client for an authenticated user.
func NewClient(conn *websocket.Conn, user models.UserSummary, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Username:    user.Username,
		Avatar:      user.Avatar,
		ConnectedAt: time.Now(),
		Conn:        conn,
		Send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
}

// Summary returns the display attributes cached on the connection.
func (c *Client) Summary() models.UserSummary {
	return models.UserSummary{ID: c.UserID, Username: c.Username, Avatar: c.Avatar}
}

func (c *Client) doneCh() chan struct{} {
	c.initOnce.Do(func() {
		if c.done == nil {
			c.done = make(chan struct{})
		}
	})
	return c.done
}

// Close stops the write pump. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.doneCh())
	})
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.doneCh():
		return true
	default:
		return false
	}
}

// ReadPump reads frames until the connection fails and hands each to IncomingHandler.
// Frames are handled sequentially, so events from one connection never interleave.
func (c *Client) ReadPump() {
	defer func() {
		if c.OnClose != nil {
			c.OnClose(c)
		}
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.GlobalLogger.Warn("websocket read failed",
					slog.Uint64("user_id", uint64(c.UserID)),
					slog.String("conn_id", c.ID),
					slog.String("error", err.Error()))
			}
			return
		}

		if c.IncomingHandler != nil {
			c.handle(message)
		}
	}
}

func (c *Client) handle(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.GlobalLogger.Error("panic while handling websocket frame",
				slog.Uint64("user_id", uint64(c.UserID)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	c.IncomingHandler(c, message)
}

// WritePump writes queued frames and keepalive pings until the client is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	done := c.doneCh()
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a frame without blocking. When the buffer is full the frame is
// dropped and a messages_dropped notice is attempted so the client can re-fetch.
func (c *Client) TrySend(message []byte) bool {
	if c.Closed() {
		observability.WebSocketBackpressureDrops.WithLabelValues(componentName, "closed").Inc()
		return false
	}

	select {
	case c.Send <- message:
		return true
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(componentName, "full").Inc()
		wsLog.LogError(context.Background(), c.UserID, c.ID, errBufferFull, "send")

		select {
		case c.Send <- dropNotice:
		default:
		}
		return false
	}
}
