package notifications

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"huddle/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Base64 attachments ride in frames.
	maxMessageSize = 8 << 20

	sendBufferSize = 256
)

// WSHub owns clients and is told when their connection ends.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is one websocket session. Writes go through Send, drained by WritePump.
type Client struct {
	ConnID string
	UserID uint
	Hub    WSHub
	Conn   *websocket.Conn
	Send   chan []byte

	// IncomingHandler receives every inbound frame in arrival order.
	IncomingHandler func(*Client, []byte)
	// OnActivity runs on every inbound frame and pong.
	OnActivity func(*Client)

	loggedIn  atomic.Bool
	closeOnce sync.Once
}

// NewClient creates a session for an authenticated connection.
func NewClient(hub WSHub, conn *websocket.Conn, connID string, userID uint) *Client {
	return &Client{
		ConnID: connID,
		UserID: userID,
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, sendBufferSize),
	}
}

// MarkLoggedIn records a successful login event.
func (c *Client) MarkLoggedIn() {
	c.loggedIn.Store(true)
}

// LoggedIn reports whether the session has logged in.
func (c *Client) LoggedIn() bool {
	return c.loggedIn.Load()
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// ReadPump pumps frames from the connection to IncomingHandler until the
// connection fails, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.NewWSLogger(c.Hub.Name()).LogError(context.Background(), c.UserID, c.ConnID, err, "read")
			}
			return
		}
		c.touch()

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

func (c *Client) touch() {
	if c.OnActivity != nil {
		c.OnActivity(c)
	}
}

// WritePump pumps frames from Send to the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues message without blocking. The last buffer slot is kept for
// a messages_dropped notice, so a session that falls behind learns it missed
// events once per overflow. A closed session drops silently. It reports
// whether message was queued.
func (c *Client) TrySend(message []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "closed").Inc()
			sent = false
		}
	}()

	if len(c.Send) < cap(c.Send)-1 {
		select {
		case c.Send <- message:
			return true
		default:
		}
	}

	observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "full").Inc()
	observability.Logger.Warn("websocket buffer full, dropped message",
		"hub", c.hubName(), "user_id", c.UserID, "conn_id", c.ConnID)

	select {
	case c.Send <- dropNotice:
	default:
	}
	return false
}

func (c *Client) hubName() string {
	if c.Hub == nil {
		return "unknown"
	}
	return c.Hub.Name()
}
