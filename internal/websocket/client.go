package websocket

import (
	"context"
	"sync"
	"time"

	"bookdesk/internal/domain/user"
	"bookdesk/internal/observability"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

// Client is one admin panel websocket session.
type Client struct {
	ID       string
	UserID   string
	Role     user.Role
	Conn     *websocket.Conn
	Send     chan []byte
	channels map[string]bool
	mu       sync.RWMutex

	sendMu sync.Mutex
	closed bool
}

func NewClient(conn *websocket.Conn, userID string, role user.Role) *Client {
	return &Client{
		ID:       uuid.New().String(),
		UserID:   userID,
		Role:     role,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		channels: make(map[string]bool),
	}
}

// Subscribe records a channel on the client. Hub use only.
func (c *Client) Subscribe(channel string) {
	c.mu.Lock()
	c.channels[channel] = true
	c.mu.Unlock()
}

func (c *Client) Unsubscribe(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

func (c *Client) GetChannels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	return channels
}

// WriteLoop pumps the Send channel to the connection and pings the peer.
func (c *Client) WriteLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.close()
			return
		case msg, ok := <-c.Send:
			if !ok {
				c.mu.Lock()
				_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.mu.Unlock()
				c.close()
				return
			}
			c.mu.Lock()
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.Conn.WriteMessage(websocket.TextMessage, msg)
			c.mu.Unlock()
			if err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.mu.Lock()
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.Conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *Client) close() {
	c.mu.Lock()
	_ = c.Conn.Close()
	c.mu.Unlock()
}

// SendMessage queues msg without blocking. A full buffer drops the frame;
// sends after the hub released the client are ignored.
func (c *Client) SendMessage(msg []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- msg:
	default:
		observability.WebSocketDrops.Inc()
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
