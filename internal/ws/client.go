package ws

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/atharvavshelke/SecureConnect/internal/protocol"
)

// Client is one live websocket connection. It starts anonymous; Bind is
// called once when the authenticate event verifies.
type Client struct {
	Conn *websocket.Conn
	Send chan protocol.Event

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	userID   uint
	username string
	isAdmin  bool
}

func newClient(conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		Conn:   conn,
		Send:   make(chan protocol.Event, 64),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Bind attaches a verified identity to the connection.
func (c *Client) Bind(userID uint, username string, isAdmin bool) {
	c.mu.Lock()
	c.userID = userID
	c.username = username
	c.isAdmin = isAdmin
	c.mu.Unlock()
}

func (c *Client) UserID() uint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) IsAdmin() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isAdmin
}

func (c *Client) Authenticated() bool {
	return c.UserID() != 0
}

// Enqueue hands an event to the write loop without blocking; a full
// buffer drops the event rather than stalling the caller.
func (c *Client) Enqueue(ev protocol.Event) {
	select {
	case c.Send <- ev:
	default:
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.Send:
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = wsjson.Write(writeCtx, c.Conn, ev)
			cancel()
		}
	}
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = c.Conn.Ping(pingCtx)
			cancel()
		}
	}
}
