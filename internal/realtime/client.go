package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 32
)

// Client is one websocket connection tracked by the hub. The identity
// fields and the closed flag are guarded by the client mutex; sessions
// and courses hold this connection's subscriptions and are guarded by
// the hub mutex.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	sendCh   chan []byte
	done     chan struct{}
	closeOne sync.Once

	mu     sync.Mutex
	closed bool
	userID string
	role   string

	sessions map[string]struct{}
	courses  map[string]struct{}
}

func newClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		sendCh:   make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		sessions: make(map[string]struct{}),
		courses:  make(map[string]struct{}),
	}
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) setIdentity(userID, role string) {
	c.mu.Lock()
	c.userID = userID
	c.role = role
	c.mu.Unlock()
}

func (c *Client) identity() (userID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.role
}

// send enqueues a frame without blocking; a client that cannot keep up
// loses frames rather than stalling the hub. After close, frames are
// discarded. The send queue itself is never closed: late producers such
// as an in-flight ack may still call send while the read pump winds
// down, and a send on a closed channel would panic.
func (c *Client) send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.sendCh <- data:
	default:
	}
}

// close stops the write pump via the done channel and marks the client
// so later sends become no-ops.
func (c *Client) close() {
	c.closeOne.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
