package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client is one authenticated websocket connection.
type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan serverMessage

	// rooms is the set of guild rooms this connection sits in.
	// Guarded by the registry's mutex.
	rooms map[string]struct{}

	// mu guards closed and the send channel's lifecycle. Broadcast
	// goroutines hold registry snapshots that can outlive a disconnect,
	// so a send racing close must see the flag, not a closed channel.
	mu     sync.Mutex
	closed bool
}

func newClient(id, userID string, conn *websocket.Conn, sendBuffer int) *client {
	return &client{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan serverMessage, sendBuffer),
		rooms:  make(map[string]struct{}),
	}
}

// trySend queues a message without blocking. The fan-out loop must never
// stall on one slow client, so a full buffer drops the frame. Sends after
// close are dropped the same way.
func (c *client) trySend(msg serverMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close marks the client dead and closes the send channel; the write pump
// closes the underlying connection when it drains. Safe to call more than
// once and concurrently with trySend.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump writes queued messages until the send channel closes or a
// write fails.
func (c *client) writePump() {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			break
		}
	}
	c.conn.Close()
}
