package relay

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/medconnect/callkit/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// wsConn wraps one websocket with a bounded outbound queue. A party
// that cannot drain its queue gets events dropped, not the whole hub
// stalled.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, send: make(chan core.Frame, 32)}
}

func (c *wsConn) trySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
