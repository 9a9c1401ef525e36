package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultWriteTimeout bounds each frame written to a client.
	DefaultWriteTimeout = 10 * time.Second
	maxClientMessage    = 512
)

// Conn is the client transport as seen by a Session. Only the session
// goroutine calls WriteJSON; Close may be called from any goroutine.
type Conn interface {
	WriteJSON(v any) error
	Close(code int, reason string) error
}

// WSConn adapts a gorilla websocket connection to Conn.
type WSConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// NewWSConn wraps c. A zero writeTimeout defaults to 10s.
func NewWSConn(c *websocket.Conn, writeTimeout time.Duration) *WSConn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &WSConn{conn: c, writeTimeout: writeTimeout}
}

// WriteJSON sends v as one text frame.
func (c *WSConn) WriteJSON(v any) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Close sends a close frame with code and reason, then closes the socket.
// Subsequent calls return the first result.
func (c *WSConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// ReadPump discards client frames until the connection fails or the peer
// closes it, then cancels the session with ErrClientGone. It must run in its
// own goroutine; control frames (ping, close) are answered by the default
// handlers while it reads.
func (c *WSConn) ReadPump(cancel context.CancelCauseFunc) {
	defer cancel(ErrClientGone)
	c.conn.SetReadLimit(maxClientMessage)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}
