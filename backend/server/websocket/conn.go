package websocket

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrConnClosed     = errors.New("connection is closed")
	ErrSendBufferFull = errors.New("send buffer is full")
)

// wsConn is the session.Conn side of a websocket connection. Writes are
// queued for the sender goroutine and never block the room loop.
type wsConn struct {
	done      <-chan struct{}
	tx        chan []byte
	closing   chan struct{}
	reason    string
	code      int
	closeOnce sync.Once

	// owned by the sender goroutine
	closeSent bool
}

func newConn(ctx context.Context, bufSize int) *wsConn {
	return &wsConn{
		done:    ctx.Done(),
		tx:      make(chan []byte, bufSize),
		closing: make(chan struct{}),
	}
}

func (c *wsConn) Write(payload []byte) error {
	select {
	case <-c.closing:
		return ErrConnClosed
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.tx <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close asks the sender to close the connection with code and reason.
// Only the first call has effect.
func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.code = code
		c.reason = reason
		close(c.closing)
	})
	return nil
}

func (c *wsConn) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}
