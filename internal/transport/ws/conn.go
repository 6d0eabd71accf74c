// Package ws carries live client sessions over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	kit "familyconnect/internal/transport"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultWriteWait = 10 * time.Second

// Conn adapts a gorilla connection to transport.Conn. gorilla allows one
// concurrent writer, so every write goes through mu.
type Conn struct {
	id string
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newConn(c *websocket.Conn) *Conn {
	return &Conn{id: uuid.NewString(), ws: c}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(ctx context.Context, p kit.Push) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.write(ctx, websocket.TextMessage, b)
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.write(ctx, websocket.PingMessage, nil)
}

func (c *Conn) write(ctx context.Context, kind int, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return kit.ErrClosed
	}
	_ = c.ws.SetWriteDeadline(deadline(ctx))
	return c.ws.WriteMessage(kind, b)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	return c.ws.Close()
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(defaultWriteWait)
}
