// Package transporttest provides an in-memory transport.Conn for tests.
package transporttest

import (
	"context"
	"sync"

	kit "familyconnect/internal/transport"
)

// Conn records every push it accepts.
//
// SendErr / PingErr inject faults; Block makes Send wait for ctx to end,
// simulating a stalled client.
type Conn struct {
	id string

	mu      sync.Mutex
	pushes  []kit.Push
	closed  bool
	SendErr error
	PingErr error
	Block   bool
}

func NewConn(id string) *Conn { return &Conn{id: id} }

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(ctx context.Context, p kit.Push) error {
	c.mu.Lock()
	block, err, closed := c.Block, c.SendErr, c.closed
	c.mu.Unlock()
	if closed {
		return kit.ErrClosed
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pushes = append(c.pushes, p)
	c.mu.Unlock()
	return nil
}

func (c *Conn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return kit.ErrClosed
	}
	return c.PingErr
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Pushes returns a copy of the accepted pushes.
func (c *Conn) Pushes() []kit.Push {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]kit.Push(nil), c.pushes...)
}
