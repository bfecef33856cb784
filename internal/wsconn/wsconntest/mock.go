// Package wsconntest provides an in-memory wsconn.Conn for tests.
package wsconntest

import (
	"context"
	"errors"
	"sync"

	"testlib-ws/internal/wsconn"
)

var ErrClosed = errors.New("wsconntest: closed")

type Frame struct {
	Type wsconn.MessageType
	Data []byte
}

// Conn is a scripted connection: the test pushes frames with Deliver and
// inspects what the code under test wrote with Writes.
type Conn struct {
	mu       sync.Mutex
	writes   []Frame
	inbox    chan Frame
	closed   chan struct{}
	once     sync.Once
	pingErr  error
	writeErr error

	closeCode   wsconn.StatusCode
	closeReason string
	closeCalled bool
}

func NewConn() *Conn {
	return &Conn{
		inbox:  make(chan Frame, 64),
		closed: make(chan struct{}),
	}
}

// Deliver queues a text frame for Read.
func (c *Conn) Deliver(data string) {
	c.inbox <- Frame{Type: wsconn.MessageText, Data: []byte(data)}
}

func (c *Conn) SetPingError(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

func (c *Conn) SetWriteError(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// Drop simulates the peer going away: pending and future Reads fail.
func (c *Conn) Drop() {
	c.once.Do(func() { close(c.closed) })
}

func (c *Conn) Writes() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.writes...)
}

// TextWrites returns the payloads of all text frames written so far.
func (c *Conn) TextWrites() []string {
	var out []string
	for _, f := range c.Writes() {
		if f.Type == wsconn.MessageText {
			out = append(out, string(f.Data))
		}
	}
	return out
}

func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) CloseStatus() (wsconn.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

func (c *Conn) Read(ctx context.Context) (wsconn.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-c.closed:
		return 0, nil, ErrClosed
	case f := <-c.inbox:
		return f.Type, f.Data, nil
	}
}

func (c *Conn) Write(ctx context.Context, typ wsconn.MessageType, data []byte) error {
	if c.Closed() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, Frame{Type: typ, Data: append([]byte(nil), data...)})
	return nil
}

func (c *Conn) Ping(ctx context.Context) error {
	if c.Closed() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

// Close records the first close status; later calls only re-drop.
func (c *Conn) Close(code wsconn.StatusCode, reason string) error {
	c.mu.Lock()
	if !c.closeCalled {
		c.closeCalled = true
		c.closeCode = code
		c.closeReason = reason
	}
	c.mu.Unlock()
	c.Drop()
	return nil
}
