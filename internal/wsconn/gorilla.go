package wsconn

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type gorillaConn struct {
	conn *websocket.Conn

	wmu   sync.Mutex
	pongs chan struct{}
}

func dialGorilla(ctx context.Context, rawurl string, opts Options) (Conn, error) {
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  newTLSConfig(opts),
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	conn, resp, err := d.DialContext(ctx, rawurl, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(opts.ReadLimit)

	g := &gorillaConn{conn: conn, pongs: make(chan struct{}, 1)}
	conn.SetPongHandler(func(string) error {
		select {
		case g.pongs <- struct{}{}:
		default:
		}
		return nil
	})
	return g, nil
}

// Read honours the ctx deadline only; cancellation without a deadline
// requires Close, as with net.Conn.
func (c *gorillaConn) Read(ctx context.Context) (MessageType, []byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(dl)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		switch mt {
		case websocket.TextMessage:
			return MessageText, data, nil
		case websocket.BinaryMessage:
			return MessageBinary, data, nil
		}
	}
}

func (c *gorillaConn) Write(ctx context.Context, typ MessageType, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	mt := websocket.BinaryMessage
	if typ == MessageText {
		mt = websocket.TextMessage
	}
	return c.conn.WriteMessage(mt, data)
}

func (c *gorillaConn) Ping(ctx context.Context) error {
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Now().Add(10 * time.Second)
	}
	// drop a stale pong from an earlier ping
	select {
	case <-c.pongs:
	default:
	}
	c.wmu.Lock()
	err := c.conn.WriteControl(websocket.PingMessage, nil, dl)
	c.wmu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-c.pongs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *gorillaConn) Close(code StatusCode, reason string) error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(int(code), reason), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}
