package wsconn

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
)

type nhooyrConn struct {
	c *websocket.Conn
}

// WrapNhooyr adapts an accepted or dialed nhooyr connection.
func WrapNhooyr(c *websocket.Conn) Conn {
	return &nhooyrConn{c: c}
}

func dialNhooyr(ctx context.Context, rawurl string, tr *http.Transport, opts Options) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	c, _, err := websocket.Dial(dctx, rawurl, &websocket.DialOptions{
		HTTPClient: &http.Client{Transport: tr},
		HTTPHeader: opts.Header,
	})
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(opts.ReadLimit)
	return &nhooyrConn{c: c}, nil
}

func (c *nhooyrConn) Read(ctx context.Context) (MessageType, []byte, error) {
	mt, data, err := c.c.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	if mt == websocket.MessageText {
		return MessageText, data, nil
	}
	return MessageBinary, data, nil
}

func (c *nhooyrConn) Write(ctx context.Context, typ MessageType, data []byte) error {
	mt := websocket.MessageBinary
	if typ == MessageText {
		mt = websocket.MessageText
	}
	return c.c.Write(ctx, mt, data)
}

func (c *nhooyrConn) Ping(ctx context.Context) error {
	return c.c.Ping(ctx)
}

func (c *nhooyrConn) Close(code StatusCode, reason string) error {
	return c.c.Close(websocket.StatusCode(int(code)), reason)
}
