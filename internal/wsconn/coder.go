package wsconn

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

type coderConn struct {
	c *websocket.Conn
}

func dialCoder(ctx context.Context, rawurl string, tr *http.Transport, opts Options) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, rawurl, &websocket.DialOptions{
		HTTPClient: &http.Client{Transport: tr},
		HTTPHeader: opts.Header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(opts.ReadLimit)
	return &coderConn{c: conn}, nil
}

func (c *coderConn) Read(ctx context.Context) (MessageType, []byte, error) {
	mt, data, err := c.c.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	switch mt {
	case websocket.MessageText:
		return MessageText, data, nil
	default:
		return MessageBinary, data, nil
	}
}

func (c *coderConn) Write(ctx context.Context, typ MessageType, data []byte) error {
	var mt websocket.MessageType
	switch typ {
	case MessageText:
		mt = websocket.MessageText
	default:
		mt = websocket.MessageBinary
	}
	return c.c.Write(ctx, mt, data)
}

func (c *coderConn) Ping(ctx context.Context) error {
	return c.c.Ping(ctx)
}

func (c *coderConn) Close(code StatusCode, reason string) error {
	// coder/websocket Close expects a websocket.StatusCode.
	return c.c.Close(websocket.StatusCode(int(code)), reason)
}
