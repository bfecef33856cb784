package wsconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	DriverNhooyr  = "nhooyr"
	DriverCoder   = "coder"
	DriverGorilla = "gorilla"
)

type Options struct {
	Driver             string
	HandshakeTimeout   time.Duration
	Header             http.Header
	InsecureSkipVerify bool
	ReadLimit          int64
}

func (o Options) withDefaults() Options {
	if o.Driver == "" {
		o.Driver = DriverNhooyr
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	return o
}

// Drivers lists the accepted Options.Driver values.
func Drivers() []string {
	return []string{DriverNhooyr, DriverCoder, DriverGorilla}
}

// Dial opens a websocket to rawurl using the configured driver.
func Dial(ctx context.Context, rawurl string, opts Options) (Conn, error) {
	opts = opts.withDefaults()

	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("wsconn: unsupported scheme %q", u.Scheme)
	}

	switch opts.Driver {
	case DriverNhooyr:
		return dialNhooyr(ctx, u.String(), newTransport(opts), opts)
	case DriverCoder:
		return dialCoder(ctx, u.String(), newTransport(opts), opts)
	case DriverGorilla:
		return dialGorilla(ctx, u.String(), opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

func newTLSConfig(opts Options) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed test servers
	}
}

func newTransport(opts Options) *http.Transport {
	d := &net.Dialer{
		Timeout:   opts.HandshakeTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         d.DialContext,
		TLSClientConfig:     newTLSConfig(opts),
		TLSHandshakeTimeout: opts.HandshakeTimeout,
	}
}
