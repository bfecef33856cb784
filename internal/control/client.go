package control

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"testlib-ws/internal/backoff"
	"testlib-ws/internal/logging"
	"testlib-ws/internal/metrics"
	"testlib-ws/internal/queue"
	"testlib-ws/internal/wsconn"
)

var (
	ErrClosed             = errors.New("control: client closed")
	ErrNotInitialized     = errors.New("control: websocket not initialized")
	ErrAlreadyInitialized = errors.New("control: websocket already initialized")
	ErrInvalidControlURL  = errors.New("control: invalid control url")
	ErrEmptySessionID     = errors.New("control: empty test session id")
)

// SignalHandler receives the server-pushed signals that affect test flow.
type SignalHandler interface {
	SignalEndWait(reason string)
	CancelTestAndGetNext()
}

// InfoHandler is optionally implemented by a SignalHandler to see info signals.
type InfoHandler interface {
	OnInfo(value string)
}

type DialFunc func(ctx context.Context, rawurl string) (wsconn.Conn, error)

type Options struct {
	WS                wsconn.Options
	Dial              DialFunc // defaults to wsconn.Dial with WS
	Reconnect         backoff.Policy
	KeepaliveInterval time.Duration
	WriteTimeout      time.Duration
	QueueSize         int
	ReconnectRate     float64
	ReconnectBurst    int
	Logger            logging.Logger
}

// Client keeps one control websocket alive and relays signals between the
// orchestration server and the test library.
type Client struct {
	opts    Options
	logger  logging.Logger
	limiter *rate.Limiter
	outbox  *queue.Blocking[Signal]
	kick    chan struct{}

	// wmu orders writes and flushes; taken before mu.
	wmu sync.Mutex

	mu          sync.Mutex
	initialized bool
	url         string
	handler     SignalHandler
	conn        wsconn.Conn
	state       State
	stateCh     chan struct{}
	sessionID   string
	cancel      context.CancelFunc

	wg sync.WaitGroup
}

func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	if opts.Dial == nil {
		ws := opts.WS
		opts.Dial = func(ctx context.Context, rawurl string) (wsconn.Conn, error) {
			return wsconn.Dial(ctx, rawurl, ws)
		}
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.ReconnectRate <= 0 {
		opts.ReconnectRate = 1
	}
	if opts.ReconnectBurst <= 0 {
		opts.ReconnectBurst = 2
	}
	opts.Reconnect = opts.Reconnect.WithDefaults()

	return &Client{
		opts:    opts,
		logger:  opts.Logger.With("component", "control"),
		limiter: rate.NewLimiter(rate.Limit(opts.ReconnectRate), opts.ReconnectBurst),
		outbox:  queue.New[Signal](opts.QueueSize),
		kick:    make(chan struct{}, 1),
		stateCh: make(chan struct{}),
	}
}

// InitializeWebSocket binds the client to controlURL and handler and starts
// connecting in the background. Background work stops when ctx is done or
// Close is called.
func (c *Client) InitializeWebSocket(ctx context.Context, controlURL string, handler SignalHandler) error {
	u, err := url.Parse(controlURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidControlURL, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidControlURL, controlURL)
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.initialized {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.initialized = true
	c.url = u.String()
	c.handler = handler
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Infof("control websocket initialized with %s", c.url)
	c.wg.Add(1)
	go c.run(runCtx)
	return nil
}

// ReconnectIfNeeded starts a connect attempt right away when the socket is
// down and none is in flight. It is a no-op otherwise.
func (c *Client) ReconnectIfNeeded(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	initialized, st := c.initialized, c.state
	c.mu.Unlock()

	switch {
	case st == StateClosed:
		return ErrClosed
	case !initialized:
		return ErrNotInitialized
	case st == StateConnected || st == StateConnecting:
		return nil
	}
	if !c.limiter.Allow() {
		c.logger.Debug("reconnect request throttled")
		return nil
	}
	select {
	case c.kick <- struct{}{}:
		c.logger.Debug("reconnect requested")
	default:
	}
	return nil
}

// SendInitTestSessionSignal announces testSessionID to the server. While the
// socket is down the signal is buffered and sent after the next connect.
func (c *Client) SendInitTestSessionSignal(ctx context.Context, testSessionID string) error {
	if strings.TrimSpace(testSessionID) == "" {
		return ErrEmptySessionID
	}
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.sessionID = testSessionID
	c.mu.Unlock()

	return c.send(ctx, Signal{Type: SignalInitTestSession, Value: testSessionID})
}

// SessionID returns the last announced test session id.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending reports how many signals are buffered for the next connect.
func (c *Client) Pending() int {
	return c.outbox.Len()
}

// WaitState blocks until the client reaches want or ctx is done.
func (c *Client) WaitState(ctx context.Context, want State) error {
	for {
		c.mu.Lock()
		st, ch := c.state, c.stateCh
		c.mu.Unlock()
		if st == want {
			return nil
		}
		if st == StateClosed {
			return ErrClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Close stops the connect loop and closes the socket with a normal closure.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		// the loop may have ended on its own context
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		c.wg.Wait()
		return nil
	}
	cancel, conn := c.cancel, c.conn
	c.conn = nil
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(wsconn.StatusNormalClosure, "client closed")
	}
	c.wg.Wait()
	metrics.SetConnected(false)
	c.logger.Info("control websocket closed")
	return nil
}

func (c *Client) setStateLocked(st State) {
	if c.state == st || c.state == StateClosed {
		return
	}
	c.state = st
	close(c.stateCh)
	c.stateCh = make(chan struct{})
}

func (c *Client) setState(st State) {
	c.mu.Lock()
	c.setStateLocked(st)
	c.mu.Unlock()
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	// nothing reconnects once the loop is gone
	defer c.setState(StateClosed)

	attempt, connects := 0, 0
	for ctx.Err() == nil {
		c.setState(StateConnecting)
		conn, err := c.opts.Dial(ctx, c.url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			metrics.ObserveDialFailure(err)
			c.setState(StateDisconnected)

			if c.opts.Reconnect.Exhausted(attempt) {
				c.logger.Errorf("control dial failed %d times, waiting for manual reconnect: %v", attempt, err)
				if !c.waitKick(ctx, 0) {
					return
				}
				attempt = 0
				continue
			}
			delay := c.opts.Reconnect.Delay(attempt)
			c.logger.Warnf("control dial attempt=%d url=%q err=%v, next in %v", attempt, c.url, err, delay)
			if !c.waitKick(ctx, delay) {
				return
			}
			continue
		}

		if connects > 0 {
			c.logger.Infof("control websocket reconnected after %d failed attempts", attempt)
		}
		connects++
		attempt = 0
		if !c.attach(conn) {
			_ = conn.Close(wsconn.StatusNormalClosure, "client closed")
			return
		}
		c.serve(ctx, conn)
		c.detach(conn)
	}
}

// waitKick sleeps for d (forever when d is 0) or until a manual reconnect.
// It returns false when ctx is done.
func (c *Client) waitKick(ctx context.Context, d time.Duration) bool {
	var timer <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-c.kick:
		return true
	case <-timer:
		return true
	}
}

// attach publishes conn, re-announces the current session, and flushes
// buffered signals in order before any new send can interleave.
func (c *Client) attach(conn wsconn.Conn) bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.setStateLocked(StateConnected)
	sid := c.sessionID
	c.mu.Unlock()

	metrics.ControlConnectsTotal.Inc()
	metrics.SetConnected(true)
	c.logger.Infof("control websocket connected to %s", c.url)

	pending := c.outbox.Drain()
	frames := pending
	if sid != "" && !announces(pending, sid) {
		frames = append([]Signal{{Type: SignalInitTestSession, Value: sid}}, pending...)
	}
	for i, s := range frames {
		if err := c.writeSignal(conn, s); err != nil {
			c.logger.Warnf("flush of %d buffered signals failed: %v", len(frames)-i, err)
			for _, rest := range frames[i:] {
				c.buffer(rest)
			}
			_ = conn.Close(wsconn.StatusGoingAway, "write failed")
			break
		}
	}
	return true
}

func announces(frames []Signal, sid string) bool {
	for _, s := range frames {
		if s.Type == SignalInitTestSession && s.Value == sid {
			return true
		}
	}
	return false
}

func (c *Client) detach(conn wsconn.Conn) {
	c.mu.Lock()
	owned := c.conn == conn
	if owned {
		c.conn = nil
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()
	if !owned {
		// Close already took the socket
		return
	}
	metrics.SetConnected(false)
	_ = conn.Close(wsconn.StatusGoingAway, "reconnecting")
}

// serve runs the read loop (and keepalive) until the connection breaks.
func (c *Client) serve(ctx context.Context, conn wsconn.Conn) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.opts.KeepaliveInterval > 0 {
		c.wg.Add(1)
		go c.keepalive(sctx, conn)
	}

	for {
		typ, data, err := conn.Read(sctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warnf("control websocket read failed: %v", err)
			}
			return
		}
		if typ != wsconn.MessageText {
			c.logger.Debug("ignoring non-text control frame", "bytes", len(data))
			continue
		}
		c.dispatch(data)
	}
}

func (c *Client) keepalive(ctx context.Context, conn wsconn.Conn) {
	defer c.wg.Done()
	t := time.NewTicker(c.opts.KeepaliveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, c.opts.KeepaliveInterval)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Warnf("control keepalive failed: %v", err)
					_ = conn.Close(wsconn.StatusGoingAway, "keepalive failed")
				}
				return
			}
		}
	}
}

func (c *Client) dispatch(data []byte) {
	sig, err := DecodeSignal(data)
	if err != nil {
		c.logger.Warnf("dropping malformed control frame: %v", err)
		return
	}
	metrics.ObserveSignal("in", string(sig.Type))

	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	switch sig.Type {
	case SignalInfo:
		c.logger.Infof("info from server: %s", sig.Value)
		if ih, ok := h.(InfoHandler); ok {
			ih.OnInfo(sig.Value)
		}
	case SignalEndWait:
		c.logger.Debugf("end wait signal: %s", sig.Value)
		if h != nil {
			h.SignalEndWait(sig.Value)
		}
	case SignalCancelCurrentTest:
		c.logger.Infof("cancel current test signal: %s", sig.Value)
		if h != nil {
			h.CancelTestAndGetNext()
		}
	default:
		c.logger.Warnf("cannot handle control signal %q", string(data))
	}
}

func (c *Client) send(ctx context.Context, s Signal) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.buffer(s)
		c.logger.Debug("control socket down, signal buffered", "type", s.Type)
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := c.writeSignalCtx(wctx, conn, s); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warnf("control write failed, buffering %s: %v", s.Type, err)
		c.buffer(s)
		_ = conn.Close(wsconn.StatusGoingAway, "write failed")
	}
	return nil
}

func (c *Client) writeSignal(conn wsconn.Conn, s Signal) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	return c.writeSignalCtx(ctx, conn, s)
}

func (c *Client) writeSignalCtx(ctx context.Context, conn wsconn.Conn, s Signal) error {
	b, err := EncodeSignal(s)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, wsconn.MessageText, b); err != nil {
		return err
	}
	metrics.ObserveSignal("out", string(s.Type))
	return nil
}

func (c *Client) buffer(s Signal) {
	metrics.ControlQueuedFramesTotal.Inc()
	if evicted, dropped := c.outbox.Offer(s); dropped {
		metrics.ControlDroppedFramesTotal.Inc()
		c.logger.Warnf("control buffer full, dropped %s signal", evicted.Type)
	}
}
