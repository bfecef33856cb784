// Package testlib drives an SDK test session: it pulls commands from the
// orchestration server, runs them through a CommandExecutor and reacts to
// control signals pushed over the control websocket.
package testlib

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"testlib-ws/internal/backoff"
	"testlib-ws/internal/control"
	"testlib-ws/internal/logging"
	"testlib-ws/internal/metrics"
	"testlib-ws/internal/networking"
	"testlib-ws/internal/queue"
)

const libraryClass = "TestLibrary"

var ErrClosed = errors.New("testlib: library closed")

type Option func(*options)

type options struct {
	logger  logging.Logger
	http    networking.Options
	control control.Options
	onExit  func()
}

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithHTTPOptions(h networking.Options) Option {
	return func(o *options) { o.http = h }
}

// WithControlOptions configures the control websocket client. Its Logger is
// replaced by the library logger when unset.
func WithControlOptions(c control.Options) Option {
	return func(o *options) { o.control = c }
}

// WithOnExit registers fn to run once when the session ends.
func WithOnExit(fn func()) Option {
	return func(o *options) { o.onExit = fn }
}

type job func(g *generation) bool

// generation is one worker lifetime. A reset cancels it and starts the next.
type generation struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   *queue.Blocking[job]
	done   chan struct{}
}

type Library struct {
	logger     logging.Logger
	http       *networking.Client
	control    *control.Client
	controlURL string
	executor   CommandExecutor
	onExit     func()

	ctx    context.Context
	cancel context.CancelFunc
	waitQ  *queue.Blocking[string]
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	gen       *generation
	testNames strings.Builder
	info      url.Values
	basePath  string
	testName  string
	sessionID string
	clientSDK string
	wsStarted bool

	exitOnce sync.Once
	done     chan struct{}
}

var _ control.SignalHandler = (*Library)(nil)

// New builds a library for the given command-channel and control URLs. An
// empty controlURL disables the control websocket.
func New(baseURL, controlURL string, executor CommandExecutor, opts ...Option) *Library {
	o := options{logger: logging.NewNoOpLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if executor == nil {
		executor = ExecutorFunc(func(string, string, map[string][]string) {})
	}
	logger := o.logger.With("component", "testlib")

	ctx, cancel := context.WithCancel(context.Background())
	l := &Library{
		logger:     logger,
		http:       networking.NewClient(baseURL, o.http, o.logger),
		controlURL: controlURL,
		executor:   executor,
		onExit:     o.onExit,
		ctx:        ctx,
		cancel:     cancel,
		waitQ:      queue.New[string](0),
		info:       url.Values{},
		done:       make(chan struct{}),
	}
	if controlURL != "" {
		co := o.control
		if co.Logger == nil {
			co.Logger = o.logger
		}
		l.control = control.NewClient(co)
	}
	l.reset()
	return l
}

// AddTest selects a single test for the next session.
func (l *Library) AddTest(name string) {
	l.mu.Lock()
	l.testNames.WriteString(normalizeTest(name))
	l.mu.Unlock()
}

// AddTestDirectory selects every test under dir for the next session.
func (l *Library) AddTestDirectory(dir string) {
	l.mu.Lock()
	l.testNames.WriteString(normalizeTestDirectory(dir))
	l.mu.Unlock()
}

// TestNames returns the Test-Names header value sent by StartTestSession.
func (l *Library) TestNames() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.testNames.String()
}

func (l *Library) AddInfoToSend(key, value string) {
	l.mu.Lock()
	l.info.Set(key, value)
	l.mu.Unlock()
}

// SetInfoToSend replaces the pending info with m.
func (l *Library) SetInfoToSend(m map[string]string) {
	info := url.Values{}
	for k, v := range m {
		info.Set(k, v)
	}
	l.mu.Lock()
	l.info = info
	l.mu.Unlock()
}

func (l *Library) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// BasePath returns the base path of the running test.
func (l *Library) BasePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.basePath
}

func (l *Library) TestName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.testName
}

// Control exposes the control client, nil when no control URL was given.
func (l *Library) Control() *control.Client { return l.control }

// StartTestSession resets the library and asks the server for a new test
// session. The session runs in the background; use Wait or Done.
func (l *Library) StartTestSession(clientSDK string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.clientSDK = clientSDK
	startWS := l.control != nil && !l.wsStarted
	l.mu.Unlock()

	if l.control != nil {
		if startWS {
			err := l.control.InitializeWebSocket(l.ctx, l.controlURL, l)
			if err != nil && !errors.Is(err, control.ErrAlreadyInitialized) {
				return err
			}
			l.mu.Lock()
			l.wsStarted = true
			l.mu.Unlock()
		} else if err := l.control.ReconnectIfNeeded(l.ctx); err != nil {
			return err
		}
	}

	l.reset()
	l.submit(l.initSession)
	return nil
}

// SendInfoToServer posts the pending info to extraPath (or the current base
// path) and runs whatever commands the server answers with.
func (l *Library) SendInfoToServer(extraPath string) {
	l.mu.Lock()
	base := extraPath
	if base == "" {
		base = l.basePath
	}
	form := l.info
	l.info = url.Values{}
	l.mu.Unlock()

	path := networking.AppendBasePath(base, networking.PathTestServer)
	l.submit(func(g *generation) bool {
		return l.post(g, path, form)
	})
}

// SignalEndWait releases a pending wait-for-control command, or the next one
// if none is pending yet.
func (l *Library) SignalEndWait(reason string) {
	l.logger.Debugf("end wait: %s", reason)
	l.waitQ.Offer(reason)
}

// CancelTestAndGetNext aborts the running test, including a blocked wait,
// and fetches the next one.
func (l *Library) CancelTestAndGetNext() {
	l.logger.Info("cancelling current test")
	l.reset()
	l.submit(l.endTestReadNext)
}

func (l *Library) OnInfo(value string) {
	l.logger.Infof("server info: %s", value)
}

// Done is closed when the session ends with endTestSession or exit.
func (l *Library) Done() <-chan struct{} { return l.done }

func (l *Library) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker and the control client. It waits for a running
// executor call to return.
func (l *Library) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	var err error
	if l.control != nil {
		err = l.control.Close()
	}
	l.wg.Wait()
	return err
}

// reset cancels the current generation and starts a fresh worker. The new
// worker waits for the old one so commands never overlap.
func (l *Library) reset() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	old := l.gen
	ctx, cancel := context.WithCancel(l.ctx)
	gen := &generation{
		ctx:    ctx,
		cancel: cancel,
		jobs:   queue.New[job](0),
		done:   make(chan struct{}),
	}
	l.gen = gen
	l.wg.Add(1)
	l.mu.Unlock()

	if old != nil {
		old.cancel()
	}
	l.waitQ.Clear()

	go l.work(gen, old)
}

func (l *Library) work(gen, prev *generation) {
	defer l.wg.Done()
	defer close(gen.done)
	defer gen.cancel()

	// wait for the predecessor even when cancelled: executor calls never overlap
	if prev != nil {
		<-prev.done
	}
	for gen.ctx.Err() == nil {
		j, err := gen.jobs.Take(gen.ctx)
		if err != nil {
			return
		}
		if !j(gen) {
			return
		}
	}
}

func (l *Library) submit(j job) {
	l.mu.Lock()
	gen := l.gen
	l.mu.Unlock()
	if gen != nil {
		gen.jobs.Offer(j)
	}
}

func (l *Library) sessionHeader() http.Header {
	h := http.Header{}
	if sid := l.SessionID(); sid != "" {
		h.Set(networking.HeaderTestSessionID, sid)
	}
	return h
}

func (l *Library) initSession(g *generation) bool {
	ctx := g.ctx
	l.mu.Lock()
	h := http.Header{}
	h.Set(networking.HeaderClientSDK, l.clientSDK)
	if names := l.testNames.String(); names != "" {
		h.Set(networking.HeaderTestNames, names)
	}
	l.mu.Unlock()

	resp, err := l.http.Post(ctx, networking.PathInitSession, h, nil)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Errorf("init session failed: %v", err)
		}
		return true
	}

	sid := resp.Header.Get(networking.HeaderTestSessionID)
	if sid == "" {
		l.logger.Warn("init session response carried no test session id")
	} else {
		l.mu.Lock()
		l.sessionID = sid
		l.mu.Unlock()
		l.logger.Infof("test session %s started", sid)
		if l.control != nil {
			if err := l.control.SendInitTestSessionSignal(ctx, sid); err != nil {
				l.logger.Warnf("announce test session: %v", err)
			}
		}
	}
	return l.runCommands(g, resp.Body)
}

func (l *Library) endTestReadNext(g *generation) bool {
	return l.post(g, networking.PathEndTestReadNext, nil)
}

func (l *Library) post(g *generation, path string, form url.Values) bool {
	ctx := g.ctx
	resp, err := l.http.Post(ctx, path, l.sessionHeader(), form)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Errorf("POST %s failed: %v", path, err)
		}
		return true
	}
	return l.runCommands(g, resp.Body)
}

// runCommands executes a command batch in order. It returns false when the
// session ended and the worker must stop.
func (l *Library) runCommands(g *generation, body []byte) bool {
	cmds, err := networking.DecodeCommands(body)
	if err != nil {
		l.logger.Errorf("bad command batch: %v", err)
		return true
	}
	for _, cmd := range cmds {
		if g.ctx.Err() != nil {
			return true
		}
		if !l.exec(g, cmd) {
			return false
		}
	}
	return true
}

func (l *Library) exec(g *generation, cmd networking.Command) bool {
	metrics.CommandsTotal.WithLabelValues(cmd.ClassName).Inc()
	if cmd.ClassName != libraryClass {
		l.logger.Debug("executing command", "class", cmd.ClassName, "method", cmd.FunctionName)
		l.executor.ExecuteCommand(cmd.ClassName, cmd.FunctionName, cmd.Params)
		return true
	}

	switch cmd.FunctionName {
	case "resetTest":
		l.resetTest(cmd)
	case "endTestReadNext":
		// queued so that info posted by this test reaches the server first
		g.jobs.Offer(l.endTestReadNext)
	case "endTestSession", "exit":
		l.finish(cmd.FunctionName)
		return false
	case "wait":
		l.wait(g.ctx, cmd)
	default:
		l.logger.Warnf("unknown %s command %q", libraryClass, cmd.FunctionName)
	}
	return true
}

func (l *Library) resetTest(cmd networking.Command) {
	l.mu.Lock()
	if cmd.Has("basePath") {
		l.basePath = cmd.First("basePath")
	}
	if cmd.Has("testName") {
		l.testName = cmd.First("testName")
	}
	base, name := l.basePath, l.testName
	l.mu.Unlock()
	l.waitQ.Clear()
	l.logger.Infof("reset test %q base path %q", name, base)
}

func (l *Library) wait(ctx context.Context, cmd networking.Command) {
	if cmd.Has("control") {
		l.logger.Debugf("waiting for control signal (%s)", cmd.First("control"))
		reason, err := l.waitQ.Take(ctx)
		if err != nil {
			return
		}
		l.logger.Debugf("wait for control released: %s", reason)
	}
	if cmd.Has("sleep") {
		ms, err := strconv.Atoi(cmd.First("sleep"))
		if err != nil || ms < 0 {
			l.logger.Warnf("bad sleep value %q", cmd.First("sleep"))
			return
		}
		l.logger.Debugf("sleeping %dms", ms)
		_ = backoff.Sleep(ctx, time.Duration(ms)*time.Millisecond)
	}
}

func (l *Library) finish(reason string) {
	l.exitOnce.Do(func() {
		l.logger.Infof("test session finished (%s)", reason)
		close(l.done)
		if l.onExit != nil {
			l.onExit()
		}
	})
}
