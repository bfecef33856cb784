// Package testserver is an in-process orchestration server. It serves test
// commands from a Script and holds the control websockets of the clients.
package testserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"nhooyr.io/websocket"

	"testlib-ws/internal/control"
	"testlib-ws/internal/logging"
	"testlib-ws/internal/networking"
	"testlib-ws/internal/wsconn"
)

const ControlPath = "/control"

var ErrUnknownSession = errors.New("testserver: unknown test session")

// Request is one recorded command-channel call.
type Request struct {
	Path      string
	SessionID string
	Header    http.Header
	Form      url.Values
}

type session struct {
	id      string
	pending []Test
	current *Test
	socket  wsconn.Conn
	ready   chan struct{}
}

type Server struct {
	script *Script
	logger logging.Logger
	router *mux.Router

	mu       sync.Mutex
	sessions map[string]*session
	requests []Request
	signals  []control.Signal
}

func New(script *Script, logger logging.Logger) *Server {
	if script == nil {
		script = &Script{}
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	s := &Server{
		script:   script,
		logger:   logger.With("component", "testserver"),
		sessions: map[string]*session{},
	}

	r := mux.NewRouter()
	r.HandleFunc(networking.PathInitSession, s.handleInitSession).Methods(http.MethodPost)
	r.HandleFunc(networking.PathEndTestReadNext, s.handleEndTestReadNext).Methods(http.MethodPost)
	r.HandleFunc(networking.PathTestServer, s.handleTestServer).Methods(http.MethodPost)
	r.HandleFunc("/{base:.+}"+networking.PathTestServer, s.handleTestServer).Methods(http.MethodPost)
	r.HandleFunc(ControlPath, s.handleControl).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		s.closeSockets()
	}()
	s.logger.Infof("mock server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// SendSignal pushes sig to the socket that announced sessionID.
func (s *Server) SendSignal(ctx context.Context, sessionID string, sig control.Signal) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	var conn wsconn.Conn
	if ok {
		conn = sess.socket
	}
	s.mu.Unlock()
	if conn == nil {
		return ErrUnknownSession
	}
	b, err := control.EncodeSignal(sig)
	if err != nil {
		return err
	}
	return conn.Write(ctx, wsconn.MessageText, b)
}

// WaitAnnounced blocks until a control socket announced sessionID.
func (s *Server) WaitAnnounced(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	select {
	case <-sess.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions returns the ids handed out so far.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Signals returns the control frames received from clients.
func (s *Server) Signals() []control.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]control.Signal(nil), s.signals...)
}

func (s *Server) record(r *http.Request, path string) Request {
	_ = r.ParseForm()
	req := Request{
		Path:      path,
		SessionID: r.Header.Get(networking.HeaderTestSessionID),
		Header:    r.Header.Clone(),
		Form:      r.PostForm,
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return req
}

func (s *Server) handleInitSession(w http.ResponseWriter, r *http.Request) {
	s.record(r, networking.PathInitSession)

	sess := &session{
		id:      uuid.NewString(),
		pending: s.script.Select(r.Header.Get(networking.HeaderTestNames)),
		ready:   make(chan struct{}),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	cmds := s.nextLocked(sess)
	s.mu.Unlock()

	s.logger.Infof("session %s for %q (sdk %s)", sess.id, r.Header.Get(networking.HeaderTestNames), r.Header.Get(networking.HeaderClientSDK))
	w.Header().Set(networking.HeaderTestSessionID, sess.id)
	writeCommands(w, cmds)
}

func (s *Server) handleEndTestReadNext(w http.ResponseWriter, r *http.Request) {
	req := s.record(r, networking.PathEndTestReadNext)

	s.mu.Lock()
	sess, ok := s.sessions[req.SessionID]
	var cmds []networking.Command
	if ok {
		cmds = s.nextLocked(sess)
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, ErrUnknownSession.Error(), http.StatusNotFound)
		return
	}
	writeCommands(w, cmds)
}

func (s *Server) handleTestServer(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	req := s.record(r, path)

	s.mu.Lock()
	sess, ok := s.sessions[req.SessionID]
	var cmds []networking.Command
	if ok && sess.current != nil {
		for _, c := range sess.current.InfoReply {
			cmds = append(cmds, c.wire())
		}
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, ErrUnknownSession.Error(), http.StatusNotFound)
		return
	}
	s.logger.Debug("info received", "path", path, "keys", len(req.Form))
	writeCommands(w, cmds)
}

// nextLocked pops the next test, or ends the session when none is left.
func (s *Server) nextLocked(sess *session) []networking.Command {
	if len(sess.pending) == 0 {
		sess.current = nil
		return []networking.Command{{ClassName: "TestLibrary", FunctionName: "endTestSession"}}
	}
	t := sess.pending[0]
	sess.pending = sess.pending[1:]
	sess.current = &t
	return t.batch()
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warnf("control accept: %v", err)
		return
	}
	conn := wsconn.WrapNhooyr(c)
	defer conn.Close(wsconn.StatusNormalClosure, "")

	for {
		typ, data, err := conn.Read(r.Context())
		if err != nil {
			s.detach(conn)
			return
		}
		if typ != wsconn.MessageText {
			continue
		}
		sig, err := control.DecodeSignal(data)
		if err != nil {
			s.logger.Warnf("bad control frame: %v", err)
			continue
		}
		s.mu.Lock()
		s.signals = append(s.signals, sig)
		s.mu.Unlock()

		if sig.Type == control.SignalInitTestSession {
			s.attach(sig.Value, conn)
		}
	}
}

func (s *Server) attach(sessionID string, conn wsconn.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.logger.Warnf("socket announced unknown session %s", sessionID)
		return
	}
	sess.socket = conn
	select {
	case <-sess.ready:
	default:
		close(sess.ready)
	}
	s.logger.Debugf("session %s bound to control socket", sessionID)
}

func (s *Server) detach(conn wsconn.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.socket == conn {
			sess.socket = nil
		}
	}
}

// DropSockets closes every control socket, as a server restart would.
func (s *Server) DropSockets() {
	s.closeSockets()
}

func (s *Server) closeSockets() {
	s.mu.Lock()
	var conns []wsconn.Conn
	for _, sess := range s.sessions {
		if sess.socket != nil {
			conns = append(conns, sess.socket)
			sess.socket = nil
		}
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(wsconn.StatusGoingAway, "server going away")
	}
}

func writeCommands(w http.ResponseWriter, cmds []networking.Command) {
	if cmds == nil {
		cmds = []networking.Command{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cmds)
}
