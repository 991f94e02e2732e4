// Package ws carries transport sessions over WebSocket connections.
//
// Paths map onto HTTP routes: a Server is an http.Handler that upgrades
// requests whose URL path matches a route of its transport.Mux, and Dial
// connects to ws://host/path. Text frames map to WebSocket text messages and
// the close reason travels in the WebSocket close frame.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"socket-rpc/transport"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

type session struct {
	id      string
	path    string
	conn    *websocket.Conn
	handler transport.Handler
	opts    transport.Options
	log     *zap.Logger

	sending sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
}

func newSession(conn *websocket.Conn, path string, h transport.Handler, opts transport.Options) *session {
	id := transport.NewSessionID()
	return &session{
		id:      id,
		path:    path,
		conn:    conn,
		handler: h,
		opts:    opts,
		log:     opts.Logger.With(zap.String("session", id), zap.String("path", path)),
		done:    make(chan struct{}),
	}
}

func (s *session) start() {
	if s.opts.Heartbeat > 0 {
		s.conn.SetReadDeadline(time.Now().Add(3 * s.opts.Heartbeat))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(3 * s.opts.Heartbeat))
		})
	}
	s.handler.OnOpen(s)
	go s.recvLoop()
	if s.opts.Heartbeat > 0 {
		go s.pingLoop()
	}
}

func (s *session) ID() string   { return s.id }
func (s *session) Path() string { return s.path }
func (s *session) IsOpen() bool { return !s.closed.Load() }

func (s *session) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return transport.ErrSessionClosed
	}

	s.sending.Lock()
	defer s.sending.Unlock()

	deadline := time.Time{}
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		if s.closed.Load() {
			return transport.ErrSessionClosed
		}
		return err
	}
	return nil
}

func (s *session) SendAsync(text string) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- s.Send(context.Background(), text)
	}()
	return ch
}

func (s *session) Close(reason string) error {
	return s.shutdown(reason, true)
}

func (s *session) shutdown(reason string, notifyPeer bool) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)

	if notifyPeer {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			s.log.Debug("could not send close frame", zap.Error(err))
		}
	}
	err := s.conn.Close()

	s.log.Info("session closed", zap.String("reason", reason))
	s.handler.OnClose(s, reason)
	return err
}

func (s *session) recvLoop() {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(closeReason(err), false)
			return
		}
		if kind != websocket.TextMessage {
			s.log.Warn("dropping non-text message", zap.Int("kind", kind))
			continue
		}
		s.handler.OnFrame(s, string(data))
	}
}

func (s *session) pingLoop() {
	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func closeReason(err error) string {
	var ce *websocket.CloseError
	var ne net.Error
	switch {
	case errors.As(err, &ce):
		if ce.Text != "" {
			return ce.Text
		}
		return transport.ReasonPeerGone
	case errors.As(err, &ne) && ne.Timeout():
		return transport.ReasonNoHeartbeat
	case errors.Is(err, net.ErrClosed):
		return transport.ReasonPeerGone
	default:
		return transport.ReasonProtocolFail + ": " + err.Error()
	}
}

// Dial connects to the WebSocket URL rawURL (ws:// or wss://).
func Dial(ctx context.Context, rawURL string, h transport.Handler, opts ...transport.Option) (transport.Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Join(err, errors.New(resp.Status))
		}
		return nil, err
	}
	s := newSession(conn, u.Path, h, transport.NewOptions(opts...))
	s.start()
	return s, nil
}

// Dialer opens sessions under a base URL such as ws://localhost:8025.
type Dialer struct {
	BaseURL string
	Opts    []transport.Option
}

func NewDialer(baseURL string, opts ...transport.Option) *Dialer {
	return &Dialer{BaseURL: baseURL, Opts: opts}
}

func (d *Dialer) Dial(ctx context.Context, path string, h transport.Handler) (transport.Session, error) {
	return Dial(ctx, d.BaseURL+path, h, d.Opts...)
}

// Server upgrades HTTP requests into sessions routed by a transport.Mux.
type Server struct {
	*transport.Mux
	upgrader websocket.Upgrader
	opts     transport.Options
	shutdown atomic.Bool
}

// NewServer returns a server routing through mux (a fresh one when nil).
func NewServer(mux *transport.Mux, opts ...transport.Option) *Server {
	if mux == nil {
		mux = transport.NewMux()
	}
	return &Server{
		Mux:      mux,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		opts:     transport.NewOptions(opts...),
	}
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if srv.shutdown.Load() {
		http.Error(w, transport.ReasonShutdown, http.StatusServiceUnavailable)
		return
	}
	h, ok := srv.Route(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		srv.opts.Logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	newSession(conn, r.URL.Path, h, srv.opts).start()
}

// Close refuses new sessions and closes the open ones.
func (srv *Server) Close() error {
	srv.shutdown.Store(true)
	return srv.CloseAll(transport.ReasonShutdown)
}
