// Package server is the serving side: endpoints bound to session paths decode
// inbound frames and hand the requests to a shared worker pool.
//
// Request processing pipeline:
//
//	Session frame ──► Endpoint.OnFrame (transport goroutine)
//	  → codec.Dispatcher.Decode → Dispatcher.Schedule (bounded queue)
//	    → worker → Router: ReplyOnError → middlewares → handler → Reply
//
// One Server can accept sessions over TCP (Serve) and WebSocket (ServeWS)
// at the same time; both feed the same endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"socket-rpc/codec"
	"socket-rpc/message"
	"socket-rpc/middleware"
	"socket-rpc/protocol"
	"socket-rpc/registry"
	"socket-rpc/transport"
	"socket-rpc/transport/ws"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DecodeErrorType is the exception tag replied to frames no decoder accepts.
const DecodeErrorType = "socketrpc.DecodeError"

var ErrServerClosed = errors.New("server: closed")

type options struct {
	transport  []transport.Option
	dispatcher []DispatcherOption
	log        *zap.Logger
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithTransportOptions configures the sessions of every listener.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) { o.transport = append(o.transport, opts...) }
}

// WithDispatcherOptions configures the worker pool.
func WithDispatcherOptions(opts ...DispatcherOption) Option {
	return func(o *options) { o.dispatcher = append(o.dispatcher, opts...) }
}

type publication struct {
	reg     registry.Registry
	service string
	addr    string
}

// Server owns the endpoints, the worker pool and the listeners.
type Server struct {
	mux        *transport.Mux
	dispatcher *Dispatcher
	opts       options
	log        *zap.Logger

	sessions sync.Map // session id → *Endpoint
	shutdown atomic.Bool

	mu          sync.Mutex
	endpoints   map[string]*Endpoint // path pattern → endpoint
	middlewares []middleware.Middleware
	listeners   []*transport.Listener
	wsServers   []*ws.Server
	httpServers []*http.Server
	published   []publication
}

func NewServer(opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.L()
	}
	o.transport = append([]transport.Option{transport.WithLogger(o.log)}, o.transport...)

	srv := &Server{
		mux:       transport.NewMux(),
		opts:      o,
		log:       o.log.Named("server"),
		endpoints: make(map[string]*Endpoint),
	}
	srv.dispatcher = NewDispatcher(ProcessorFunc(srv.process),
		append([]DispatcherOption{WithDispatcherLogger(o.log)}, o.dispatcher...)...)
	return srv
}

// Use adds middlewares to every endpoint, present and future. Middlewares
// must be added before serving.
func (srv *Server) Use(mw ...middleware.Middleware) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.middlewares = append(srv.middlewares, mw...)
	for _, e := range srv.endpoints {
		e.router.Use(mw...)
	}
}

// Endpoint returns the endpoint serving path, creating it on first use. A path
// ending in "/" serves every path below it, e.g. "/chat/" serves "/chat/alice".
func (srv *Server) Endpoint(path string) *Endpoint {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if e, ok := srv.endpoints[path]; ok {
		return e
	}

	e := &Endpoint{
		srv:      srv,
		path:     path,
		router:   NewRouter(),
		decoders: codec.MustDispatcher(),
		log:      srv.log.With(zap.String("endpoint", path)),
	}
	e.router.Use(srv.middlewares...)
	srv.endpoints[path] = e
	srv.mux.Handle(path, e)
	return e
}

// Handle serves the requests dec decodes on the endpoint of path with h.
func (srv *Server) Handle(path string, dec codec.Decoder, h middleware.HandlerFunc) error {
	return srv.Endpoint(path).Handle(dec, h)
}

// Sessions returns the open sessions of the endpoint of path.
func (srv *Server) Sessions(path string) []transport.Session {
	return srv.mux.Sessions(path)
}

// Stats reports the load of the worker pool.
func (srv *Server) Stats() Stats {
	return srv.dispatcher.Stats()
}

// Serve accepts TCP sessions on lis until Shutdown.
func (srv *Server) Serve(lis net.Listener) error {
	if srv.shutdown.Load() {
		lis.Close()
		return ErrServerClosed
	}
	l := transport.NewListener(srv.mux, srv.opts.transport...)
	srv.mu.Lock()
	srv.listeners = append(srv.listeners, l)
	srv.mu.Unlock()
	return l.Serve(lis)
}

// WSHandler returns an http.Handler upgrading requests into WebSocket
// sessions on the server's endpoints.
func (srv *Server) WSHandler() http.Handler {
	w := ws.NewServer(srv.mux, srv.opts.transport...)
	srv.mu.Lock()
	srv.wsServers = append(srv.wsServers, w)
	srv.mu.Unlock()
	return w
}

// ServeWS listens on addr and accepts WebSocket sessions until Shutdown.
func (srv *Server) ServeWS(addr string) error {
	if srv.shutdown.Load() {
		return ErrServerClosed
	}
	hs := &http.Server{Addr: addr, Handler: srv.WSHandler(), ReadHeaderTimeout: 10 * time.Second}
	srv.mu.Lock()
	srv.httpServers = append(srv.httpServers, hs)
	srv.mu.Unlock()

	srv.log.Info("accepting websocket sessions", zap.String("addr", addr))
	if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Publish registers advertiseAddr under service in reg until Shutdown. The
// advertised address differs from the listening one when listening on ":port".
func (srv *Server) Publish(ctx context.Context, reg registry.Registry, service, advertiseAddr string, ttl time.Duration) error {
	ep := registry.Endpoint{
		Addr:    advertiseAddr,
		Weight:  1,
		Version: protocol.ProtocolVersion.String(),
	}
	srv.mu.Lock()
	paths := make([]string, 0, len(srv.endpoints))
	for p := range srv.endpoints {
		paths = append(paths, p)
	}
	srv.mu.Unlock()
	if len(paths) == 1 {
		ep.Path = paths[0]
	} else {
		sort.Strings(paths)
		srv.log.Debug("several endpoints, publishing without path", zap.Strings("paths", paths))
	}

	if err := reg.Register(ctx, service, ep, ttl); err != nil {
		return fmt.Errorf("publish %s at %s: %w", service, advertiseAddr, err)
	}
	srv.mu.Lock()
	srv.published = append(srv.published, publication{reg: reg, service: service, addr: advertiseAddr})
	srv.mu.Unlock()
	return nil
}

// Shutdown stops the server:
//  1. Deregister published endpoints, so clients stop dialing this server
//  2. Stop the listeners and close every session
//  3. Cancel running requests and wait for the workers, bounded by ctx
func (srv *Server) Shutdown(ctx context.Context) error {
	if !srv.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	srv.mu.Lock()
	published, listeners, wsServers, httpServers := srv.published, srv.listeners, srv.wsServers, srv.httpServers
	srv.mu.Unlock()

	var err error
	for _, p := range published {
		err = multierr.Append(err, p.reg.Deregister(ctx, p.service, p.addr))
	}
	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}
	for _, w := range wsServers {
		err = multierr.Append(err, w.Close())
	}
	for _, hs := range httpServers {
		err = multierr.Append(err, hs.Shutdown(ctx))
	}
	err = multierr.Append(err, srv.mux.CloseAll(transport.ReasonShutdown))

	srv.dispatcher.Close()
	err = multierr.Append(err, srv.dispatcher.Wait(ctx))
	srv.log.Info("shut down", zap.Error(err))
	return err
}

func (srv *Server) process(ctx context.Context, s transport.Session, req message.RpcMessage) error {
	v, ok := srv.sessions.Load(s.ID())
	if !ok {
		return transport.ErrSessionClosed
	}
	return v.(*Endpoint).router.ProcessRequest(ctx, s, req)
}
