// Package transport provides the socket sessions RPC traffic flows over.
//
// A Session is one duplex, message-oriented connection bound to a path. Every
// delivery to Handler.OnFrame is one complete text frame; the transport never
// looks inside it. Two implementations share this contract: TCP sessions
// framed by package protocol (this package) and WebSocket sessions (package
// transport/ws).
//
//	Dial(addr, "/chat/alice") ──Open──► Listener ──Mux.Route──► Handler.OnOpen
//	        ◄───────────── Text frames, both ways ─────────────►
//	Close(reason) ──Close(reason)──► peer Handler.OnClose(reason)
package transport

import (
	"context"
	"errors"
	"time"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"
)

var (
	ErrSessionClosed = errors.New("transport: session closed")
	ErrNoRoute       = errors.New("transport: no endpoint for path")
)

// Session is an open connection to a peer.
type Session interface {
	ID() string
	// Path is the path the session was opened on, e.g. "/chat/alice".
	Path() string
	// Send writes one text frame, honouring the context deadline.
	Send(ctx context.Context, text string) error
	// SendAsync writes one text frame in the background; the channel yields
	// the outcome exactly once.
	SendAsync(text string) <-chan error
	// Close closes the session, telling the peer why. Closing twice is a no-op.
	Close(reason string) error
	IsOpen() bool
}

// Handler receives the events of a session. OnOpen is called before any
// frame is delivered; OnFrame calls are sequential per session; OnClose is
// called exactly once, with the local or remote reason.
type Handler interface {
	OnOpen(s Session)
	OnFrame(s Session, text string)
	OnClose(s Session, reason string)
}

// HandlerFuncs adapts plain functions to Handler. Nil functions are skipped.
type HandlerFuncs struct {
	Open  func(s Session)
	Frame func(s Session, text string)
	Close func(s Session, reason string)
}

func (h HandlerFuncs) OnOpen(s Session) {
	if h.Open != nil {
		h.Open(s)
	}
}

func (h HandlerFuncs) OnFrame(s Session, text string) {
	if h.Frame != nil {
		h.Frame(s, text)
	}
}

func (h HandlerFuncs) OnClose(s Session, reason string) {
	if h.Close != nil {
		h.Close(s, reason)
	}
}

// Dialer opens a session on path, delivering its events to h.
type Dialer interface {
	Dial(ctx context.Context, path string, h Handler) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, path string, h Handler) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, path string, h Handler) (Session, error) {
	return f(ctx, path, h)
}

// Close reasons used by the transports themselves.
const (
	ReasonNormal       = "closed normally"
	ReasonPeerGone     = "connection closed by peer"
	ReasonShutdown     = "server shutting down"
	ReasonNoHeartbeat  = "no traffic from peer"
	ReasonProtocolFail = "protocol error"
)

// Options configure sessions of either transport.
type Options struct {
	Heartbeat time.Duration // Keep-alive period; the peer is dropped after 3 silent periods
	Logger    *zap.Logger
}

type Option func(*Options)

// WithHeartbeat sets the keep-alive period. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(o *Options) { o.Heartbeat = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{Heartbeat: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	o.Logger = o.Logger.Named("transport")
	return o
}

// NewSessionID returns a random session id.
func NewSessionID() string {
	return uuid.NewV4().String()
}
