// Package client is the calling side: a Remote owns the sessions to one peer,
// routes their replies to waiting calls and shuts down exactly once.
//
//	Call ──NextID──► Correlator        Session ──frame──► Dispatcher.Decode
//	  │                  ▲                                     │
//	  └──encode──► Session.Send        Notify(reply) ◄─────────┘
//
// Lifecycle: Open → Closing → Closed. Either a local Close or a session closed
// by the peer starts the transition; the first one wins and its reason is the
// one WaitUntilClosed reports.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"socket-rpc/codec"
	"socket-rpc/correlator"
	"socket-rpc/message"
	"socket-rpc/transport"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrClosed    = errors.New("client: remote is closed")
	ErrNoSession = errors.New("client: no session for path")
	ErrPathInUse = errors.New("client: a session is already open on path")
)

// HandlerID identifies a registered close handler.
type HandlerID uint64

// Remote is the proxy of one logical connection to a peer.
type Remote struct {
	corr     *correlator.Correlator
	decoders *codec.Dispatcher
	log      *zap.Logger

	newClosedErr func(reason string) error
	onException  func(*message.ExceptionMessage)
	onPush       func(message.RpcMessage)

	sessions sync.Map // path → transport.Session

	closing atomic.Bool // The Open → Closing guard
	ctx     context.Context
	cancel  context.CancelFunc // Releases in-flight calls when closing starts
	done    chan struct{}      // Closed once Closed is reached

	mu         sync.Mutex
	reason     string
	nextHandle HandlerID
	handlers   map[HandlerID]func(reason string)
}

type options struct {
	timeout     time.Duration
	closedErr   func(reason string) error
	onException func(*message.ExceptionMessage)
	onPush      func(message.RpcMessage)
	decoders    []codec.Decoder
	log         *zap.Logger
	corrOpts    []correlator.Option
}

type Option func(*options)

// WithTimeout sets the budget of every call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithClosedError sets the error returned by calls on a closed remote.
func WithClosedError(fn func(reason string) error) Option {
	return func(o *options) { o.closedErr = fn }
}

// WithExceptionHook is called with every inbound exception before it is
// routed to its call.
func WithExceptionHook(fn func(*message.ExceptionMessage)) Option {
	return func(o *options) { o.onException = fn }
}

// WithPushHandler receives inbound messages with an empty id, which belong to
// no call.
func WithPushHandler(fn func(message.RpcMessage)) Option {
	return func(o *options) { o.onPush = fn }
}

// WithDecoders registers the decoders of the replies this remote receives.
// Exceptions are always decoded.
func WithDecoders(decoders ...codec.Decoder) Option {
	return func(o *options) { o.decoders = append(o.decoders, decoders...) }
}

// WithLogger sets the logger of the remote and of its correlator.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithCorrelatorOptions passes options to the remote's correlator.
func WithCorrelatorOptions(opts ...correlator.Option) Option {
	return func(o *options) { o.corrOpts = append(o.corrOpts, opts...) }
}

// NewRemote returns an open remote without sessions. It fails only when the
// decoders conflict.
func NewRemote(opts ...Option) (*Remote, error) {
	o := options{timeout: correlator.DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.L()
	}
	if o.closedErr == nil {
		o.closedErr = func(reason string) error { return fmt.Errorf("%w: %s", ErrClosed, reason) }
	}

	decoders, err := codec.NewDispatcher(append([]codec.Decoder{codec.ExceptionDecoder()}, o.decoders...)...)
	if err != nil {
		return nil, err
	}

	log := o.log.Named("remote")
	ctx, cancel := context.WithCancel(context.Background())
	return &Remote{
		corr:         correlator.New(o.timeout, append([]correlator.Option{correlator.WithLogger(log)}, o.corrOpts...)...),
		decoders:     decoders,
		log:          log,
		newClosedErr: o.closedErr,
		onException:  o.onException,
		onPush:       o.onPush,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		handlers:     make(map[HandlerID]func(string)),
	}, nil
}

// AddSession opens a session on path through dialer and starts routing its
// frames. A session closed by the peer closes the whole remote.
func (r *Remote) AddSession(ctx context.Context, path string, dialer transport.Dialer) error {
	if err := r.EnsureOpen(); err != nil {
		return err
	}
	if _, ok := r.sessions.Load(path); ok {
		return fmt.Errorf("%w: %s", ErrPathInUse, path)
	}

	s, err := dialer.Dial(ctx, path, &sessionHandler{remote: r, path: path})
	if err != nil {
		return err
	}
	if _, loaded := r.sessions.LoadOrStore(path, s); loaded {
		_ = s.Close(transport.ReasonNormal)
		return fmt.Errorf("%w: %s", ErrPathInUse, path)
	}
	// Close may have snapshotted the sessions before this one was stored
	if r.IsClosed() {
		_ = s.Close(r.Reason())
		return r.closedErr()
	}
	r.log.Debug("session added", zap.String("path", path), zap.String("session", s.ID()))
	return nil
}

// Session returns the session open on path.
func (r *Remote) Session(path string) (transport.Session, bool) {
	v, ok := r.sessions.Load(path)
	if !ok {
		return nil, false
	}
	return v.(transport.Session), true
}

// NextID registers a new call and returns its correlation id.
func (r *Remote) NextID() string {
	return r.corr.NextID()
}

// Correlator is the registry of this remote's outstanding calls.
func (r *Remote) Correlator() *correlator.Correlator {
	return r.corr
}

// Close asks every session to close and runs the close handlers. Only the
// first call does anything; the returned error collects session close
// failures.
func (r *Remote) Close() error {
	return r.closeWith(transport.ReasonNormal)
}

func (r *Remote) closeWith(reason string) error {
	if !r.closing.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.Lock()
	r.reason = reason
	r.mu.Unlock()
	r.cancel()
	r.log.Info("closing", zap.String("reason", reason))

	var err error
	r.sessions.Range(func(_, v any) bool {
		if s := v.(transport.Session); s.IsOpen() {
			err = multierr.Append(err, s.Close(reason))
		}
		return true
	})
	if err != nil {
		r.log.Warn("some sessions failed to close", zap.Error(err))
	}

	r.mu.Lock()
	handlers := make([]func(string), 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.handlers = nil
	r.mu.Unlock()

	for _, h := range handlers {
		r.runHandler(h, reason)
	}
	close(r.done)
	return err
}

func (r *Remote) runHandler(h func(string), reason string) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("close handler panicked", zap.Any("panic", p))
		}
	}()
	h(reason)
}

// AddOnCloseHandler registers fn to run once, after all sessions are closed.
// On a remote that is already closing, fn is not registered and never runs.
func (r *Remote) AddOnCloseHandler(fn func(reason string)) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextHandle++
	if r.handlers != nil && !r.closing.Load() {
		r.handlers[r.nextHandle] = fn
	}
	return r.nextHandle
}

// RemoveOnCloseHandler unregisters a handler. Unknown ids are ignored.
func (r *Remote) RemoveOnCloseHandler(id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
}

// WaitUntilClosed blocks until the remote is closed and returns the reason.
func (r *Remote) WaitUntilClosed(ctx context.Context) (string, error) {
	select {
	case <-r.done:
		return r.Reason(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done is closed when the remote reaches Closed.
func (r *Remote) Done() <-chan struct{} {
	return r.done
}

// Reason is the closure reason, empty while open.
func (r *Remote) Reason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// EnsureOpen fails with the configured closed error once closing started.
func (r *Remote) EnsureOpen() error {
	if r.closing.Load() {
		return r.closedErr()
	}
	return nil
}

func (r *Remote) IsClosed() bool {
	return r.closing.Load()
}

func (r *Remote) closedErr() error {
	return r.newClosedErr(r.Reason())
}

// receive routes one inbound frame: exceptions go through the hook first, id-less
// messages to the push handler, everything else to the correlator.
func (r *Remote) receive(path, text string) {
	msg, err := r.decoders.Decode(text)
	if err != nil {
		r.log.Error("dropping undecodable frame", zap.String("path", path), zap.Error(err))
		return
	}

	if exc, ok := msg.(*message.ExceptionMessage); ok && r.onException != nil {
		r.onException(exc)
	}
	if msg.ID() == "" && r.onPush != nil {
		r.onPush(msg)
		return
	}
	r.corr.Notify(msg)
}

type sessionHandler struct {
	remote *Remote
	path   string
}

func (h *sessionHandler) OnOpen(transport.Session) {}

func (h *sessionHandler) OnFrame(_ transport.Session, text string) {
	h.remote.receive(h.path, text)
}

func (h *sessionHandler) OnClose(s transport.Session, reason string) {
	// A session refused by AddSession is not the one stored under path
	if v, ok := h.remote.sessions.Load(h.path); ok && v != s {
		return
	}
	if !h.remote.IsClosed() {
		h.remote.log.Info("session closed by peer", zap.String("path", h.path), zap.String("reason", reason))
		_ = h.remote.closeWith(reason)
	}
	h.remote.sessions.CompareAndDelete(h.path, s)
}
