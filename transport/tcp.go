package transport

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"socket-rpc/protocol"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// handshakeTimeout bounds how long either side waits for the Open exchange.
const handshakeTimeout = 10 * time.Second

// TCPDialer opens framed sessions to one address.
type TCPDialer struct {
	Addr string
	Opts []Option
}

// NewTCPDialer returns a dialer for addr.
func NewTCPDialer(addr string, opts ...Option) *TCPDialer {
	return &TCPDialer{Addr: addr, Opts: opts}
}

func (d *TCPDialer) Dial(ctx context.Context, path string, h Handler) (Session, error) {
	return Dial(ctx, d.Addr, path, h, d.Opts...)
}

// Dial connects to addr and opens a session on path. The server acknowledges
// with an Open frame or rejects with a Close frame carrying the reason.
func Dial(ctx context.Context, addr, path string, h Handler, opts ...Option) (Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(handshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)

	body, err := protocol.NewOpenRequest(path).Marshal()
	if err == nil {
		err = protocol.Encode(conn, protocol.KindOpen, body)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s%s: %w", addr, path, err)
	}

	kind, reply, err := protocol.Decode(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s%s: %w", addr, path, err)
	}
	switch kind {
	case protocol.KindOpen:
		if err := protocol.CheckVersion(string(reply)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("open %s%s: %w", addr, path, err)
		}
	case protocol.KindClose:
		conn.Close()
		return nil, fmt.Errorf("open %s%s: rejected: %s", addr, path, reply)
	default:
		conn.Close()
		return nil, fmt.Errorf("open %s%s: unexpected %s frame", addr, path, kind)
	}
	conn.SetDeadline(time.Time{})

	s := newTCPSession(conn, path, h, NewOptions(opts...))
	s.start()
	return s, nil
}

// Listener accepts framed sessions and routes them through a Mux.
type Listener struct {
	*Mux
	opts     Options
	log      *zap.Logger
	listener atomic.Pointer[net.Listener]
	shutdown atomic.Bool
}

// NewListener returns a listener routing through mux (a fresh one when nil).
func NewListener(mux *Mux, opts ...Option) *Listener {
	if mux == nil {
		mux = NewMux()
	}
	o := NewOptions(opts...)
	return &Listener{Mux: mux, opts: o, log: o.Logger.Named("listener")}
}

// Serve accepts connections on lis until Close is called, one goroutine per
// connection.
func (l *Listener) Serve(lis net.Listener) error {
	l.listener.Store(&lis)
	l.log.Info("accepting sessions", zap.Stringer("addr", lis.Addr()))
	for {
		conn, err := lis.Accept()
		if err != nil {
			// Close makes Accept fail; the flag tells it from a real error.
			if l.shutdown.Load() {
				return nil
			}
			return err
		}
		go l.handshake(conn)
	}
}

// Addr returns the listening address once Serve has started.
func (l *Listener) Addr() net.Addr {
	if p := l.listener.Load(); p != nil {
		return (*p).Addr()
	}
	return nil
}

func (l *Listener) handshake(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	kind, body, err := protocol.Decode(conn)
	if err != nil || kind != protocol.KindOpen {
		l.log.Debug("dropping connection without open frame", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		conn.Close()
		return
	}

	open, err := protocol.ParseOpenRequest(body)
	if err != nil {
		l.reject(conn, err.Error())
		return
	}
	h, ok := l.Route(open.Path)
	if !ok {
		l.reject(conn, fmt.Sprintf("%v: %s", ErrNoRoute, open.Path))
		return
	}
	if l.shutdown.Load() {
		l.reject(conn, ReasonShutdown)
		return
	}
	if err := protocol.Encode(conn, protocol.KindOpen, []byte(protocol.ProtocolVersion.String())); err != nil {
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	newTCPSession(conn, open.Path, h, l.opts).start()
}

func (l *Listener) reject(conn net.Conn, reason string) {
	l.log.Warn("rejecting session", zap.Stringer("remote", conn.RemoteAddr()), zap.String("reason", reason))
	protocol.Encode(conn, protocol.KindClose, []byte(reason))
	conn.Close()
}

// Close stops accepting and closes every open session.
func (l *Listener) Close() error {
	l.shutdown.Store(true)
	var err error
	if p := l.listener.Load(); p != nil {
		err = (*p).Close()
	}
	return multierr.Append(err, l.CloseAll(ReasonShutdown))
}
