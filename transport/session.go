package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"socket-rpc/protocol"

	"go.uber.org/zap"
)

// tcpSession is a framed session over a stream connection.
//
// A single goroutine (recvLoop) reads frames, because frame boundaries can only
// be parsed sequentially; writers from any goroutine are serialized by the
// sending mutex so that frames never interleave on the wire.
type tcpSession struct {
	id      string
	path    string
	conn    net.Conn
	handler Handler
	opts    Options
	log     *zap.Logger

	sending sync.Mutex    // Write lock, one frame at a time
	closed  atomic.Bool   // Set by whoever closes first
	done    chan struct{} // Closed when the session is closed
}

func newTCPSession(conn net.Conn, path string, h Handler, opts Options) *tcpSession {
	id := NewSessionID()
	return &tcpSession{
		id:      id,
		path:    path,
		conn:    conn,
		handler: h,
		opts:    opts,
		log:     opts.Logger.With(zap.String("session", id), zap.String("path", path)),
		done:    make(chan struct{}),
	}
}

// NewSession wraps an already established connection whose handshake, if any,
// is complete, and starts delivering its events to h.
func NewSession(conn net.Conn, path string, h Handler, opts ...Option) Session {
	s := newTCPSession(conn, path, h, NewOptions(opts...))
	s.start()
	return s
}

func (s *tcpSession) start() {
	s.handler.OnOpen(s)
	go s.recvLoop()
	if s.opts.Heartbeat > 0 {
		go s.heartbeatLoop()
	}
}

func (s *tcpSession) ID() string   { return s.id }
func (s *tcpSession) Path() string { return s.path }
func (s *tcpSession) IsOpen() bool { return !s.closed.Load() }

func (s *tcpSession) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.sending.Lock()
	defer s.sending.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	if err := protocol.Encode(s.conn, protocol.KindText, []byte(text)); err != nil {
		if s.closed.Load() {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

func (s *tcpSession) SendAsync(text string) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- s.Send(context.Background(), text)
	}()
	return ch
}

func (s *tcpSession) Close(reason string) error {
	return s.shutdown(reason, true)
}

// shutdown closes the session once. notifyPeer sends a Close frame first,
// which is skipped when the peer is the one closing.
func (s *tcpSession) shutdown(reason string, notifyPeer bool) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)

	// A writer stuck on a peer that stopped reading holds the lock; closing the
	// connection below is what releases it, so the Close frame is skipped.
	if notifyPeer && s.sending.TryLock() {
		s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := protocol.Encode(s.conn, protocol.KindClose, []byte(reason)); err != nil {
			s.log.Debug("could not send close frame", zap.Error(err))
		}
		s.sending.Unlock()
	}
	err := s.conn.Close()

	s.log.Info("session closed", zap.String("reason", reason))
	s.handler.OnClose(s, reason)
	return err
}

// recvLoop reads frames until the connection breaks or the peer closes.
func (s *tcpSession) recvLoop() {
	for {
		if s.opts.Heartbeat > 0 {
			s.conn.SetReadDeadline(time.Now().Add(3 * s.opts.Heartbeat))
		}
		kind, body, err := protocol.Decode(s.conn)
		if err != nil {
			s.shutdown(readFailureReason(err), false)
			return
		}

		switch kind {
		case protocol.KindText:
			s.handler.OnFrame(s, string(body))
		case protocol.KindClose:
			s.shutdown(string(body), false)
			return
		case protocol.KindHeartbeat:
			// Only refreshes the read deadline.
		default:
			s.log.Warn("unexpected frame", zap.Stringer("kind", kind))
			s.shutdown(ReasonProtocolFail, true)
			return
		}
	}
}

// heartbeatLoop keeps the connection alive and lets the peer detect a dead one.
func (s *tcpSession) heartbeatLoop() {
	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sending.Lock()
			err := protocol.Encode(s.conn, protocol.KindHeartbeat, nil)
			s.sending.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func readFailureReason(err error) string {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return ReasonPeerGone
	case errors.As(err, &ne) && ne.Timeout():
		return ReasonNoHeartbeat
	default:
		return ReasonProtocolFail + ": " + err.Error()
	}
}

// Pipe returns the two ends of an in-memory session on path. Useful in tests.
func Pipe(path string, a, b Handler, opts ...Option) (Session, Session) {
	c1, c2 := net.Pipe()
	o := NewOptions(opts...)
	s1 := newTCPSession(c1, path, a, o)
	s2 := newTCPSession(c2, path, b, o)
	s1.start()
	s2.start()
	return s1, s2
}
