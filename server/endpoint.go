package server

import (
	"context"
	"errors"
	"sync"

	"socket-rpc/codec"
	"socket-rpc/message"
	"socket-rpc/middleware"
	"socket-rpc/transport"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Endpoint serves the sessions opened on one path pattern. It is the
// transport.Handler of those sessions.
type Endpoint struct {
	srv      *Server
	path     string
	router   *Router
	decoders *codec.Dispatcher
	log      *zap.Logger

	mu      sync.RWMutex
	onOpen  []func(transport.Session)
	onClose []func(transport.Session, string)
}

func (e *Endpoint) Path() string { return e.path }

// Handle serves the requests dec decodes with h.
func (e *Endpoint) Handle(dec codec.Decoder, h middleware.HandlerFunc) error {
	if err := e.decoders.Register(dec); err != nil {
		return err
	}
	e.router.Handle(dec.Tag(), h)
	return nil
}

// OnSessionOpen registers fn to run when a session opens, before its first
// request.
func (e *Endpoint) OnSessionOpen(fn func(s transport.Session)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onOpen = append(e.onOpen, fn)
}

// OnSessionClose registers fn to run when a session closes.
func (e *Endpoint) OnSessionClose(fn func(s transport.Session, reason string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClose = append(e.onClose, fn)
}

// Sessions returns the open sessions of this endpoint.
func (e *Endpoint) Sessions() []transport.Session {
	return e.srv.mux.Sessions(e.path)
}

// Broadcast sends msg to every open session of the endpoint. Sessions closing
// meanwhile are skipped; other failures are collected.
func (e *Endpoint) Broadcast(ctx context.Context, msg message.RpcMessage) error {
	text, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	return e.broadcast(ctx, text)
}

// BroadcastWith is Broadcast for payloads that need their own encoder, such
// as plain records tagged by a codec.JSONEncoder.
func (e *Endpoint) BroadcastWith(ctx context.Context, enc codec.Encoder, v any) error {
	text, err := enc.Encode(v)
	if err != nil {
		return err
	}
	return e.broadcast(ctx, text)
}

func (e *Endpoint) broadcast(ctx context.Context, text string) (err error) {
	for _, s := range e.Sessions() {
		if sendErr := s.Send(ctx, text); sendErr != nil && !errors.Is(sendErr, transport.ErrSessionClosed) {
			err = multierr.Append(err, sendErr)
		}
	}
	return err
}

func (e *Endpoint) OnOpen(s transport.Session) {
	e.srv.sessions.Store(s.ID(), e)
	e.log.Debug("session opened", zap.String("session", s.ID()), zap.String("path", s.Path()))

	e.mu.RLock()
	hooks := e.onOpen
	e.mu.RUnlock()
	for _, fn := range hooks {
		fn(s)
	}
}

func (e *Endpoint) OnFrame(s transport.Session, text string) {
	req, err := e.decoders.Decode(text)
	if err != nil {
		e.log.Warn("could not decode request", zap.String("session", s.ID()), zap.Error(err))
		if id, ok := codec.PeekID(text); ok {
			e.replyAsync(s, id, message.NewTaggedError(DecodeErrorType, err.Error()))
		}
		return
	}

	switch err := e.srv.dispatcher.Schedule(context.Background(), s, req); {
	case err == nil:
	case errors.Is(err, ErrQueueFull) && req.ID() != "":
		e.replyAsync(s, req.ID(), err)
	default:
		e.log.Debug("request dropped", zap.String("type", req.Type()), zap.String("id", req.ID()), zap.Error(err))
	}
}

func (e *Endpoint) OnClose(s transport.Session, reason string) {
	e.srv.sessions.Delete(s.ID())
	e.log.Debug("session closed", zap.String("session", s.ID()), zap.String("reason", reason))

	e.mu.RLock()
	hooks := e.onClose
	e.mu.RUnlock()
	for _, fn := range hooks {
		fn(s, reason)
	}
}

// replyAsync reports a failure without blocking the transport goroutine.
func (e *Endpoint) replyAsync(s transport.Session, id string, failure error) {
	text, err := codec.Encode(message.ExceptionOf(failure, id))
	if err != nil {
		return
	}
	done := s.SendAsync(text)
	go func() {
		if err := <-done; err != nil {
			e.log.Debug("could not report failure", zap.String("id", id), zap.Error(err))
		}
	}()
}
