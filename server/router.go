package server

import (
	"context"
	"fmt"
	"sync"

	"socket-rpc/message"
	"socket-rpc/middleware"
	"socket-rpc/transport"
)

// UnknownRequestType is the exception tag replied to requests no handler serves.
const UnknownRequestType = "socketrpc.UnknownRequest"

// UnknownRequestError reports a request type without handler.
type UnknownRequestError struct {
	Tag string
}

func (e *UnknownRequestError) Error() string         { return fmt.Sprintf("no handler for %s", e.Tag) }
func (e *UnknownRequestError) ExceptionType() string { return UnknownRequestType }

// Router selects the handler of a request by its type tag. It is a
// Processor: failures of handlers, or of the lookup itself, are replied to the
// caller as exceptions.
type Router struct {
	mu          sync.RWMutex
	handlers    map[string]middleware.HandlerFunc
	middlewares []middleware.Middleware

	once    sync.Once
	handler middleware.HandlerFunc // ReplyOnError(middlewares(route))
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]middleware.HandlerFunc)}
}

// Use adds a middleware. Middlewares must be added before the first request.
func (r *Router) Use(mw ...middleware.Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, mw...)
}

// Handle serves requests tagged tag with h, replacing any previous handler.
func (r *Router) Handle(tag string, h middleware.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[tag] = h
}

func (r *Router) ProcessRequest(ctx context.Context, s transport.Session, req message.RpcMessage) error {
	r.once.Do(func() {
		r.mu.RLock()
		defer r.mu.RUnlock()
		mws := append([]middleware.Middleware{middleware.ReplyOnError()}, r.middlewares...)
		r.handler = middleware.Chain(mws...)(r.route)
	})
	return r.handler(ctx, s, req)
}

func (r *Router) route(ctx context.Context, s transport.Session, req message.RpcMessage) error {
	r.mu.RLock()
	h, ok := r.handlers[req.Type()]
	r.mu.RUnlock()
	if !ok {
		return &UnknownRequestError{Tag: req.Type()}
	}
	return h(ctx, s, req)
}
