// Package middleware wraps request handlers of a server endpoint.
//
//	Chain(A, B, C)(h) → A(B(C(h)))
//	Execution order: A.before → B.before → C.before → h → C.after → B.after → A.after
//
// A handler sends its own reply; the error it returns is the failure the
// endpoint reports to the caller (see ReplyOnError) and logs.
package middleware

import (
	"context"

	"socket-rpc/message"
	"socket-rpc/transport"
)

// HandlerFunc serves one request received on session s.
type HandlerFunc func(ctx context.Context, s transport.Session, req message.RpcMessage) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares, the first being the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
