package middleware

import (
	"context"
	"fmt"

	"socket-rpc/message"
	"socket-rpc/transport"

	"go.uber.org/zap"
)

var ErrPanic = message.NewTaggedError("socketrpc.InternalError", "internal error")

// Recover turns a panicking handler into an ErrPanic failure.
func Recover(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s transport.Session, req message.RpcMessage) (err error) {
			defer func() {
				if p := recover(); p != nil {
					log.Error("handler panicked",
						zap.String("type", req.Type()), zap.String("id", req.ID()), zap.Any("panic", p), zap.Stack("stack"))
					err = fmt.Errorf("%w: %v", ErrPanic, p)
				}
			}()
			return next(ctx, s, req)
		}
	}
}
