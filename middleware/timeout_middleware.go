package middleware

import (
	"context"
	"time"

	"socket-rpc/message"
	"socket-rpc/transport"
)

var ErrHandlerTimeout = message.NewTaggedError("socketrpc.HandlerTimeout", "request timed out")

// Timeout fails requests whose handler runs longer than timeout. The handler
// keeps running with a cancelled context; whatever it returns is discarded.
// The handler runs on its own goroutine, so Recover must come after Timeout
// in the chain to catch its panics.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s transport.Session, req message.RpcMessage) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(ctx, s, req)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return ErrHandlerTimeout
				}
				return ctx.Err()
			}
		}
	}
}
