package middleware

import (
	"context"
	"errors"
	"time"

	"socket-rpc/message"
	"socket-rpc/transport"

	"go.uber.org/zap"
)

// ErrTemporary marks handler failures worth retrying, e.g. an unreachable
// backing store. Wrap it: fmt.Errorf("store: %w", middleware.ErrTemporary).
var ErrTemporary = errors.New("temporary failure")

// Retry re-runs a handler that failed with ErrTemporary, up to maxRetries
// times with exponential backoff. Handlers must not have replied before
// failing.
func Retry(maxRetries int, baseDelay time.Duration, log *zap.Logger) Middleware {
	if log == nil {
		log = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s transport.Session, req message.RpcMessage) error {
			err := next(ctx, s, req)
			for i := 0; i < maxRetries && errors.Is(err, ErrTemporary); i++ {
				log.Warn("retrying request",
					zap.Int("attempt", i+1), zap.String("type", req.Type()), zap.String("id", req.ID()), zap.Error(err))

				timer := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					timer.Stop()
					return err
				case <-timer.C:
				}
				err = next(ctx, s, req)
			}
			return err
		}
	}
}
