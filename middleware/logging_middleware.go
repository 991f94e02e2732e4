package middleware

import (
	"context"
	"time"

	"socket-rpc/message"
	"socket-rpc/transport"

	"go.uber.org/zap"
)

// Logging logs every request with its duration and outcome.
func Logging(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.L()
	}
	log = log.Named("request")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s transport.Session, req message.RpcMessage) error {
			start := time.Now()
			err := next(ctx, s, req)
			fields := []zap.Field{
				zap.String("type", req.Type()),
				zap.String("id", req.ID()),
				zap.String("path", s.Path()),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				log.Info("request failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("request served", fields...)
			}
			return err
		}
	}
}
