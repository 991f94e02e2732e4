package middleware

import (
	"context"

	"socket-rpc/message"
	"socket-rpc/transport"

	"golang.org/x/time/rate"
)

var ErrRateLimited = message.NewTaggedError("socketrpc.RateLimited", "rate limit exceeded")

// RateLimit admits r requests per second with bursts of burst, using a token
// bucket shared by every session.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s transport.Session, req message.RpcMessage) error {
			if !limiter.Allow() {
				return ErrRateLimited
			}
			return next(ctx, s, req)
		}
	}
}
