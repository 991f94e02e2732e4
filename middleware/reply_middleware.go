package middleware

import (
	"context"
	"errors"

	"socket-rpc/codec"
	"socket-rpc/message"
	"socket-rpc/transport"

	"go.uber.org/multierr"
)

// ReplyOnError sends the failure of a handler to the caller as an exception
// envelope carrying the request id. Errors implementing message.Exception keep
// their tag. A failure that was reported returns nil. Requests without an id
// have no caller waiting, so their failures are returned unreported.
func ReplyOnError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s transport.Session, req message.RpcMessage) error {
			err := next(ctx, s, req)
			if err == nil || req.ID() == "" || errors.Is(err, transport.ErrSessionClosed) {
				return err
			}

			text, encErr := codec.Encode(message.ExceptionOf(err, req.ID()))
			if encErr != nil {
				return multierr.Append(err, encErr)
			}
			if sendErr := s.Send(context.WithoutCancel(ctx), text); sendErr != nil {
				return multierr.Append(err, sendErr)
			}
			return nil
		}
	}
}
