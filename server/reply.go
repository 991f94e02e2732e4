package server

import (
	"context"

	"socket-rpc/codec"
	"socket-rpc/message"
	"socket-rpc/transport"
)

// Reply encodes msg and sends it on s.
func Reply(ctx context.Context, s transport.Session, msg message.RpcMessage) error {
	text, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	return s.Send(ctx, text)
}

// ReplyError sends err as the exception reply of the request id.
func ReplyError(ctx context.Context, s transport.Session, id string, err error) error {
	return Reply(ctx, s, message.ExceptionOf(err, id))
}
