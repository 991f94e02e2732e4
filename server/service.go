package server

import (
	"context"
	"fmt"

	"socket-rpc/codec"
	"socket-rpc/message"
	"socket-rpc/middleware"
	"socket-rpc/transport"
)

// Method adapts a typed function to a handler: the request is the decoded
// envelope *Req, the returned value is replied in a result tagged resultTag
// and a returned error becomes the exception reply.
//
//	server.Method(chat.WhoisResultTag, func(ctx context.Context, s transport.Session, req *chat.WhoisRequest) (string, error) {...})
func Method[Req any, PReq interface {
	*Req
	message.RpcMessage
}, Res any](resultTag string, fn func(ctx context.Context, s transport.Session, req PReq) (Res, error)) middleware.HandlerFunc {
	return func(ctx context.Context, s transport.Session, req message.RpcMessage) error {
		typed, ok := req.(PReq)
		if !ok {
			return fmt.Errorf("%s handler got %T", resultTag, req)
		}
		res, err := fn(ctx, s, typed)
		if err != nil {
			return err
		}
		return Reply(ctx, s, message.NewResult(resultTag, req.ID(), res))
	}
}

// Register serves requests tagged reqTag on the endpoint of path with fn,
// replying results tagged resultTag.
func Register[Req any, PReq interface {
	*Req
	message.RpcMessage
}, Res any](srv *Server, path, reqTag, resultTag string, fn func(ctx context.Context, s transport.Session, req PReq) (Res, error)) error {
	return srv.Handle(path, codec.NewDecoder[Req, PReq](reqTag), Method[Req, PReq, Res](resultTag, fn))
}
