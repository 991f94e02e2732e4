package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"socket-rpc/client"
	"socket-rpc/correlator"
	"socket-rpc/loadbalance"
	"socket-rpc/message"
	"socket-rpc/registry"
	"socket-rpc/server"
	"socket-rpc/transport"
	"socket-rpc/transport/ws"

	"go.uber.org/zap"
)

const messageBuffer = 64

// Client is the session of one user in the room.
type Client struct {
	remote   *client.Remote
	username string
	path     string
	log      *zap.Logger

	mu       sync.Mutex
	closed   bool
	messages chan *FullMessage
}

// Dial joins the room at addr as username. addr is host:port for TCP or a
// ws:// (wss://) base URL for WebSocket.
func Dial(ctx context.Context, addr, username string, opts ...client.Option) (*Client, error) {
	if username == "" || strings.Contains(username, "/") {
		return nil, errors.New("chat: invalid username")
	}

	c := &Client{
		username: username,
		path:     PathPrefix + username,
		log:      zap.L().Named("chat"),
		messages: make(chan *FullMessage, messageBuffer),
	}
	opts = append([]client.Option{
		client.WithDecoders(ClientDecoders()...),
		client.WithPushHandler(c.push),
	}, opts...)

	remote, err := client.NewRemote(opts...)
	if err != nil {
		return nil, err
	}
	c.remote = remote
	remote.AddOnCloseHandler(func(string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closed = true
		close(c.messages)
	})

	if err := remote.AddSession(ctx, c.path, dialer(addr)); err != nil {
		remote.Close()
		return nil, err
	}
	return c, nil
}

// DialService joins the room of service found in reg. The same username is
// always sent to the same server while the set of servers is stable.
func DialService(ctx context.Context, reg registry.Registry, service, username string, opts ...client.Option) (*Client, error) {
	ep, err := client.DiscoverKey(ctx, reg, loadbalance.NewConsistentHashBalancer(), service, username)
	if err != nil {
		return nil, err
	}
	return Dial(ctx, ep.Addr, username, opts...)
}

func dialer(addr string) transport.Dialer {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return ws.NewDialer(strings.TrimSuffix(addr, "/"))
	}
	return transport.NewTCPDialer(addr)
}

func (c *Client) push(msg message.RpcMessage) {
	full, ok := msg.(*FullMessage)
	if !ok {
		c.log.Warn("unexpected push", zap.String("type", msg.Type()))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.messages <- full:
	default:
		c.log.Warn("message buffer full, dropping", zap.Stringer("message", full))
	}
}

func (c *Client) Username() string { return c.username }

// Messages delivers the messages of the room, including this user's own
// posts. The channel is closed when the client closes.
func (c *Client) Messages() <-chan *FullMessage {
	return c.messages
}

var rejected = correlator.Expect(server.DecodeErrorType, func(text string) error { return &RejectedError{Reason: text} })

// Post sends content to every user of the room.
func (c *Client) Post(ctx context.Context, content string) error {
	_, err := client.Call[struct{}](ctx, c.remote, c.path, func(id string) message.RpcMessage {
		return &PostRequest{Envelope: message.NewEnvelope(PostTag, id), Content: content}
	}, PostResultTag, rejected)
	return err
}

// Say sends content to the room without waiting for the server. Unlike
// Post, a rejected message is only logged by the server.
func (c *Client) Say(ctx context.Context, content string) error {
	if err := c.remote.EnsureOpen(); err != nil {
		return err
	}
	s, ok := c.remote.Session(c.path)
	if !ok {
		return client.ErrNoSession
	}
	text, err := MessageEncoder.Encode(&PartialMessage{Content: content})
	if err != nil {
		return err
	}
	return s.Send(ctx, text)
}

// Users lists the connected users.
func (c *Client) Users(ctx context.Context) ([]string, error) {
	return client.Call[[]string](ctx, c.remote, c.path, func(id string) message.RpcMessage {
		return &UsersRequest{Envelope: message.NewEnvelope(UsersTag, id)}
	}, UsersResultTag)
}

// Whois describes a connected user, or fails with *UnknownUserError.
func (c *Client) Whois(ctx context.Context, username string) (string, error) {
	return client.Call[string](ctx, c.remote, c.path, func(id string) message.RpcMessage {
		return &WhoisRequest{Envelope: message.NewEnvelope(WhoisTag, id), Username: username}
	}, WhoisResultTag,
		correlator.Expect(UnknownUserTag, func(text string) error {
			return &UnknownUserError{Username: strings.TrimSuffix(text, " is not connected")}
		}),
		rejected,
	)
}

// WaitUntilClosed blocks until the client is closed, locally or by the server.
func (c *Client) WaitUntilClosed(ctx context.Context) (string, error) {
	return c.remote.WaitUntilClosed(ctx)
}

func (c *Client) Close() error {
	return c.remote.Close()
}
