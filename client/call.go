package client

import (
	"context"
	"errors"
	"fmt"

	"socket-rpc/codec"
	"socket-rpc/correlator"
	"socket-rpc/loadbalance"
	"socket-rpc/message"
	"socket-rpc/protocol"
	"socket-rpc/registry"

	"go.uber.org/zap"
)

// Call sends the request built by build on the session open on path and waits
// for its reply.
//
// build receives the correlation id the request must carry. The reply is a
// message tagged resultTag whose value is returned, or one of the expected
// exceptions. Closing the remote releases the call with the closed error.
func Call[T any](ctx context.Context, r *Remote, path string, build func(id string) message.RpcMessage, resultTag string, expected ...correlator.Expected) (T, error) {
	var zero T
	if err := r.EnsureOpen(); err != nil {
		return zero, err
	}
	s, ok := r.Session(path)
	if !ok {
		if r.IsClosed() {
			return zero, r.closedErr()
		}
		return zero, fmt.Errorf("%w: %s", ErrNoSession, path)
	}

	id := r.corr.NextID()
	text, err := codec.Encode(build(id))
	if err != nil {
		r.corr.Forget(id)
		return zero, err
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	if err := s.Send(waitCtx, text); err != nil {
		r.corr.Forget(id)
		return zero, r.released(ctx, err)
	}

	v, err := correlator.Wait[T](waitCtx, r.corr, id, resultTag, expected...)
	if err != nil {
		return zero, r.released(ctx, err)
	}
	return v, nil
}

// released turns the cancellation caused by closing the remote into the
// closed error; the caller's own cancellation is kept.
func (r *Remote) released(ctx context.Context, err error) error {
	if ctx.Err() == nil && r.IsClosed() && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return r.closedErr()
	}
	return err
}

// Discover picks one endpoint of service speaking a compatible protocol
// version.
func Discover(ctx context.Context, reg registry.Registry, b loadbalance.Balancer, service string) (registry.Endpoint, error) {
	eps, err := reg.Discover(ctx, service)
	if err != nil {
		return registry.Endpoint{}, err
	}

	compatible := eps[:0:0]
	for _, ep := range eps {
		if ep.Version != "" {
			if err := protocol.CheckVersion(ep.Version); err != nil {
				zap.L().Named("remote").Debug("skipping endpoint", zap.String("addr", ep.Addr), zap.Error(err))
				continue
			}
		}
		compatible = append(compatible, ep)
	}
	if len(compatible) == 0 {
		return registry.Endpoint{}, fmt.Errorf("%w: %s", registry.ErrNoEndpoints, service)
	}
	return b.Pick(compatible)
}

// DiscoverKey is Discover with a keyed balancer, keeping key on one endpoint.
func DiscoverKey(ctx context.Context, reg registry.Registry, b loadbalance.KeyedBalancer, service, key string) (registry.Endpoint, error) {
	return Discover(ctx, reg, keyed{b, key}, service)
}

type keyed struct {
	loadbalance.KeyedBalancer
	key string
}

func (k keyed) Pick(eps []registry.Endpoint) (registry.Endpoint, error) {
	return k.PickKey(eps, k.key)
}
