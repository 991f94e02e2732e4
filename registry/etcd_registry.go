package registry

// EtcdRegistry stores endpoints in etcd v3:
//
//	Key:   /socket-rpc/{service}/{addr}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL-based leases: if the server crashes, the lease expires
// and the entry is removed without a Deregister.

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const dialTimeout = 5 * time.Second

type lease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc // Stops the KeepAlive stream
}

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // Shared across goroutines
	log    *zap.Logger

	mu     sync.Mutex
	leases map[string]lease // key → lease held by this process
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, log *zap.Logger) (*EtcdRegistry, error) {
	if log == nil {
		log = zap.L()
	}
	log = log.Named("registry")
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      log.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, log: log, leases: make(map[string]lease)}, nil
}

// Register grants a lease of ttl, stores ep under it and keeps it alive in the
// background until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, service string, ep Endpoint, ttl time.Duration) error {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	granted, err := r.client.Grant(ctx, seconds)
	if err != nil {
		return err
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}
	k := key(service, ep.Addr)
	if _, err := r.client.Put(ctx, k, string(val), clientv3.WithLease(granted.ID)); err != nil {
		return err
	}

	// The stream outlives ctx, which only bounds the registration itself
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, granted.ID)
	if err != nil {
		cancel()
		return err
	}
	go func() {
		for range ch {
		}
		r.log.Debug("lease keep-alive stopped", zap.String("key", k))
	}()

	r.mu.Lock()
	if old, ok := r.leases[k]; ok {
		old.cancel()
	}
	r.leases[k] = lease{id: granted.ID, cancel: cancel}
	r.mu.Unlock()

	r.log.Info("registered", zap.String("key", k), zap.Duration("ttl", ttl))
	return nil
}

// Deregister removes the endpoint and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, service, addr string) error {
	k := key(service, addr)
	r.mu.Lock()
	l, ok := r.leases[k]
	delete(r.leases, k)
	r.mu.Unlock()

	_, err := r.client.Delete(ctx, k)
	if ok {
		l.cancel()
		_, rerr := r.client.Revoke(ctx, l.id)
		err = multierr.Append(err, rerr)
	}
	return err
}

// Discover returns all currently registered endpoints of service.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, prefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	eps := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			r.log.Warn("skipping malformed endpoint", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// Watch re-reads the endpoint list on every change under the service prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) (<-chan []Endpoint, error) {
	initial, err := r.Discover(ctx, service)
	if err != nil {
		return nil, err
	}

	ch := make(chan []Endpoint, 1)
	ch <- initial
	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, prefix(service), clientv3.WithPrefix()) {
			eps, err := r.Discover(ctx, service)
			if err != nil {
				r.log.Warn("re-discovery failed", zap.String("service", service), zap.Error(err))
				continue
			}
			select {
			case ch <- eps:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Close stops all keep-alives and the etcd client. Registered endpoints
// expire with their leases.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for k, l := range r.leases {
		l.cancel()
		delete(r.leases, k)
	}
	r.mu.Unlock()
	return r.client.Close()
}
