package loadbalance

import (
	"sync/atomic"

	"socket-rpc/registry"
)

// RoundRobinBalancer cycles through the endpoints with a lock-free counter.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(eps []registry.Endpoint) (registry.Endpoint, error) {
	if len(eps) == 0 {
		return registry.Endpoint{}, registry.ErrNoEndpoints
	}
	index := (b.counter.Add(1) - 1) % uint64(len(eps))
	return eps[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
