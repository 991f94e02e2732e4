// Package loadbalance picks the endpoint a client dials among those a
// registry returned.
//
// Three strategies are implemented:
//   - RoundRobin:      Equal-capacity servers
//   - WeightedRandom:  Heterogeneous servers, by Endpoint.Weight
//   - ConsistentHash:  Affinity of a key (e.g. a chat username) to one server
package loadbalance

import (
	"socket-rpc/registry"
)

// Balancer selects one endpoint. Pick is called for every dial and must be
// goroutine-safe.
type Balancer interface {
	Pick(eps []registry.Endpoint) (registry.Endpoint, error)
	Name() string
}

// KeyedBalancer selects by key, so that the same key lands on the same
// endpoint while the endpoint set is stable.
type KeyedBalancer interface {
	PickKey(eps []registry.Endpoint, key string) (registry.Endpoint, error)
	Name() string
}

// ByName returns the strategy named name ("roundrobin", "random", "hash").
func ByName(name string) (Balancer, bool) {
	switch name {
	case "", "roundrobin", "RoundRobin":
		return &RoundRobinBalancer{}, true
	case "random", "WeightedRandom":
		return &WeightedRandomBalancer{}, true
	case "hash", "ConsistentHash":
		return NewConsistentHashBalancer(), true
	default:
		return nil, false
	}
}
