package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"socket-rpc/registry"
)

const defaultReplicas = 100

// ConsistentHashBalancer maps keys to endpoints on a hash ring. Each endpoint
// owns many virtual nodes so that load spreads evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
//
// The ring is rebuilt whenever PickKey sees a different endpoint set.
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.RWMutex
	sig   string                       // Addresses the ring was built from
	ring  []uint32                     // Sorted hash values
	nodes map[uint32]registry.Endpoint // Hash value → endpoint
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per endpoint.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: defaultReplicas,
		nodes:    make(map[uint32]registry.Endpoint),
	}
}

// Add places an endpoint onto the ring.
func (b *ConsistentHashBalancer) Add(ep registry.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(ep)
	b.sig += ep.Addr + ","
}

func (b *ConsistentHashBalancer) add(ep registry.Endpoint) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", ep.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = ep
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// Get returns the endpoint owning key on the current ring.
func (b *ConsistentHashBalancer) Get(key string) (registry.Endpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return registry.Endpoint{}, registry.ErrNoEndpoints
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= hash })
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

// PickKey rebuilds the ring from eps when needed and returns the owner of key.
func (b *ConsistentHashBalancer) PickKey(eps []registry.Endpoint, key string) (registry.Endpoint, error) {
	if len(eps) == 0 {
		return registry.Endpoint{}, registry.ErrNoEndpoints
	}

	sig := ""
	for _, ep := range eps {
		sig += ep.Addr + ","
	}
	b.mu.RLock()
	stale := sig != b.sig
	b.mu.RUnlock()

	if stale {
		b.mu.Lock()
		b.ring = b.ring[:0]
		b.nodes = make(map[uint32]registry.Endpoint, len(eps)*b.replicas)
		for _, ep := range eps {
			b.add(ep)
		}
		b.sig = sig
		b.mu.Unlock()
	}
	return b.Get(key)
}

// Pick satisfies Balancer; without a key every call lands on the owner of "".
func (b *ConsistentHashBalancer) Pick(eps []registry.Endpoint) (registry.Endpoint, error) {
	return b.PickKey(eps, "")
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
