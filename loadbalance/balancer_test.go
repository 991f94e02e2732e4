package loadbalance

import (
	"fmt"
	"testing"

	"socket-rpc/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEndpoints = []registry.Endpoint{
	{Addr: ":8001", Weight: 10, Version: "1.2.0"},
	{Addr: ":8002", Weight: 5, Version: "1.2.0"},
	{Addr: ":8003", Weight: 10, Version: "1.2.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	var got []string
	for i := 0; i < 4; i++ {
		ep, err := b.Pick(testEndpoints)
		require.NoError(t, err)
		got = append(got, ep.Addr)
	}
	assert.Equal(t, []string{":8001", ":8002", ":8003", ":8001"}, got)
}

func TestEmptyEndpoints(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		_, err := b.Pick(nil)
		assert.ErrorIs(t, err, registry.ErrNoEndpoints, b.Name())
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		ep, err := b.Pick(testEndpoints)
		require.NoError(t, err)
		counts[ep.Addr]++
	}

	// 10:5:10
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	assert.InDelta(t, 2.0, ratio, 0.5)
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	ep1, err := b.PickKey(testEndpoints, "alice")
	require.NoError(t, err)
	ep2, err := b.PickKey(testEndpoints, "alice")
	require.NoError(t, err)
	assert.Equal(t, ep1.Addr, ep2.Addr)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ep, _ := b.PickKey(testEndpoints, fmt.Sprintf("user-%d", i))
		seen[ep.Addr] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestConsistentHashFollowsEndpointSet(t *testing.T) {
	b := NewConsistentHashBalancer()
	owner, err := b.PickKey(testEndpoints, "bob")
	require.NoError(t, err)

	var rest []registry.Endpoint
	for _, ep := range testEndpoints {
		if ep.Addr != owner.Addr {
			rest = append(rest, ep)
		}
	}
	moved, err := b.PickKey(rest, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, owner.Addr, moved.Addr)
}

func TestByName(t *testing.T) {
	b, ok := ByName("hash")
	require.True(t, ok)
	assert.Equal(t, "ConsistentHash", b.Name())

	_, ok = ByName("fastest")
	assert.False(t, ok)
}
