package registry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, reg Registry) {
	ctx := context.Background()
	ep1 := Endpoint{Addr: "127.0.0.1:8001", Path: "/chat/", Weight: 10, Version: "1.2.0"}
	ep2 := Endpoint{Addr: "127.0.0.1:8002", Path: "/chat/", Weight: 5, Version: "1.2.0"}

	require.NoError(t, reg.Register(ctx, "Chat", ep1, 10*time.Second))
	require.NoError(t, reg.Register(ctx, "Chat", ep2, 10*time.Second))

	eps, err := reg.Discover(ctx, "Chat")
	require.NoError(t, err)
	assert.ElementsMatch(t, []Endpoint{ep1, ep2}, eps)

	require.NoError(t, reg.Deregister(ctx, "Chat", ep1.Addr))
	time.Sleep(100 * time.Millisecond)

	eps, err = reg.Discover(ctx, "Chat")
	require.NoError(t, err)
	assert.Equal(t, []Endpoint{ep2}, eps)

	require.NoError(t, reg.Deregister(ctx, "Chat", ep2.Addr))
}

func TestMemoryRegisterAndDiscover(t *testing.T) {
	exercise(t, NewMemoryRegistry())
}

func TestMemoryEntriesExpire(t *testing.T) {
	reg := NewMemoryRegistry()
	now := time.Now()
	reg.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, "Chat", Endpoint{Addr: "a"}, time.Second))
	require.NoError(t, reg.Register(ctx, "Chat", Endpoint{Addr: "b"}, 0))

	now = now.Add(2 * time.Second)
	eps, err := reg.Discover(ctx, "Chat")
	require.NoError(t, err)
	assert.Equal(t, []Endpoint{{Addr: "b"}}, eps)
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := reg.Watch(ctx, "Chat")
	require.NoError(t, err)
	assert.Empty(t, <-ch)

	require.NoError(t, reg.Register(ctx, "Chat", Endpoint{Addr: "a"}, 0))
	select {
	case eps := <-ch:
		assert.Equal(t, []Endpoint{{Addr: "a"}}, eps)
	case <-time.After(time.Second):
		t.Fatal("no update after register")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "/socket-rpc/Chat/127.0.0.1:8001", key("Chat", "127.0.0.1:8001"))
	assert.True(t, strings.HasPrefix(key("Chat", "x"), prefix("Chat")))
}
