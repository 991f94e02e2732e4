package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newEtcdRegistry needs a running etcd, e.g. SOCKRPC_ETCD=localhost:2379.
func newEtcdRegistry(t *testing.T) *EtcdRegistry {
	addr := os.Getenv("SOCKRPC_ETCD")
	if addr == "" {
		t.Skip("SOCKRPC_ETCD not set")
	}
	reg, err := NewEtcdRegistry(strings.Split(addr, ","), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	exercise(t, newEtcdRegistry(t))
}

func TestEtcdWatch(t *testing.T) {
	reg := newEtcdRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service := "Watch-" + strings.ReplaceAll(t.Name(), "/", "-")
	ch, err := reg.Watch(ctx, service)
	require.NoError(t, err)
	assert.Empty(t, <-ch)

	ep := Endpoint{Addr: "127.0.0.1:9001", Path: "/chat/", Weight: 1, Version: "1.2.0"}
	require.NoError(t, reg.Register(ctx, service, ep, 10*time.Second))
	defer reg.Deregister(context.Background(), service, ep.Addr)

	select {
	case eps := <-ch:
		assert.Equal(t, []Endpoint{ep}, eps)
	case <-time.After(5 * time.Second):
		t.Fatal("no update after register")
	}
}
