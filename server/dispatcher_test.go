package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"socket-rpc/message"
	"socket-rpc/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// nopSession satisfies transport.Session for processors that never reply.
type nopSession struct{}

func (nopSession) ID() string                         { return "nop" }
func (nopSession) Path() string                       { return "/nop" }
func (nopSession) IsOpen() bool                       { return true }
func (nopSession) Send(context.Context, string) error { return nil }
func (nopSession) Close(string) error                 { return nil }
func (nopSession) SendAsync(string) <-chan error {
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func request(id string) message.RpcMessage {
	return message.NewEnvelope("test.Request", id)
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	const workers = 4
	var running, peak atomic.Int32
	var wg sync.WaitGroup

	d := NewDispatcher(ProcessorFunc(func(context.Context, transport.Session, message.RpcMessage) error {
		defer wg.Done()
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	}), WithWorkers(workers), WithDispatcherLogger(zaptest.NewLogger(t)))
	defer d.Close()

	wg.Add(100)
	for i := 0; i < 100; i++ {
		require.NoError(t, d.Schedule(context.Background(), nopSession{}, request("x")))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.Equal(t, workers, d.Stats().Workers)
}

func TestDispatcherSurvivesFailures(t *testing.T) {
	var done atomic.Int32
	d := NewDispatcher(ProcessorFunc(func(_ context.Context, _ transport.Session, req message.RpcMessage) error {
		defer done.Add(1)
		switch req.ID() {
		case "panic":
			panic("handler bug")
		case "closed":
			return transport.ErrSessionClosed
		case "error":
			return errors.New("boom")
		}
		return nil
	}), WithWorkers(1), WithDispatcherLogger(zaptest.NewLogger(t)))
	defer d.Close()

	for _, id := range []string{"panic", "closed", "error", "ok", "panic", "ok"} {
		require.NoError(t, d.Schedule(context.Background(), nopSession{}, request(id)))
	}
	assert.Eventually(t, func() bool { return done.Load() == 6 }, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcherProcessesBurst(t *testing.T) {
	var done atomic.Int32
	d := NewDispatcher(ProcessorFunc(func(context.Context, transport.Session, message.RpcMessage) error {
		time.Sleep(100 * time.Microsecond)
		done.Add(1)
		return nil
	}), WithQueueSize(50), WithWorkers(8), WithDispatcherLogger(zaptest.NewLogger(t)))
	defer d.Close()

	for i := 0; i < 1000; i++ {
		require.NoError(t, d.Schedule(context.Background(), nopSession{}, request("x")))
	}
	assert.Eventually(t, func() bool { return done.Load() == 1000 }, 5*time.Second, 10*time.Millisecond)
}

func TestDispatcherQueueFull(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(ProcessorFunc(func(ctx context.Context, _ transport.Session, _ message.RpcMessage) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}), WithQueueSize(1), WithWorkers(1), WithScheduleWait(50*time.Millisecond), WithDispatcherLogger(zaptest.NewLogger(t)))
	defer d.Close()
	defer close(release)

	require.NoError(t, d.Schedule(context.Background(), nopSession{}, request("1")))
	require.Eventually(t, func() bool { return d.Stats().Active == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Schedule(context.Background(), nopSession{}, request("2")))

	start := time.Now()
	err := d.Schedule(context.Background(), nopSession{}, request("3"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, Stats{Queued: 1, Active: 1, Workers: 1, Capacity: 1}, d.Stats())
}

func TestDispatcherClose(t *testing.T) {
	cancelled := make(chan struct{})
	d := NewDispatcher(ProcessorFunc(func(ctx context.Context, _ transport.Session, _ message.RpcMessage) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}), WithWorkers(1), WithDispatcherLogger(zaptest.NewLogger(t)))

	require.NoError(t, d.Schedule(context.Background(), nopSession{}, request("1")))
	require.Eventually(t, func() bool { return d.Stats().Active == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Close())
	<-cancelled

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
	assert.ErrorIs(t, d.Schedule(context.Background(), nopSession{}, request("2")), ErrDispatcherClosed)
}
