package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"socket-rpc/codec"
	"socket-rpc/message"
	"socket-rpc/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// session records what handlers send.
type session struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *session) ID() string   { return "s1" }
func (s *session) Path() string { return "/test" }
func (s *session) IsOpen() bool { return s.err == nil }

func (s *session) Send(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *session) SendAsync(text string) <-chan error {
	ch := make(chan error, 1)
	ch <- s.Send(context.Background(), text)
	return ch
}

func (s *session) Close(string) error { return nil }

var _ transport.Session = (*session)(nil)

var req = message.NewEnvelope("test.Request", "7")

func ok(context.Context, transport.Session, message.RpcMessage) error { return nil }

func slow(ctx context.Context, _ transport.Session, _ message.RpcMessage) error {
	select {
	case <-time.After(200 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestLogging(t *testing.T) {
	h := Logging(zaptest.NewLogger(t))(ok)
	assert.NoError(t, h(context.Background(), &session{}, req))

	failing := Logging(zaptest.NewLogger(t))(func(context.Context, transport.Session, message.RpcMessage) error {
		return errors.New("boom")
	})
	assert.EqualError(t, failing(context.Background(), &session{}, req), "boom")
}

func TestTimeoutPass(t *testing.T) {
	h := Timeout(500 * time.Millisecond)(ok)
	assert.NoError(t, h(context.Background(), &session{}, req))
}

func TestTimeoutExceeded(t *testing.T) {
	h := Timeout(50 * time.Millisecond)(slow)
	start := time.Now()
	assert.ErrorIs(t, h(context.Background(), &session{}, req), ErrHandlerTimeout)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestRateLimit(t *testing.T) {
	// 1 per second, burst 2: two pass, the third is rejected
	h := RateLimit(1, 2)(ok)
	for i := 0; i < 2; i++ {
		require.NoError(t, h(context.Background(), &session{}, req), "request %d", i)
	}
	assert.ErrorIs(t, h(context.Background(), &session{}, req), ErrRateLimited)
}

func TestRecover(t *testing.T) {
	h := Recover(zaptest.NewLogger(t))(func(context.Context, transport.Session, message.RpcMessage) error {
		panic("nil map")
	})
	err := h(context.Background(), &session{}, req)
	assert.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "nil map")
}

func TestReplyOnError(t *testing.T) {
	s := &session{}
	h := ReplyOnError()(func(context.Context, transport.Session, message.RpcMessage) error {
		return fmt.Errorf("admission: %w", ErrRateLimited)
	})
	require.NoError(t, h(context.Background(), s, req))

	require.Len(t, s.sent, 1)
	msg, err := codec.ExceptionDecoder().Decode(s.sent[0])
	require.NoError(t, err)
	exc := msg.(*message.ExceptionMessage)
	assert.Equal(t, "7", exc.ID())
	assert.Equal(t, "socketrpc.RateLimited", exc.ExceptionName())
	assert.Equal(t, "rate limit exceeded", exc.Message())
}

func TestReplyOnErrorReportsSendFailure(t *testing.T) {
	s := &session{err: errors.New("pipe broken")}
	h := ReplyOnError()(func(context.Context, transport.Session, message.RpcMessage) error {
		return errors.New("boom")
	})
	err := h(context.Background(), s, req)
	assert.ErrorContains(t, err, "boom")
	assert.ErrorContains(t, err, "pipe broken")
}

func TestReplyOnErrorSkipsNotifications(t *testing.T) {
	s := &session{}
	h := ReplyOnError()(func(context.Context, transport.Session, message.RpcMessage) error {
		return errors.New("boom")
	})
	err := h(context.Background(), s, message.NewEnvelope("test.Notification", ""))
	assert.EqualError(t, err, "boom")
	assert.Empty(t, s.sent)
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	h := Retry(3, time.Millisecond, zaptest.NewLogger(t))(func(context.Context, transport.Session, message.RpcMessage) error {
		if calls.Add(1) < 3 {
			return fmt.Errorf("store: %w", ErrTemporary)
		}
		return nil
	})
	assert.NoError(t, h(context.Background(), &session{}, req))
	assert.EqualValues(t, 3, calls.Load())

	calls.Store(0)
	permanent := Retry(3, time.Millisecond, zaptest.NewLogger(t))(func(context.Context, transport.Session, message.RpcMessage) error {
		calls.Add(1)
		return errors.New("bad input")
	})
	assert.EqualError(t, permanent(context.Background(), &session{}, req), "bad input")
	assert.EqualValues(t, 1, calls.Load())
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, s transport.Session, r message.RpcMessage) error {
				order = append(order, name+">")
				err := next(ctx, s, r)
				order = append(order, "<"+name)
				return err
			}
		}
	}
	h := Chain(mark("a"), mark("b"), Timeout(time.Second))(ok)
	require.NoError(t, h(context.Background(), &session{}, req))
	assert.Equal(t, []string{"a>", "b>", "<b", "<a"}, order)
}
