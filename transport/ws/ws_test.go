package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"socket-rpc/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketRoundTrip(t *testing.T) {
	frames := make(chan string, 8)
	closed := make(chan string, 2)

	srv := NewServer(nil, transport.WithHeartbeat(50*time.Millisecond))
	srv.Handle("/echo/", transport.HandlerFuncs{
		Frame: func(s transport.Session, text string) {
			frames <- s.Path() + " " + text
			s.Send(context.Background(), strings.ToUpper(text))
		},
	})
	hs := httptest.NewServer(srv)
	defer hs.Close()

	got := make(chan string, 8)
	base := "ws" + strings.TrimPrefix(hs.URL, "http")
	s, err := NewDialer(base, transport.WithHeartbeat(50*time.Millisecond)).Dial(context.Background(), "/echo/bob", transport.HandlerFuncs{
		Frame: func(_ transport.Session, text string) { got <- text },
		Close: func(_ transport.Session, reason string) { closed <- reason },
	})
	require.NoError(t, err)
	assert.Equal(t, "/echo/bob", s.Path())

	require.NoError(t, s.Send(context.Background(), "hi"))
	assert.Equal(t, "/echo/bob hi", <-frames)
	assert.Equal(t, "HI", <-got)

	time.Sleep(200 * time.Millisecond)
	assert.True(t, s.IsOpen())

	require.NoError(t, srv.Close())
	select {
	case reason := <-closed:
		assert.Equal(t, transport.ReasonShutdown, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("client was not told about the shutdown")
	}
}

func TestWebSocketUnknownPath(t *testing.T) {
	hs := httptest.NewServer(NewServer(nil))
	defer hs.Close()

	_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(hs.URL, "http")+"/missing", transport.HandlerFuncs{})
	assert.Error(t, err)
}
