package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/zerverless/studio/internal/session"
)

type countingSource struct {
	staged atomic.Int32
}

func (c *countingSource) Snapshot() session.Snapshot {
	return session.Snapshot{Staged: int(c.staged.Load())}
}

type received struct {
	Type   string `json:"type"`
	Staged int    `json:"staged"`
}

func dial(t *testing.T, srv *Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ts := httptest.NewServer(httpHandler(srv))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func TestHandleState_SendsInitialSnapshot(t *testing.T) {
	src := &countingSource{}
	src.staged.Store(2)
	srv := NewServer(src, zerolog.Nop())

	conn, ctx := dial(t, srv)

	var msg received
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "state", msg.Type)
	assert.Equal(t, 2, msg.Staged)
}

func TestBroadcast_PushesLatestState(t *testing.T) {
	src := &countingSource{}
	srv := NewServer(src, zerolog.Nop())

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go srv.Run(runCtx)

	conn, ctx := dial(t, srv)
	var msg received
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, time.Second, 5*time.Millisecond)

	src.staged.Store(3)
	srv.Notify()

	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "state", msg.Type)
	assert.Equal(t, 3, msg.Staged)
}

func TestHandleState_PingAndRefresh(t *testing.T) {
	src := &countingSource{}
	srv := NewServer(src, zerolog.Nop())
	conn, ctx := dial(t, srv)

	var msg received
	require.NoError(t, wsjson.Read(ctx, conn, &msg))

	require.NoError(t, wsjson.Write(ctx, conn, BaseMessage{Type: "ping"}))
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "pong", msg.Type)

	src.staged.Store(1)
	require.NoError(t, wsjson.Write(ctx, conn, BaseMessage{Type: "refresh"}))
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "state", msg.Type)
	assert.Equal(t, 1, msg.Staged)
}

func TestClientRemovedOnDisconnect(t *testing.T) {
	srv := NewServer(&countingSource{}, zerolog.Nop())
	conn, ctx := dial(t, srv)

	var msg received
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "bye")
	require.Eventually(t, func() bool { return srv.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestNotify_NeverBlocks(t *testing.T) {
	srv := NewServer(&countingSource{}, zerolog.Nop())
	for i := 0; i < 10; i++ {
		srv.Notify()
	}
}

func httpHandler(srv *Server) http.Handler {
	return http.HandlerFunc(srv.HandleState)
}
