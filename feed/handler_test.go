package feed

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadsphere/quadtree"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newTestFeed(t *testing.T, hub *Hub) (dial func() *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(NewServer(ctx, ServerOptions{
		Hub:                hub,
		Endpoint:           "http://feed.test",
		ClientIdleTimeout:  time.Minute,
		LogSummaryInterval: time.Millisecond * 100,
	}))

	var conns []*websocket.Conn
	t.Cleanup(func() {
		for _, c := range conns {
			c.Close()
		}
		cancel()
		server.Close()
	})

	return func() *websocket.Conn {
		config, err := websocket.NewConfig(
			strings.ReplaceAll(server.URL, "http://", "ws://"),
			"http://localhost",
		)
		require.NoError(t, err)
		config.Header.Set(HeaderClientID, fmt.Sprintf("client-%d", len(conns)))

		conn, err := websocket.DialConfig(config)
		require.NoError(t, err)

		conns = append(conns, conn)
		return conn
	}
}

func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, fields map[string]any) {
	msg, err := NewMsg(msgType, fields)
	require.NoError(t, err)

	b, err := msg.Encode()
	require.NoError(t, err)
	require.NoError(t, websocket.Message.Send(conn, b))
}

func receiveMsg(t *testing.T, conn *websocket.Conn) Msg {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second*5)))

	var b []byte
	require.NoError(t, websocket.Message.Receive(conn, &b))

	msg, err := DecodeMsg(b)
	require.NoError(t, err)
	return msg
}

func TestHandle(t *testing.T) {
	t.Run("ping", func(t *testing.T) {
		conn := newTestFeed(t, &Hub{})()

		sendMsg(t, conn, MsgTypePing, map[string]any{requestIDField: "p1"})
		msg := receiveMsg(t, conn)
		require.Equal(t, MsgTypePong, msg.Type)
		require.Equal(t, "p1", msg.RequestID())
	})

	t.Run("frame summaries are pushed", func(t *testing.T) {
		hub := &Hub{}
		conn := newTestFeed(t, hub)()

		require.Eventually(t, func() bool {
			return hub.ClientCount() == 1
		}, time.Second*5, time.Millisecond*5)

		hub.HandleFrame(quadtree.FrameStats{Frame: 7, Rendered: 3})
		msg := receiveMsg(t, conn)
		require.Equal(t, MsgTypeFrame, msg.Type)
		require.Equal(t, float64(7), msg.Data.Fields["frame"].GetNumberValue())
		require.Equal(t, float64(3), msg.Data.Fields["rendered"].GetNumberValue())
	})

	t.Run("snapshot", func(t *testing.T) {
		hub := &Hub{
			Snapshot: func() ([]quadtree.VisibleTile, quadtree.FrameStats) {
				return []quadtree.VisibleTile{{Key: "1/0/0", Zoom: 1}}, quadtree.FrameStats{Frame: 9}
			},
		}
		conn := newTestFeed(t, hub)()

		sendMsg(t, conn, MsgTypeSnapshotRequest, map[string]any{requestIDField: "s1"})
		msg := receiveMsg(t, conn)
		require.Equal(t, MsgTypeSnapshot, msg.Type)
		require.Equal(t, "s1", msg.RequestID())
		require.Len(t, msg.Data.Fields["tiles"].GetListValue().GetValues(), 1)
		require.Equal(t, float64(9), msg.Data.Fields["stats"].GetStructValue().GetFields()["frame"].GetNumberValue())
	})

	t.Run("unsupported messages are ignored", func(t *testing.T) {
		conn := newTestFeed(t, &Hub{})()

		sendMsg(t, conn, "teleport", nil)
		sendMsg(t, conn, MsgTypePing, map[string]any{requestIDField: "p2"})

		msg := receiveMsg(t, conn)
		require.Equal(t, MsgTypePong, msg.Type)
		require.Equal(t, "p2", msg.RequestID())
	})

	t.Run("invalid message disconnects the client", func(t *testing.T) {
		hub := &Hub{}
		conn := newTestFeed(t, hub)()

		require.NoError(t, websocket.Message.Send(conn, []byte{0xff, 0xff, 0xff}))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second*5)))

		var b []byte
		require.Error(t, websocket.Message.Receive(conn, &b))
		require.Eventually(t, func() bool {
			return hub.ClientCount() == 0
		}, time.Second*5, time.Millisecond*5)
	})

	t.Run("failed snapshot disconnects the client", func(t *testing.T) {
		conn := newTestFeed(t, &Hub{})()

		sendMsg(t, conn, MsgTypeSnapshotRequest, nil)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second*5)))

		var b []byte
		require.Error(t, websocket.Message.Receive(conn, &b))
	})
}

func TestHandlerWithLogsLogSummary(t *testing.T) {
	h := HandlerWithLogs(&FeedHandler{clientID: "test-client"}, time.Hour).(*handlerWithLogs)
	defer h.Close()

	h.sent.inc(MsgTypeFrame)
	h.sent.inc(MsgTypeFrame)
	h.sent.inc(MsgTypePong)

	var mutex sync.Mutex
	var b strings.Builder
	logs.SetInlineEncoder()
	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()
		fmt.Fprint(&b, e)
	})

	h.logSummary()
	require.Zero(t, h.sent.len())

	mutex.Lock()
	defer mutex.Unlock()

	out := b.String()
	require.Contains(t, out, `"frame":2`)
	require.Contains(t, out, `"pong":1`)
	require.Contains(t, out, fmt.Sprintf(`"%s":"%s"`, logs.ClientIDTag, "test-client"))
}
