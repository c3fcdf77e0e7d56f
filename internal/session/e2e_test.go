package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/protocol"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/room"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/ws"
)

func startServer(t *testing.T) (*ws.Hub, string) {
	t.Helper()
	hub := ws.NewHub(room.NewRegistry(0, 0), ws.WithLogger(quiet))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, name string) *Client {
	t.Helper()
	c := New(Options{URL: url, DisplayName: name, Logger: quiet})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

// collectDraws records every inbound draw on c.
func collectDraws(c *Client) <-chan protocol.Draw {
	ch := make(chan protocol.Draw, 64)
	c.On(protocol.EventDraw, func(data json.RawMessage) {
		var d protocol.Draw
		if json.Unmarshal(data, &d) == nil {
			ch <- d
		}
	})
	return ch
}

func nextDraw(t *testing.T, ch <-chan protocol.Draw) protocol.Draw {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no draw received")
		return protocol.Draw{}
	}
}

func TestLateJoinerSeesCommittedLine(t *testing.T) {
	hub, url := startServer(t)
	ctx := context.Background()

	x := dial(t, url, "x")
	require.NoError(t, x.JoinRoom(ctx, "abc"))

	line := shape.Shape{
		ID:          shape.NewID(),
		Type:        shape.TypeLine,
		Color:       "#ff0000",
		StrokeWidth: 3,
		Start:       shape.Pt(10, 10),
		End:         shape.Pt(50, 50),
		Timestamp:   shape.NowMillis(),
	}
	require.NoError(t, x.SendDraw(protocol.PathDraw("", line)))
	require.Eventually(t, func() bool {
		return len(hub.Registry().History("abc", 0)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	y := dial(t, url, "y")
	state := make(chan []shape.Path, 1)
	y.On(protocol.EventRoomState, func(data json.RawMessage) {
		var paths []shape.Path
		if json.Unmarshal(data, &paths) == nil {
			state <- paths
		}
	})
	require.NoError(t, y.JoinRoom(ctx, "abc"))

	select {
	case paths := <-state:
		require.Len(t, paths, 1)
		assert.Equal(t, line, shape.FromPath(paths[0]))
	case <-time.After(2 * time.Second):
		t.Fatal("no room-state")
	}
	assert.Equal(t, 2, y.UserCount())
}

func TestDrawIsNeverEchoedToSender(t *testing.T) {
	_, url := startServer(t)
	ctx := context.Background()

	x, y := dial(t, url, "x"), dial(t, url, "y")
	xDraws, yDraws := collectDraws(x), collectDraws(y)
	require.NoError(t, x.JoinRoom(ctx, "r1"))
	require.NoError(t, y.JoinRoom(ctx, "r1"))

	require.NoError(t, x.SendDraw(protocol.DeleteDraw("", "from-x")))
	assert.Equal(t, "from-x", nextDraw(t, yDraws).ShapeID())

	// Anything the server echoed to x would be queued ahead of y's draw.
	require.NoError(t, y.SendDraw(protocol.DeleteDraw("", "from-y")))
	assert.Equal(t, "from-y", nextDraw(t, xDraws).ShapeID())
	assert.Empty(t, xDraws)
	assert.Empty(t, yDraws)
}

func TestCollidingIDsConverge(t *testing.T) {
	hub, url := startServer(t)
	ctx := context.Background()

	a, b := dial(t, url, "a"), dial(t, url, "b")
	aStore, bStore := shape.NewStore(), shape.NewStore()
	for c, st := range map[*Client]*shape.Store{a: aStore, b: bStore} {
		c.On(protocol.EventDraw, func(data json.RawMessage) {
			var d protocol.Draw
			if json.Unmarshal(data, &d) == nil && d.Kind == protocol.KindPath {
				st.Upsert(shape.FromPath(*d.Path))
			}
		})
	}
	require.NoError(t, a.JoinRoom(ctx, "r1"))
	require.NoError(t, b.JoinRoom(ctx, "r1"))

	ts := shape.NowMillis()
	sa := shape.Shape{ID: "same", Type: shape.TypeRectangle, Color: "#111", StrokeWidth: 1,
		Start: shape.Pt(0, 0), End: shape.Pt(10, 10), Timestamp: ts}
	sb := shape.Shape{ID: "same", Type: shape.TypeCircle, Color: "#222", StrokeWidth: 2,
		Start: shape.Pt(5, 5), Radius: 3, Timestamp: ts}
	aStore.Upsert(sa)
	bStore.Upsert(sb)
	require.NoError(t, a.SendDraw(protocol.PathDraw("", sa)))
	require.NoError(t, b.SendDraw(protocol.PathDraw("", sb)))

	require.Eventually(t, func() bool {
		return len(hub.Registry().History("r1", 0)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		ga, _ := aStore.Get("same")
		gb, _ := bStore.Get("same")
		return ga.Type == shape.TypeCircle && gb.Type == shape.TypeRectangle
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, aStore.Len())
	assert.Equal(t, 1, bStore.Len())

	// A late joiner replays both entries into a single shape.
	late := dial(t, url, "late")
	lateStore := shape.NewStore()
	late.On(protocol.EventRoomState, func(data json.RawMessage) {
		var paths []shape.Path
		if json.Unmarshal(data, &paths) == nil {
			for _, p := range paths {
				lateStore.Upsert(shape.FromPath(p))
			}
		}
	})
	require.NoError(t, late.JoinRoom(ctx, "r1"))
	require.Eventually(t, func() bool { return lateStore.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestUncleanDisconnectUpdatesCount(t *testing.T) {
	_, url := startServer(t)
	ctx := context.Background()

	a, b := dial(t, url, "a"), dial(t, url, "b")
	require.NoError(t, a.JoinRoom(ctx, "z"))
	require.NoError(t, b.JoinRoom(ctx, "z"))
	require.Eventually(t, func() bool { return b.UserCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return b.Roster().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Drop the socket without sending leave-room.
	a.mu.Lock()
	tr := a.transport.(*wsTransport)
	a.mu.Unlock()
	tr.conn.Close()

	require.Eventually(t, func() bool { return b.UserCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return b.Roster().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClearReachesEveryone(t *testing.T) {
	hub, url := startServer(t)
	ctx := context.Background()

	a, b := dial(t, url, "a"), dial(t, url, "b")
	cleared := make(chan string, 2)
	a.On(protocol.EventCanvasCleared, func(json.RawMessage) { cleared <- "a" })
	b.On(protocol.EventCanvasCleared, func(json.RawMessage) { cleared <- "b" })
	require.NoError(t, a.JoinRoom(ctx, "r1"))
	require.NoError(t, b.JoinRoom(ctx, "r1"))

	require.NoError(t, a.SendDraw(protocol.PathDraw("", shape.Shape{ID: "s", Type: shape.TypeLine})))
	require.NoError(t, a.SendClear())

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case who := <-cleared:
			got[who] = true
		case <-time.After(2 * time.Second):
			t.Fatal("clear not delivered")
		}
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, got)
	assert.Empty(t, hub.Registry().History("r1", 0))
}

func TestRejectedJoinKeepsCurrentRoom(t *testing.T) {
	_, url := startServer(t)
	c := dial(t, url, "c")
	require.NoError(t, c.JoinRoom(context.Background(), "ok"))

	errs := make(chan protocol.ErrorPayload, 1)
	c.On(protocol.EventJoinRoomError, func(data json.RawMessage) {
		var e protocol.ErrorPayload
		_ = json.Unmarshal(data, &e)
		errs <- e
	})
	// JoinRoom refuses blank ids locally, so send the frame directly.
	require.NoError(t, c.send(protocol.EventJoinRoom, protocol.JoinRoom{RoomID: " "}))

	select {
	case e := <-errs:
		assert.Equal(t, protocol.CodeInvalidRoom, e.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("no join-room-error")
	}
	assert.Equal(t, "ok", c.CurrentRoom())
}
