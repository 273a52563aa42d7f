package websocket

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/tilegrid/internal/apperror"
	"github.com/rocketscienceinc/tilegrid/internal/codec"
	"github.com/rocketscienceinc/tilegrid/internal/entity"
	"github.com/rocketscienceinc/tilegrid/internal/fanout"
	"github.com/rocketscienceinc/tilegrid/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type authority struct {
	addr    string
	manager *usecase.GridManager
	hub     *fanout.Hub
	cancel  context.CancelFunc
	served  chan error
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		ReadHeaderTimeout: time.Second,
		WriteTimeout:      time.Second,
		ShutdownTimeout:   2 * time.Second,
	}
}

// startAuthority - runs hub, mutation service and websocket server on a random local port.
func startAuthority(t *testing.T, rows, columns int) *authority {
	t.Helper()

	grid, err := entity.NewGrid(rows, columns)
	require.NoError(t, err)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	t.Cleanup(stopBackground)

	hub := fanout.NewHub(testLogger(), 16)
	go hub.Run(bgCtx)

	manager := usecase.NewGridManager(testLogger(), grid, hub)
	go manager.Run(bgCtx)

	return serve(t, manager, hub)
}

func serve(t *testing.T, manager gridManager, hub hub) *authority {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	server := New(testLogger(), manager, hub, testOptions())

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(ctx, listener)
	}()

	t.Cleanup(func() {
		cancel()
		<-served
	})

	a := &authority{addr: listener.Addr().String(), cancel: cancel, served: served}
	if m, ok := manager.(*usecase.GridManager); ok {
		a.manager = m
	}
	if h, ok := hub.(*fanout.Hub); ok {
		a.hub = h
	}

	return a
}

func dial(t *testing.T, addr, path string) *websocket.Conn {
	t.Helper()

	target := url.URL{Scheme: "ws", Host: addr, Path: path}
	conn, _, err := websocket.DefaultDialer.Dial(target.String(), nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) string {
	t.Helper()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	return string(reply)
}

func TestServer_RequestChannel(t *testing.T) {
	a := startAuthority(t, 4, 4)
	conn := dial(t, a.addr, RequestPath)

	t.Run("Fetch returns the snapshot", func(t *testing.T) {
		reply := roundTrip(t, conn, codec.FetchRequest)

		grid, err := entity.NewGrid(1, 1)
		require.NoError(t, err)
		require.NoError(t, codec.DecodeSnapshot(reply, grid))
		assert.Equal(t, 4, grid.Rows())
		assert.Equal(t, 4, grid.Columns())
	})

	t.Run("Update is acknowledged", func(t *testing.T) {
		raw := codec.EncodeCommand(entity.NewUpdate(entity.NewClientID(), 1, 2, 3))

		assert.Equal(t, codec.AckOK, roundTrip(t, conn, raw))
	})

	t.Run("Malformed command gets an error ack and the connection stays usable", func(t *testing.T) {
		reply := roundTrip(t, conn, "garbage")
		require.ErrorIs(t, codec.DecodeAck(reply), apperror.ErrMalformedMessage)

		reply = roundTrip(t, conn, codec.FetchRequest)
		assert.Equal(t, "4,4", reply[:3])
	})
}

func TestServer_Broadcast(t *testing.T) {
	a := startAuthority(t, 4, 4)

	// Given: two subscribers and a requester
	first := dial(t, a.addr, SubscribePath)
	second := dial(t, a.addr, SubscribePath)
	requester := dial(t, a.addr, RequestPath)

	// When: an update is accepted
	raw := codec.EncodeCommand(entity.NewUpdate(entity.NewClientID(), 1, 2, 3))
	require.Equal(t, codec.AckOK, roundTrip(t, requester, raw))

	// And: a rejected update follows
	rejected := codec.EncodeCommand(entity.NewUpdate(entity.NewClientID(), 9, 9, 3))
	require.ErrorIs(t, codec.DecodeAck(roundTrip(t, requester, rejected)), apperror.ErrOutOfBounds)

	// And: another accepted update
	next := codec.EncodeCommand(entity.NewUpdate(entity.NewClientID(), 0, 0, 1))
	require.Equal(t, codec.AckOK, roundTrip(t, requester, next))

	// Then: each subscriber sees both accepted commands in order, unchanged, and nothing else
	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))

		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, raw, string(msg))

		_, msg, err = conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, next, string(msg))
	}
}

type slowManager struct {
	delay time.Duration
}

func (that *slowManager) Handle(_ context.Context, raw string) (string, error) {
	time.Sleep(that.delay)
	return "done:" + raw, nil
}

func TestServer_ShutdownFinishesInFlightRequest(t *testing.T) {
	bgCtx, stop := context.WithCancel(context.Background())
	defer stop()

	hub := fanout.NewHub(testLogger(), 4)
	go hub.Run(bgCtx)

	a := serve(t, &slowManager{delay: 300 * time.Millisecond}, hub)
	conn := dial(t, a.addr, RequestPath)

	// Given: a request being processed
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("fetch")))
	time.Sleep(50 * time.Millisecond)

	// When: the server is asked to stop
	a.cancel()

	// Then: the reply still arrives, followed by a close
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "done:fetch", string(reply))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	select {
	case err = <-a.served:
		require.NoError(t, err)
		a.served <- nil
	case <-time.After(waitFor):
		t.Fatal("server did not stop")
	}
}

func TestServer_StartBindFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	server := New(testLogger(), &slowManager{}, fanout.NewHub(testLogger(), 1), testOptions())

	err = server.Start(context.Background(), listener.Addr().String())

	require.Error(t, err)
}
