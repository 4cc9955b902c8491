package wsconn_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/wsframe/internal/endpoint"
	"github.com/danmuck/wsframe/internal/protocol"
	"github.com/danmuck/wsframe/internal/testutil/testlog"
	"github.com/danmuck/wsframe/internal/transport/wsconn"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peer runs a test server whose accepted endpoints are passed to onAccept.
func peer(t *testing.T, opts wsconn.Options, onAccept func(*endpoint.Endpoint)) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ep := endpoint.New(wsconn.New(ws, opts), endpoint.DefaultConfig(), endpoint.NewIdentityGenerator())
		onAccept(ep)
		ep.Start()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) (*wsconn.Conn, *endpoint.Endpoint) {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	conn := wsconn.New(ws, wsconn.Options{})
	ep := endpoint.New(conn, endpoint.DefaultConfig(), endpoint.NewIdentityGenerator())
	t.Cleanup(func() { _ = ep.Close(websocket.CloseNormalClosure, "") })
	return conn, ep
}

func collect(ep *endpoint.Endpoint, kind endpoint.EventKind) <-chan endpoint.Event {
	ch := make(chan endpoint.Event, 16)
	ep.Subscribe(endpoint.OnKind(kind, func(ev endpoint.Event) { ch <- ev }))
	return ch
}

func waitEvent(t *testing.T, ch <-chan endpoint.Event) endpoint.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return endpoint.Event{}
	}
}

func TestEchoRoundTrip(t *testing.T) {
	testlog.Start(t)
	url := peer(t, wsconn.Options{}, func(ep *endpoint.Endpoint) {
		ep.Subscribe(endpoint.OnKind(endpoint.EventMessage, func(ev endpoint.Event) {
			_, _ = ep.Send(ev.Title, ev.Payload)
		}))
	})

	_, client := dial(t, url)
	opened := collect(client, endpoint.EventOpen)
	messages := collect(client, endpoint.EventMessage)
	client.Start()
	waitEvent(t, opened)

	d, err := client.Send("greet", []byte("hello"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	ev := waitEvent(t, messages)
	assert.Equal(t, "greet", ev.Title)
	assert.Equal(t, []byte("hello"), ev.Payload)
}

func TestRemoteCloseCarriesCodeAndReason(t *testing.T) {
	testlog.Start(t)
	serverClosed := make(chan endpoint.Event, 1)
	url := peer(t, wsconn.Options{}, func(ep *endpoint.Endpoint) {
		ep.Subscribe(endpoint.OnKind(endpoint.EventClose, func(ev endpoint.Event) { serverClosed <- ev }))
	})

	conn, client := dial(t, url)
	closed := collect(client, endpoint.EventClose)
	client.Start()

	require.NoError(t, client.Close(4000, "bye"))
	ev := waitEvent(t, closed)
	assert.Equal(t, 4000, ev.Code)
	assert.Equal(t, endpoint.StateClosed, conn.State())

	remote := waitEvent(t, serverClosed)
	assert.Equal(t, 4000, remote.Code)
	assert.Equal(t, "bye", remote.Reason)
}

func TestWriteAfterCloseFails(t *testing.T) {
	testlog.Start(t)
	url := peer(t, wsconn.Options{}, func(*endpoint.Endpoint) {})
	conn, client := dial(t, url)
	client.Start()
	require.NoError(t, conn.Close(websocket.CloseNormalClosure, ""))

	err := conn.Write(context.Background(), []byte{0, 0, 0, 0})
	assert.ErrorIs(t, err, wsconn.ErrNotOpen)

	_, err = client.Send("late", nil)
	assert.ErrorIs(t, err, protocol.ErrConnectionInterrupted)
}

func TestOversizedInboundMessageClosesConnection(t *testing.T) {
	testlog.Start(t)
	serverErrs := make(chan endpoint.Event, 4)
	serverClosed := make(chan endpoint.Event, 1)
	url := peer(t, wsconn.Options{MaxPayloadBytes: 64}, func(ep *endpoint.Endpoint) {
		ep.Subscribe(endpoint.OnKind(endpoint.EventError, func(ev endpoint.Event) { serverErrs <- ev }))
		ep.Subscribe(endpoint.OnKind(endpoint.EventClose, func(ev endpoint.Event) { serverClosed <- ev }))
	})

	_, client := dial(t, url)
	client.Start()
	_, err := client.Send("big", make([]byte, 512))
	require.NoError(t, err)

	errEv := waitEvent(t, serverErrs)
	assert.ErrorIs(t, errEv.Err, protocol.ErrConnection)
	waitEvent(t, serverClosed)
}

func TestStartAfterCloseReportsCloseOnly(t *testing.T) {
	testlog.Start(t)
	url := peer(t, wsconn.Options{}, func(*endpoint.Endpoint) {})
	conn, client := dial(t, url)
	require.NoError(t, conn.Close(4001, "early"))

	opened := collect(client, endpoint.EventOpen)
	closed := collect(client, endpoint.EventClose)
	client.Start()

	ev := waitEvent(t, closed)
	assert.Equal(t, 4001, ev.Code)
	select {
	case <-opened:
		t.Fatal("open reported after close")
	case <-time.After(50 * time.Millisecond):
	}
}

type countingSink struct {
	opens  atomic.Int32
	closes atomic.Int32
}

func (s *countingSink) Receive([]byte) {}
func (s *countingSink) HandleOpen() { s.opens.Add(1) }
func (s *countingSink) HandleError(error) {}
func (s *countingSink) HandleClose(int, string) { s.closes.Add(1) }

func TestCloseRacingStartReportsCloseOnce(t *testing.T) {
	testlog.Start(t)
	url := peer(t, wsconn.Options{}, func(*endpoint.Endpoint) {})
	for i := 0; i < 25; i++ {
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		conn := wsconn.New(ws, wsconn.Options{})
		sink := &countingSink{}

		go func() { _ = conn.Close(websocket.CloseNormalClosure, "") }()
		conn.Start(sink)

		require.Eventually(t, func() bool { return sink.closes.Load() > 0 }, 2*time.Second, time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		assert.EqualValues(t, 1, sink.closes.Load(), "iteration %d", i)
		assert.Equal(t, endpoint.StateClosed, conn.State())
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := wsconn.Options{PingInterval: 90 * time.Second, MaxPayloadBytes: -1}.WithDefaults()
	assert.Equal(t, 15*time.Second, opts.WriteTimeout)
	assert.Equal(t, 180*time.Second, opts.PongWait)
	assert.Equal(t, time.Second, opts.CloseGrace)
	assert.Zero(t, opts.MaxPayloadBytes)
}
