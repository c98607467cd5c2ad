package bridge

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kleeedolinux/actionsocket/app"
	"github.com/kleeedolinux/actionsocket/internal/testutil"
	"github.com/kleeedolinux/actionsocket/socket"
	"github.com/kleeedolinux/actionsocket/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeOverSocket(t *testing.T) {
	for _, transportName := range []string{socket.TransportWebSocket, socket.TransportPolling} {
		t.Run(transportName, func(t *testing.T) {
			server := socket.NewServer(socket.WithPollWait(100 * time.Millisecond))
			mux := http.NewServeMux()
			mux.Handle("/socket", server)
			mux.Handle("/socket/", server)
			ts := httptest.NewServer(mux)
			t.Cleanup(func() {
				server.Shutdown(context.Background())
				ts.Close()
			})

			type inbound struct {
				peer  socket.Socket
				event socket.Event
				data  any
			}
			received := make(chan inbound, 8)
			server.HandleAny(func(s socket.Socket, event socket.Event, data any) {
				received <- inbound{peer: s, event: event, data: data}
			})

			host := app.New("test")
			st := store.New(counter{})
			st.RegisterMutation("add", func(state *counter, payload any) {
				var n int
				store.DecodePayload(payload, &n)
				state.Count += n
			})
			st.RegisterAction("increment", func(_ context.Context, c *store.Context[counter], payload any) error {
				return c.Commit("add", payload)
			})
			st.RegisterAction("decrement", func(_ context.Context, c *store.Context[counter], payload any) error {
				var n int
				if err := store.DecodePayload(payload, &n); err != nil {
					return err
				}
				return c.Commit("add", -n)
			})

			ctx, cancel := context.WithTimeout(context.Background(), testutil.DefaultWaitTimeout)
			defer cancel()
			b, err := Install[counter](ctx, host, Config{
				Connection:    ts.URL + "/socket",
				SocketOptions: map[string]any{"transport": transportName},
			}, st)
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })

			_, ok := b.Socket().(*socket.Client)
			assert.True(t, ok)

			next := func() inbound {
				select {
				case in := <-received:
					return in
				case <-time.After(testutil.DefaultWaitTimeout):
					t.Fatal("timeout waiting for the server")
				}
				return inbound{}
			}

			require.NoError(t, st.Dispatch(context.Background(), "increment", 5))
			first := next()
			assert.Equal(t, socket.Event("increment"), first.event)
			assert.Equal(t, float64(5), first.data)

			require.NoError(t, first.peer.Emit("reset", nil))
			require.NoError(t, first.peer.Emit("decrement", 2))

			require.Eventually(t, func() bool {
				return st.State().Count == 3
			}, testutil.DefaultWaitTimeout, 10*time.Millisecond)

			echo := next()
			assert.Equal(t, socket.Event("decrement"), echo.event)
			assert.Equal(t, float64(2), echo.data)
		})
	}
}

func TestBridgeActionNamesOverSocket(t *testing.T) {
	server := socket.NewServer(socket.WithPollWait(100 * time.Millisecond))
	mux := http.NewServeMux()
	mux.Handle("/socket", server)
	mux.Handle("/socket/", server)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Shutdown(context.Background())
		ts.Close()
	})

	received := make(chan socket.Event, 8)
	server.HandleAny(func(s socket.Socket, event socket.Event, data any) {
		received <- event
		if event == "increment" {
			s.Emit("join", "lobby")
			s.Emit("error", "boom")
		}
	})

	st := store.New(counter{})
	for _, name := range []string{"join", "error", "increment"} {
		st.RegisterAction(name, func(context.Context, *store.Context[counter], any) error { return nil })
	}

	ctx, cancel := context.WithTimeout(context.Background(), testutil.DefaultWaitTimeout)
	defer cancel()
	b, err := Install[counter](ctx, app.New("test"), Config{Connection: ts.URL + "/socket"}, st)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	require.NoError(t, st.Dispatch(context.Background(), "join", "lobby"))
	require.NoError(t, st.Dispatch(context.Background(), "error", "boom"))
	require.NoError(t, st.Dispatch(context.Background(), "increment", 1))

	var events []socket.Event
	for len(events) < 5 {
		select {
		case event := <-received:
			events = append(events, event)
		case <-time.After(testutil.DefaultWaitTimeout):
			t.Fatalf("timeout, got %v", events)
		}
	}
	// The last two are the store re-emitting the server's join and error.
	assert.Equal(t, []socket.Event{"join", "error", "increment", "join", "error"}, events)
	assert.Empty(t, server.In("lobby"))
}

func TestBridgeServerStartsLater(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	st, _ := newCounterStore(t)
	host := app.New("test")
	ctx, cancel := context.WithTimeout(context.Background(), testutil.DefaultWaitTimeout)
	defer cancel()
	b, err := Install[counter](ctx, host, Config{
		Connection: "http://" + addr + "/socket",
		SocketOptions: map[string]any{
			"transport":         socket.TransportPolling,
			"reconnectDelay":    20,
			"maxReconnectDelay": 100,
			"reconnectJitter":   0.0,
			"reconnectAttempts": -1,
		},
	}, st)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	sock, ok := SocketFrom(host)
	require.True(t, ok)
	client, ok := sock.(*socket.Client)
	require.True(t, ok)
	assert.False(t, client.IsConnected())

	require.NoError(t, st.Dispatch(context.Background(), "increment", 4))

	server := socket.NewServer(socket.WithPollWait(100 * time.Millisecond))
	received := make(chan socket.Event, 4)
	server.HandleAny(func(s socket.Socket, event socket.Event, data any) {
		received <- event
	})
	mux := http.NewServeMux()
	mux.Handle("/socket", server)
	mux.Handle("/socket/", server)

	l, err = net.Listen("tcp", addr)
	require.NoError(t, err)
	ts := httptest.NewUnstartedServer(mux)
	ts.Listener.Close()
	ts.Listener = l
	ts.Start()
	t.Cleanup(func() {
		server.Shutdown(context.Background())
		ts.Close()
	})

	select {
	case event := <-received:
		assert.Equal(t, socket.Event("increment"), event)
	case <-time.After(testutil.DefaultWaitTimeout):
		t.Fatal("timeout waiting for the buffered action")
	}
	assert.True(t, client.IsConnected())
}
